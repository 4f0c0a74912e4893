package codec

// BlockSizes is the ordered set of standard frame sizes a padded BLE
// frame is rounded up to (spec §4.1). Frames larger than the largest
// block must be fragmented (C5) rather than padded.
var BlockSizes = []int{256, 512, 1024, 2048}

// MaxUnfragmentedFrame is the largest frame Pad will accept.
const MaxUnfragmentedFrame = 2048

// Pad right-pads b with ISO/IEC 7816-4 style padding out to the smallest
// block size in BlockSizes strictly larger than len(b): a single 0x80
// marker byte followed by zero fill to the block boundary.
//
// A single repeated byte carrying the padding count (PKCS#7-style) was
// tried first and rejected: because BlockSizes doubles (256, 512, 1024,
// 2048) rather than staying within a fixed small stride, the padding
// count can exceed 255 once len(b) is in the upper half of a block (e.g.
// len(b) in (511, 767] pads out to 1024, a count > 255), and a single
// byte can only ever record mod-256 of the true count — silently
// corrupting or outright failing Unpad for more than half the valid
// input range of the two largest block sizes. The 0x80-marker scheme
// has no such ceiling: Unpad only needs to find the marker, never
// reconstruct a count wider than one byte.
func Pad(b []byte) ([]byte, error) {
	// Padding always needs at least one spare byte for the 0x80 marker,
	// so a frame exactly MaxUnfragmentedFrame long (with no strictly
	// larger block to round up into) must be rejected too, not just
	// frames larger than it.
	if len(b) >= MaxUnfragmentedFrame {
		return nil, ErrFrameTooLarge
	}
	block := PaddedSize(len(b))
	out := make([]byte, block)
	copy(out, b)
	out[len(b)] = 0x80
	for i := len(b) + 1; i < block; i++ {
		out[i] = 0x00
	}
	return out, nil
}

// PaddedSize returns the block size in BlockSizes that Pad would round an
// n-byte frame up to. streamasm uses this to recover the on-wire footprint
// of a frame it only knows the unpadded length of, since what BLE actually
// carries back-to-back is padded blocks, not bare encoded packets.
func PaddedSize(n int) int {
	for _, sz := range BlockSizes {
		if n < sz {
			return sz
		}
	}
	return BlockSizes[len(BlockSizes)-1]
}

// Unpad strips ISO/IEC 7816-4 style padding: scanning backward from the
// end of b, every 0x00 byte is zero fill, and the first non-zero byte
// encountered must be the 0x80 marker, per spec §4.1.
func Unpad(b []byte) ([]byte, error) {
	if len(b) == 0 {
		return nil, ErrBadPadding
	}
	i := len(b) - 1
	for i >= 0 && b[i] == 0x00 {
		i--
	}
	if i < 0 || b[i] != 0x80 {
		return nil, ErrBadPadding
	}
	return b[:i], nil
}
