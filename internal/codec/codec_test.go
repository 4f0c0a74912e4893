package codec

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func samplePacket(version uint8) *Packet {
	rid := PeerID{9, 9, 9, 9, 9, 9, 9, 9}
	return &Packet{
		Version:     version,
		Type:        TypeMessage,
		TTL:         7,
		Timestamp:   1700000000000,
		Flags:       FlagHasRecipient,
		SenderID:    PeerID{1, 2, 3, 4, 5, 6, 7, 8},
		RecipientID: &rid,
		Payload:     []byte("hello mesh"),
	}
}

func TestRoundTripV1(t *testing.T) {
	r := require.New(t)
	p := samplePacket(1)

	b, err := Encode(p)
	r.NoError(err)
	r.Len(b, 14+8+8+len(p.Payload))

	got, err := Decode(b)
	r.NoError(err)
	r.Equal(p.Version, got.Version)
	r.Equal(p.Type, got.Type)
	r.Equal(p.TTL, got.TTL)
	r.Equal(p.Timestamp, got.Timestamp)
	r.Equal(p.Flags, got.Flags)
	r.Equal(p.SenderID, got.SenderID)
	r.Equal(*p.RecipientID, *got.RecipientID)
	r.Equal(p.Payload, got.Payload)
}

func TestRoundTripV2WithSignature(t *testing.T) {
	r := require.New(t)
	p := samplePacket(2)
	p.Flags |= FlagHasSignature
	var sig [SignatureSize]byte
	for i := range sig {
		sig[i] = byte(i)
	}
	p.Signature = &sig

	b, err := Encode(p)
	r.NoError(err)
	r.Len(b, 16+8+8+len(p.Payload)+SignatureSize)

	got, err := Decode(b)
	r.NoError(err)
	r.Equal(*p.Signature, *got.Signature)
}

func TestRoundTripBroadcastNoRecipient(t *testing.T) {
	r := require.New(t)
	p := samplePacket(1)
	p.Flags = 0
	p.RecipientID = nil

	b, err := Encode(p)
	r.NoError(err)
	got, err := Decode(b)
	r.NoError(err)
	r.Nil(got.RecipientID)
}

func TestCompressedPayloadRoundTrip(t *testing.T) {
	r := require.New(t)
	p := samplePacket(1)
	p.Flags |= FlagIsCompressed
	p.Payload = []byte("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")

	b, err := Encode(p)
	r.NoError(err)

	got, err := Decode(b)
	r.NoError(err)
	r.Equal(p.Payload, got.Payload)
}

func TestDecodeUnknownVersion(t *testing.T) {
	r := require.New(t)
	_, err := Decode([]byte{3, 0, 0, 0})
	r.ErrorIs(err, ErrUnknownVersion)
}

func TestDecodeTruncated(t *testing.T) {
	r := require.New(t)
	p := samplePacket(1)
	b, err := Encode(p)
	r.NoError(err)

	_, err = Decode(b[:5])
	r.ErrorIs(err, ErrTruncated)
}

func TestDecodeHardCap(t *testing.T) {
	r := require.New(t)
	c := &Codec{MaxDecodeLen: 4}
	p := samplePacket(1)
	p.Flags = 0
	p.RecipientID = nil
	b, err := Encode(p)
	r.NoError(err)

	_, err = c.Decode(b)
	r.ErrorIs(err, ErrPayloadTooLarge)
}

func TestPadUnpadIdempotence(t *testing.T) {
	r := require.New(t)
	lengths := []int{
		0, 1, 17, 100, 200,
		// every block-size boundary and its immediate neighbors, where
		// a single trailing pad-count byte would have wrapped mod 256
		254, 255, 256, 257,
		510, 511, 512, 513,
		766, 767, 768, 769,
		1022, 1023, 1024, 1025,
		1790, 1791, 1792, 1793,
		2046, 2047,
	}
	for _, n := range lengths {
		x := make([]byte, n)
		for i := range x {
			x[i] = byte(i)
		}
		padded, err := Pad(x)
		r.NoError(err, "len=%d", n)
		r.Contains(BlockSizes, len(padded), "len=%d", n)

		unpadded, err := Unpad(padded)
		r.NoError(err, "len=%d", n)
		r.Equal(x, unpadded, "len=%d", n)
	}
}

func TestPadRejectsOversizedFrame(t *testing.T) {
	r := require.New(t)
	_, err := Pad(make([]byte, 2049))
	r.ErrorIs(err, ErrFrameTooLarge)
}

func TestPadRejectsFrameWithNoRoomForMarker(t *testing.T) {
	r := require.New(t)
	_, err := Pad(make([]byte, MaxUnfragmentedFrame))
	r.ErrorIs(err, ErrFrameTooLarge)
}

func TestUnpadRejectsAllZeroBlock(t *testing.T) {
	r := require.New(t)
	_, err := Unpad(make([]byte, 256))
	r.ErrorIs(err, ErrBadPadding)
}
