package streamasm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/codec"
)

func pkt(n byte) *codec.Packet {
	return &codec.Packet{
		Version:   1,
		Type:      codec.TypeMessage,
		TTL:       7,
		Timestamp: uint64(n),
		SenderID:  codec.PeerID{n, n, n, n, n, n, n, n},
		Payload:   []byte{n, n, n},
	}
}

// wireBytes encodes and pads p exactly as prepareWire does, since that's
// what the assembler actually sees back to back on a real connection.
func wireBytes(t *testing.T, p *codec.Packet) []byte {
	t.Helper()
	b, err := codec.Encode(p)
	require.NoError(t, err)
	padded, err := codec.Pad(b)
	require.NoError(t, err)
	return padded
}

func TestAssemblerLivenessArbitraryChunking(t *testing.T) {
	r := require.New(t)

	var all []byte
	var originals []*codec.Packet
	for i := byte(1); i <= 4; i++ {
		p := pkt(i)
		originals = append(originals, p)
		all = append(all, wireBytes(t, p)...)
	}

	// Chunk arbitrarily: 3 bytes at a time.
	asm := New()
	var got []*codec.Packet
	now := time.Now()
	for i := 0; i < len(all); i += 3 {
		end := i + 3
		if end > len(all) {
			end = len(all)
		}
		frames, dropped, reset := asm.Append(now, all[i:end])
		r.False(reset)
		r.Zero(dropped)
		for _, f := range frames {
			unpadded, err := codec.Unpad(f)
			r.NoError(err)
			p, err := codec.Decode(unpadded)
			r.NoError(err)
			got = append(got, p)
		}
	}

	r.Len(got, len(originals))
	for i, p := range got {
		r.Equal(originals[i].Timestamp, p.Timestamp)
		r.Equal(originals[i].SenderID, p.SenderID)
	}
}

func TestAssemblerResyncsOnCorruptedPrefix(t *testing.T) {
	r := require.New(t)
	b := wireBytes(t, pkt(5))

	garbage := append([]byte{0xFF, 0xFF, 0xFF}, b...)

	asm := New()
	frames, dropped, reset := asm.Append(time.Now(), garbage)
	r.False(reset)
	r.Equal(3, dropped)
	r.Len(frames, 1)
}

func TestAssemblerStallResets(t *testing.T) {
	r := require.New(t)
	b := wireBytes(t, pkt(6))

	asm := New()
	asm.StallThreshold = 10 * time.Millisecond

	now := time.Now()
	frames, _, reset := asm.Append(now, b[:len(b)-1]) // withhold final padded byte
	r.Empty(frames)
	r.False(reset)

	later := now.Add(20 * time.Millisecond)
	didReset := asm.CheckStall(later)
	r.True(didReset)
}

func TestAssemblerConsumesFullPaddedBlockNotJustEncodedFrame(t *testing.T) {
	r := require.New(t)
	first := wireBytes(t, pkt(1))
	second := wireBytes(t, pkt(2))

	asm := New()
	frames, dropped, reset := asm.Append(time.Now(), append(first, second...))
	r.False(reset)
	r.Zero(dropped, "the leftover padding bytes after the first frame must not be misread as a corrupted prefix")
	r.Len(frames, 2)

	for i, f := range frames {
		unpadded, err := codec.Unpad(f)
		r.NoError(err)
		p, err := codec.Decode(unpadded)
		r.NoError(err)
		r.Equal(uint64(i+1), p.Timestamp)
	}
}

func TestAssemblerNeverExceedsHardCap(t *testing.T) {
	r := require.New(t)
	asm := New()
	asm.HardCap = 32

	p := pkt(7)
	p.Payload = make([]byte, 100) // forces total frame > hard cap
	b, err := codec.Encode(p)
	r.NoError(err)

	_, _, reset := asm.Append(time.Now(), b)
	r.True(reset)
	r.LessOrEqual(len(asm.buf), asm.HardCap)
}
