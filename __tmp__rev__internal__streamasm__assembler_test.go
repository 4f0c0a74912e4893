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

func TestAssemblerLivenessArbitraryChunking(t *testing.T) {
	r := require.New(t)

	var all []byte
	var originals []*codec.Packet
	for i := byte(1); i <= 4; i++ {
		p := pkt(i)
		originals = append(originals, p)
		b, err := codec.Encode(p)
		r.NoError(err)
		all = append(all, b...)
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
			p, err := codec.Decode(f)
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
	p := pkt(5)
	b, err := codec.Encode(p)
	r.NoError(err)

	garbage := append([]byte{0xFF, 0xFF, 0xFF}, b...)

	asm := New()
	frames, dropped, reset := asm.Append(time.Now(), garbage)
	r.False(reset)
	r.Equal(3, dropped)
	r.Len(frames, 1)
}

func TestAssemblerStallResets(t *testing.T) {
	r := require.New(t)
	p := pkt(6)
	b, err := codec.Encode(p)
	r.NoError(err)

	asm := New()
	asm.StallThreshold = 10 * time.Millisecond

	now := time.Now()
	frames, _, reset := asm.Append(now, b[:len(b)-1]) // withhold final byte
	r.Empty(frames)
	r.False(reset)

	later := now.Add(20 * time.Millisecond)
	didReset := asm.CheckStall(later)
	r.True(didReset)
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


