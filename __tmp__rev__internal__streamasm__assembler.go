// Package streamasm implements the per-connection BLE notification
// stream framer (spec §4.6): BLE notifications arrive as arbitrarily
// chunked bytes, and one Assembler instance per connection turns that
// byte stream back into complete Packet frames, recovering from
// corruption by dropping a leading byte (resync) or resetting entirely
// when a frame declares an impossible length or stalls mid-arrival.
package streamasm

import (
	"encoding/binary"
	"time"

	"github.com/darabo/gapmesh/internal/codec"
)

// DefaultHardCap bounds the largest frame the assembler will ever buffer.
const DefaultHardCap = 64 * 1024

// DefaultStallThreshold is how long a partially-arrived frame of the
// same declared length may sit in the buffer before the assembler gives
// up and resets (spec §4.6).
const DefaultStallThreshold = 1500 * time.Millisecond

// Assembler reassembles one connection's inbound notification stream
// into complete wire frames.
type Assembler struct {
	HardCap        int
	StallThreshold time.Duration

	buf []byte

	pendingLen   int // 0 when not waiting on a known-length partial frame
	pendingSince time.Time
}

// New constructs an Assembler with spec defaults.
func New() *Assembler {
	return &Assembler{
		HardCap:        DefaultHardCap,
		StallThreshold: DefaultStallThreshold,
	}
}

func (a *Assembler) reset() {
	a.buf = nil
	a.pendingLen = 0
}

// Append feeds newly-arrived bytes into the assembler and returns any
// complete frames produced, the number of leading bytes dropped while
// resynchronizing on a corrupted prefix, and whether the assembler reset
// (discarding all buffered state) due to an oversized or stalled frame.
func (a *Assembler) Append(now time.Time, chunk []byte) (frames [][]byte, droppedPrefixBytes int, didReset bool) {
	a.buf = append(a.buf, chunk...)
	return a.process(now)
}

// CheckStall re-evaluates the stall timer without new data arriving; a
// caller with its own ticking clock can invoke this between Append calls
// so a stalled partial frame is reset promptly even if no further bytes
// ever arrive.
func (a *Assembler) CheckStall(now time.Time) (didReset bool) {
	_, _, reset := a.process(now)
	return reset
}

func (a *Assembler) process(now time.Time) (frames [][]byte, droppedPrefixBytes int, didReset bool) {
	hardCap := a.HardCap
	if hardCap <= 0 {
		hardCap = DefaultHardCap
	}
	stall := a.StallThreshold
	if stall <= 0 {
		stall = DefaultStallThreshold
	}

	for {
		if len(a.buf) < 1 {
			return frames, droppedPrefixBytes, didReset
		}

		version := a.buf[0]
		headerSize, err := codec.HeaderSize(version)
		if err != nil {
			if a.pendingLen > 0 {
				// Version byte changed out from under a known partial
				// frame: the stream is corrupted beyond resync.
				a.reset()
				didReset = true
				return frames, droppedPrefixBytes, didReset
			}
			a.buf = a.buf[1:]
			droppedPrefixBytes++
			continue
		}

		lenFieldSize := 2
		if version == 2 {
			lenFieldSize = 4
		}
		minPrefix := headerSize + 8
		if len(a.buf) < minPrefix {
			return frames, droppedPrefixBytes, didReset
		}

		flags := codec.Flags(a.buf[11])
		var payloadLen int
		switch lenFieldSize {
		case 2:
			payloadLen = int(binary.BigEndian.Uint16(a.buf[12:14]))
		case 4:
			payloadLen = int(binary.BigEndian.Uint32(a.buf[12:16]))
		}
		recipientSize := 0
		if flags.Has(codec.FlagHasRecipient) {
			recipientSize = 8
		}
		sigSize := 0
		if flags.Has(codec.FlagHasSignature) {
			sigSize = codec.SignatureSize
		}
		total := headerSize + 8 + recipientSize + payloadLen + sigSize

		if total > hardCap {
			a.reset()
			didReset = true
			return frames, droppedPrefixBytes, didReset
		}

		if len(a.buf) < total {
			if a.pendingLen != total {
				a.pendingLen = total
				a.pendingSince = now
				return frames, droppedPrefixBytes, didReset
			}
			if now.Sub(a.pendingSince) > stall {
				a.reset()
				didReset = true
			}
			return frames, droppedPrefixBytes, didReset
		}

		frame := make([]byte, total)
		copy(frame, a.buf[:total])
		frames = append(frames, frame)
		a.buf = a.buf[total:]
		a.pendingLen = 0
	}
}


