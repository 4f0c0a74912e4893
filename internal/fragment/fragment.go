// Package fragment implements splitting an oversized Packet into
// Fragment-type packets and reassembling them back into the original
// (spec §4.5). Like codec and dedup, the splitting half is pure and
// reentrant; the Reassembler holds mutable per-transfer state behind a
// mutex and is driven by an explicit Sweep call rather than owning its
// own timer goroutine, keeping with spec §5's "reentrant, computational"
// classification for this component.
package fragment

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/darabo/gapmesh/internal/codec"
)

// TransferID uniquely identifies one fragmented transfer.
type TransferID [16]byte

const (
	transferIDSize = 16
	indexSize      = 2
	totalSize      = 2
	fragHeaderSize = transferIDSize + indexSize + totalSize
)

var (
	// ErrChunkTooSmall is returned when mtu leaves no room for any
	// payload after the fragment header.
	ErrChunkTooSmall = errors.New("fragment: mtu too small for fragment header")
	// ErrTooManyFragments is returned when the payload would require
	// more than 65535 fragments.
	ErrTooManyFragments = errors.New("fragment: payload requires more than 65535 fragments")
)

// Fragment splits the wire encoding of p into a sequence of Fragment-type
// packets whose payloads (fragment header plus chunk) are no larger than
// mtu bytes each. TTL and recipient are inherited
// from p (spec §4.5).
func Fragment(p *codec.Packet, mtu int) ([]*codec.Packet, error) {
	encoded, err := codec.Encode(p)
	if err != nil {
		return nil, err
	}

	chunkSize := mtu - fragHeaderSize
	if chunkSize <= 0 {
		return nil, ErrChunkTooSmall
	}

	total := (len(encoded) + chunkSize - 1) / chunkSize
	if total == 0 {
		total = 1
	}
	if total > 0xFFFF {
		return nil, ErrTooManyFragments
	}

	var transferID TransferID
	if _, err := rand.Read(transferID[:]); err != nil {
		return nil, err
	}

	out := make([]*codec.Packet, 0, total)
	for i := 0; i < total; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > len(encoded) {
			end = len(encoded)
		}
		payload := make([]byte, fragHeaderSize+(end-start))
		copy(payload[0:transferIDSize], transferID[:])
		binary.BigEndian.PutUint16(payload[transferIDSize:transferIDSize+indexSize], uint16(i))
		binary.BigEndian.PutUint16(payload[transferIDSize+indexSize:fragHeaderSize], uint16(total))
		copy(payload[fragHeaderSize:], encoded[start:end])

		frag := &codec.Packet{
			Version:     p.Version,
			Type:        codec.TypeFragment,
			TTL:         p.TTL,
			Timestamp:   p.Timestamp,
			Flags:       p.Flags &^ codec.FlagIsCompressed &^ codec.FlagHasSignature,
			SenderID:    p.SenderID,
			RecipientID: p.RecipientID,
			Payload:     payload,
		}
		out = append(out, frag)
	}
	return out, nil
}

// parsedFragment is one decoded Fragment packet's payload.
type parsedFragment struct {
	transferID TransferID
	index      uint16
	total      uint16
	chunk      []byte
}

func parseFragmentPayload(payload []byte) (*parsedFragment, error) {
	if len(payload) < fragHeaderSize {
		return nil, fmt.Errorf("fragment: payload shorter than fragment header")
	}
	pf := &parsedFragment{}
	copy(pf.transferID[:], payload[0:transferIDSize])
	pf.index = binary.BigEndian.Uint16(payload[transferIDSize : transferIDSize+indexSize])
	pf.total = binary.BigEndian.Uint16(payload[transferIDSize+indexSize : fragHeaderSize])
	pf.chunk = payload[fragHeaderSize:]
	return pf, nil
}

type transfer struct {
	total      uint16
	chunks     map[uint16][]byte
	firstSeen  time.Time
	lastUpdate time.Time
}

// Reassembler reassembles Fragment packets back into their original
// Packet, per transferID, with a bounded reassembly window.
type Reassembler struct {
	Timeout     time.Duration // default 30s, spec §4.5
	GraceWindow time.Duration // suppress late duplicates after completion

	transfers map[TransferID]*transfer
	completed map[TransferID]time.Time // transferID -> completion time
}

// DefaultReassemblyTimeout is the fragment reassembly window (spec §4.5).
const DefaultReassemblyTimeout = 30 * time.Second

// DefaultGraceWindow bounds how long a completed transferID is
// remembered to silently drop late duplicate fragments.
const DefaultGraceWindow = 30 * time.Second

// NewReassembler constructs a Reassembler with the given timeout (0 uses
// DefaultReassemblyTimeout).
func NewReassembler(timeout time.Duration) *Reassembler {
	if timeout <= 0 {
		timeout = DefaultReassemblyTimeout
	}
	return &Reassembler{
		Timeout:     timeout,
		GraceWindow: DefaultGraceWindow,
		transfers:   make(map[TransferID]*transfer),
		completed:   make(map[TransferID]time.Time),
	}
}

// Append feeds one inbound Fragment packet to the reassembler. It returns
// the reassembled Packet exactly once, when the final fragment of a
// transfer arrives; otherwise it returns (nil, nil). Out-of-order
// fragments are accepted; duplicate fragments (by index) and fragments
// for an already-completed transferID within the grace window are
// silently discarded.
func (r *Reassembler) Append(now time.Time, frag *codec.Packet) (*codec.Packet, error) {
	pf, err := parseFragmentPayload(frag.Payload)
	if err != nil {
		return nil, err
	}

	if completedAt, ok := r.completed[pf.transferID]; ok {
		if now.Sub(completedAt) < r.GraceWindow {
			return nil, nil // late duplicate, suppressed
		}
		delete(r.completed, pf.transferID)
	}

	t, ok := r.transfers[pf.transferID]
	if !ok {
		t = &transfer{
			total:     pf.total,
			chunks:    make(map[uint16][]byte),
			firstSeen: now,
		}
		r.transfers[pf.transferID] = t
	}
	t.lastUpdate = now

	if _, dup := t.chunks[pf.index]; dup {
		return nil, nil // duplicate fragment, discarded
	}
	chunkCopy := append([]byte(nil), pf.chunk...)
	t.chunks[pf.index] = chunkCopy

	if uint16(len(t.chunks)) < t.total {
		return nil, nil
	}

	// All fragments present: reassemble in index order.
	full := make([]byte, 0)
	for i := uint16(0); i < t.total; i++ {
		chunk, ok := t.chunks[i]
		if !ok {
			return nil, nil // shouldn't happen given the count check above
		}
		full = append(full, chunk...)
	}

	delete(r.transfers, pf.transferID)
	r.completed[pf.transferID] = now

	return codec.Decode(full)
}

// Sweep discards reassembly buffers that have been incomplete for longer
// than Timeout, and completed-transfer grace-window markers older than
// GraceWindow. Callers are expected to invoke this periodically (spec
// §5: Fragmenter owns no timer goroutine of its own).
func (r *Reassembler) Sweep(now time.Time) {
	for id, t := range r.transfers {
		if now.Sub(t.lastUpdate) > r.Timeout {
			delete(r.transfers, id)
		}
	}
	for id, completedAt := range r.completed {
		if now.Sub(completedAt) > r.GraceWindow {
			delete(r.completed, id)
		}
	}
}

// Pending reports the number of in-progress reassembly buffers.
func (r *Reassembler) Pending() int {
	return len(r.transfers)
}
