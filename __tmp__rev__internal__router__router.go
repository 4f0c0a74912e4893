// Package router implements the per-peer outbox and transport-preference
// arbitration described in spec §4.10: for each outbound private send it
// tries transports in registration order, queuing the send if none
// reports the peer reachable, and flushing a peer's queue in order once
// one becomes reachable. All outbox mutations run on a single internal
// goroutine draining a work channel, following the same worker.Worker
// pattern the teacher's session/timer_queue.go uses to serialize queue
// operations behind one goroutine while staying reentrant from callers.
package router

import (
	"sync"
	"time"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/metrics"
	"github.com/darabo/gapmesh/internal/pqueue"
	"github.com/darabo/gapmesh/internal/worker"
)

// MaxOutboxPerPeer bounds how many queued entries a single peer's outbox
// holds before the oldest is evicted to make room (spec §4.9: "Bounded
// (reject oldest when full)").
const MaxOutboxPerPeer = 64

// OutboxMaxAge is how long an outbox entry survives before it is
// discarded unsent (spec §5).
const OutboxMaxAge = 72 * time.Hour

// TransportKind distinguishes the Router's transport slots (spec §9
// redesign flag: "a variant TransportKind = {Mesh, Internet, Extra}").
type TransportKind int

const (
	TransportMesh TransportKind = iota
	TransportInternet
	TransportExtra
)

func (k TransportKind) String() string {
	switch k {
	case TransportMesh:
		return "mesh"
	case TransportInternet:
		return "internet"
	case TransportExtra:
		return "extra"
	default:
		return "unknown"
	}
}

// Transport is the capability interface the Router depends on; it knows
// nothing about BLE or Nostr specifically (spec §9: "the Router depends
// only on the capability").
type Transport interface {
	Kind() TransportKind
	IsPeerReachable(peer codec.PeerID) bool
	SendPrivate(peer codec.PeerID, payload []byte) error
}

// EntryKind distinguishes queued user messages, retried until delivered
// or expired, from delivery/read receipts, which are best-effort and
// dropped rather than queued (spec §4.10, §7).
type EntryKind int

const (
	KindMessage EntryKind = iota
	KindDeliveryAck
	KindReadAck
)

// OutboxEntry is one queued outbound send (spec §4.9's RouterEntry).
type OutboxEntry struct {
	MessageID         [16]byte
	PeerID            codec.PeerID
	RecipientNickname string
	Payload           []byte
	Kind              EntryKind
	EnqueuedAt        time.Time
	ExpiresAt         time.Time

	expiryEntry *pqueue.Entry
}

// EvictedEvent is emitted when an outbox entry is dropped for capacity
// or age: the system-message event named in spec §7's capacity error.
type EvictedEvent struct {
	Entry  OutboxEntry
	Reason string // "capacity" or "expired"
}

// Router chooses, per outbound private send, the first transport (in
// registration order) reporting the peer reachable; failing that, it
// queues the send in that peer's outbox until a transport becomes
// reachable or the entry expires (spec §4.10). All outbox mutations
// happen on a single internal goroutine processing a work queue, so the
// Router is reentrant without holding a lock across a transport call
// (spec §5: "single-threaded but re-entrant via a work queue").
type Router struct {
	worker.Worker

	transportsMu sync.RWMutex
	transports   []Transport

	workCh  chan func()
	events  chan EvictedEvent
	metrics *metrics.Metrics

	mu       sync.Mutex
	outboxes map[codec.PeerID][]*OutboxEntry
	expiry   *pqueue.PriorityQueue
}

// New constructs a Router with no registered transports. m may be nil.
func New(m *metrics.Metrics) *Router {
	return &Router{
		workCh:   make(chan func(), 256),
		events:   make(chan EvictedEvent, 64),
		metrics:  m,
		outboxes: make(map[codec.PeerID][]*OutboxEntry),
		expiry:   pqueue.New(),
	}
}

// Events returns the channel of capacity/expiry eviction notifications.
func (r *Router) Events() <-chan EvictedEvent { return r.events }

// AddTransport registers a transport in preference order: transports
// added earlier are tried first.
func (r *Router) AddTransport(t Transport) {
	r.transportsMu.Lock()
	defer r.transportsMu.Unlock()
	r.transports = append(r.transports, t)
}

// Start begins the Router's single work goroutine.
func (r *Router) Start() { r.Go(r.run) }

// Stop halts the work goroutine and waits for it to exit.
func (r *Router) Stop() { r.Halt() }

func (r *Router) run() {
	for {
		select {
		case <-r.HaltCh():
			return
		case fn := <-r.workCh:
			fn()
		}
	}
}

// submit runs fn on the Router's single goroutine and blocks until it
// has executed, giving callers a synchronous-looking API over the work
// queue.
func (r *Router) submit(fn func()) {
	done := make(chan struct{})
	r.workCh <- func() {
		fn()
		close(done)
	}
	<-done
}

func (r *Router) reachableTransport(peer codec.PeerID) Transport {
	r.transportsMu.RLock()
	defer r.transportsMu.RUnlock()
	for _, t := range r.transports {
		if t.IsPeerReachable(peer) {
			return t
		}
	}
	return nil
}

// SendPrivate attempts immediate delivery via the first reachable
// transport. Failing that, KindMessage entries are queued in the peer's
// outbox; KindDeliveryAck/KindReadAck entries are dropped instead, per
// the best-effort receipt policy in spec §7. Reports whether the send
// was queued rather than delivered or dropped.
func (r *Router) SendPrivate(peer codec.PeerID, nickname string, messageID [16]byte, payload []byte, kind EntryKind, now time.Time) (queued bool) {
	r.submit(func() {
		if t := r.reachableTransport(peer); t != nil {
			if err := t.SendPrivate(peer, payload); err == nil {
				return
			}
		}
		if kind != KindMessage {
			return
		}
		entry := &OutboxEntry{
			MessageID:         messageID,
			PeerID:            peer,
			RecipientNickname: nickname,
			Payload:           payload,
			Kind:              kind,
			EnqueuedAt:        now,
			ExpiresAt:         now.Add(OutboxMaxAge),
		}
		r.enqueueLocked(entry)
		queued = true
	})
	return queued
}

func (r *Router) enqueueLocked(entry *OutboxEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()

	q := r.outboxes[entry.PeerID]
	if len(q) >= MaxOutboxPerPeer {
		oldest := q[0]
		q = q[1:]
		r.expiry.Remove(oldest.expiryEntry)
		r.emitEvicted(*oldest, "capacity")
	}
	entry.expiryEntry = r.expiry.Enqueue(uint64(entry.ExpiresAt.UnixNano()), entry)
	q = append(q, entry)
	r.outboxes[entry.PeerID] = q
	r.updateDepthMetric(entry.PeerID, len(q))
}

func (r *Router) emitEvicted(entry OutboxEntry, reason string) {
	select {
	case r.events <- EvictedEvent{Entry: entry, Reason: reason}:
	default:
	}
}

func (r *Router) updateDepthMetric(peer codec.PeerID, depth int) {
	if r.metrics == nil || r.metrics.OutboxDepth == nil {
		return
	}
	r.metrics.OutboxDepth.WithLabelValues(peerLabel(peer)).Set(float64(depth))
}

func peerLabel(p codec.PeerID) string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(p)*2)
	for i, b := range p {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0F]
	}
	return string(out)
}

// Flush delivers peer's queued outbox in order via the first reachable
// transport, stopping at the first send that fails and leaving the
// remainder queued for the next flush trigger (spec §4.10: "the Router
// flushes that peer's outbox in order").
func (r *Router) Flush(peer codec.PeerID) {
	r.submit(func() { r.flushLocked(peer) })
}

func (r *Router) flushLocked(peer codec.PeerID) {
	t := r.reachableTransport(peer)
	if t == nil {
		return
	}

	r.mu.Lock()
	q := append([]*OutboxEntry(nil), r.outboxes[peer]...)
	r.mu.Unlock()

	sent := 0
	for _, entry := range q {
		if err := t.SendPrivate(peer, entry.Payload); err != nil {
			break
		}
		sent++
	}
	if sent == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, entry := range q[:sent] {
		r.expiry.Remove(entry.expiryEntry)
	}
	remaining := q[sent:]
	if len(remaining) == 0 {
		delete(r.outboxes, peer)
	} else {
		r.outboxes[peer] = remaining
	}
	r.updateDepthMetric(peer, len(remaining))
}

// ExpireSweep discards every outbox entry whose ExpiresAt is at or
// before now, emitting an EvictedEvent for each (spec §5: "Outbox
// entries older than 72h are discarded"). Callers drive this from their
// own periodic tick.
func (r *Router) ExpireSweep(now time.Time) []OutboxEntry {
	var expired []OutboxEntry
	r.submit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		deadline := uint64(now.UnixNano())
		for {
			top := r.expiry.Peek()
			if top == nil || top.Priority > deadline {
				break
			}
			r.expiry.Pop()
			entry := top.Value.(*OutboxEntry)
			r.removeFromOutboxLocked(entry)
			expired = append(expired, *entry)
			r.emitEvicted(*entry, "expired")
		}
	})
	return expired
}

func (r *Router) removeFromOutboxLocked(entry *OutboxEntry) {
	q := r.outboxes[entry.PeerID]
	for i, e := range q {
		if e == entry {
			q = append(q[:i:i], q[i+1:]...)
			break
		}
	}
	if len(q) == 0 {
		delete(r.outboxes, entry.PeerID)
	} else {
		r.outboxes[entry.PeerID] = q
	}
	r.updateDepthMetric(entry.PeerID, len(q))
}

// OutboxLen reports the number of entries currently queued for peer.
func (r *Router) OutboxLen(peer codec.PeerID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.outboxes[peer])
}

// Wipe empties every outbox (spec §8 scenario 5: panicWipe leaves the
// outbox empty).
func (r *Router) Wipe() {
	r.submit(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.outboxes = make(map[codec.PeerID][]*OutboxEntry)
		r.expiry = pqueue.New()
	})
}


