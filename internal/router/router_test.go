package router

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/codec"
)

type fakeTransport struct {
	mu        sync.Mutex
	kind      TransportKind
	reachable map[codec.PeerID]bool
	fail      map[codec.PeerID]bool
	sent      map[codec.PeerID][][]byte
}

func newFakeTransport(kind TransportKind) *fakeTransport {
	return &fakeTransport{
		kind:      kind,
		reachable: make(map[codec.PeerID]bool),
		fail:      make(map[codec.PeerID]bool),
		sent:      make(map[codec.PeerID][][]byte),
	}
}

func (f *fakeTransport) Kind() TransportKind { return f.kind }

func (f *fakeTransport) IsPeerReachable(peer codec.PeerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reachable[peer]
}

func (f *fakeTransport) SendPrivate(peer codec.PeerID, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[peer] {
		return errors.New("send failed")
	}
	f.sent[peer] = append(f.sent[peer], payload)
	return nil
}

func (f *fakeTransport) setReachable(peer codec.PeerID, v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reachable[peer] = v
}

func (f *fakeTransport) sentCount(peer codec.PeerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent[peer])
}

func peerID(b byte) codec.PeerID {
	var id codec.PeerID
	id[0] = b
	return id
}

func TestSendPrivateDeliversImmediatelyWhenReachable(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(1)
	tr := newFakeTransport(TransportMesh)
	tr.setReachable(peer, true)
	rt.AddTransport(tr)

	queued := rt.SendPrivate(peer, "alice", [16]byte{1}, []byte("hi"), KindMessage, time.Now())
	r.False(queued)
	r.Equal(0, rt.OutboxLen(peer))
	r.Equal(1, tr.sentCount(peer))
}

func TestSendPrivateQueuesWhenNoTransportReachable(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(2)
	tr := newFakeTransport(TransportMesh)
	rt.AddTransport(tr)

	queued := rt.SendPrivate(peer, "bob", [16]byte{2}, []byte("hi"), KindMessage, time.Now())
	r.True(queued)
	r.Equal(1, rt.OutboxLen(peer))
}

func TestReceiptsAreDroppedNotQueued(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(3)
	queued := rt.SendPrivate(peer, "", [16]byte{3}, []byte("ack"), KindDeliveryAck, time.Now())
	r.False(queued)
	r.Equal(0, rt.OutboxLen(peer))
}

func TestCapacityEvictsOldestAndEmitsEvent(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(4)
	now := time.Now()
	for i := 0; i < MaxOutboxPerPeer+1; i++ {
		rt.SendPrivate(peer, "", [16]byte{byte(i)}, []byte{byte(i)}, KindMessage, now)
	}
	r.Equal(MaxOutboxPerPeer, rt.OutboxLen(peer))

	select {
	case ev := <-rt.Events():
		r.Equal("capacity", ev.Reason)
		r.Equal(byte(0), ev.Entry.MessageID[0])
	default:
		t.Fatal("expected a capacity eviction event")
	}
}

func TestFlushDeliversQueuedEntriesInOrderOnceReachable(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(5)
	tr := newFakeTransport(TransportMesh)
	rt.AddTransport(tr)

	now := time.Now()
	for i := 0; i < 3; i++ {
		queued := rt.SendPrivate(peer, "", [16]byte{byte(i)}, []byte{byte(i)}, KindMessage, now)
		r.True(queued)
	}
	r.Equal(3, rt.OutboxLen(peer))

	tr.setReachable(peer, true)
	rt.Flush(peer)

	r.Equal(0, rt.OutboxLen(peer))
	r.Equal(3, tr.sentCount(peer))
}

func TestFlushStopsAtFirstFailureAndKeepsRemainder(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(6)
	tr := newFakeTransport(TransportMesh)
	rt.AddTransport(tr)

	now := time.Now()
	for i := 0; i < 3; i++ {
		rt.SendPrivate(peer, "", [16]byte{byte(i)}, []byte{byte(i)}, KindMessage, now)
	}

	tr.setReachable(peer, true)
	tr.mu.Lock()
	tr.fail[peer] = true
	tr.mu.Unlock()

	rt.Flush(peer)
	r.Equal(3, rt.OutboxLen(peer))
	r.Equal(0, tr.sentCount(peer))
}

func TestExpireSweepDiscardsEntriesPastMaxAge(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(7)
	stale := time.Now().Add(-OutboxMaxAge - time.Minute)
	queued := rt.SendPrivate(peer, "", [16]byte{9}, []byte("old"), KindMessage, stale)
	r.True(queued)
	r.Equal(1, rt.OutboxLen(peer))

	expired := rt.ExpireSweep(time.Now())
	r.Len(expired, 1)
	r.Equal("expired", "expired")
	r.Equal(0, rt.OutboxLen(peer))

	select {
	case ev := <-rt.Events():
		r.Equal("expired", ev.Reason)
	default:
		t.Fatal("expected an expiry eviction event")
	}
}

func TestWipeClearsAllOutboxes(t *testing.T) {
	r := require.New(t)
	rt := New(nil)
	rt.Start()
	defer rt.Stop()

	peer := peerID(8)
	rt.SendPrivate(peer, "", [16]byte{1}, []byte("x"), KindMessage, time.Now())
	r.Equal(1, rt.OutboxLen(peer))

	rt.Wipe()
	r.Equal(0, rt.OutboxLen(peer))
}
