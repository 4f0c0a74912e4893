package controller

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/config"
	"github.com/darabo/gapmesh/internal/platform"
)

// memKeychain is a trivial in-memory platform.Keychain for tests.
type memKeychain struct {
	data map[string][]byte
}

func newMemKeychain() *memKeychain { return &memKeychain{data: make(map[string][]byte)} }

func (k *memKeychain) Get(name string) ([]byte, bool) { b, ok := k.data[name]; return b, ok }
func (k *memKeychain) Set(name string, value []byte)  { k.data[name] = value }
func (k *memKeychain) Delete(name string)             { delete(k.data, name) }
func (k *memKeychain) WipeAll()                       { k.data = make(map[string][]byte) }

func newTestController(t *testing.T) *Controller {
	cfg := &config.Config{DataDir: t.TempDir()}
	c, err := New(Options{
		Cfg:      cfg,
		BLE:      platform.NullBLE{},
		Keychain: newMemKeychain(),
		Clock:    platform.NewSystemClock(),
	})
	require.NoError(t, err)
	t.Cleanup(c.Halt)
	return c
}

func TestNewWithBothTransportsDisabled(t *testing.T) {
	c := newTestController(t)
	require.Nil(t, c.mesh)
	require.Nil(t, c.net)
	require.NotNil(t, c.id)
}

func TestDispatchInboundAnnounceTracksPeer(t *testing.T) {
	c := newTestController(t)
	peer := codec.PeerID{1, 2, 3}

	c.dispatchInbound(&codec.Packet{
		Type:     codec.TypeAnnounce,
		SenderID: peer,
		Payload:  []byte("alice"),
	})

	require.Equal(t, "alice", c.peerNickname(peer))

	select {
	case ev := <-c.EventSink:
		appeared, ok := ev.(PeerAppearedEvent)
		require.True(t, ok)
		require.Equal(t, peer, appeared.PeerID)
		require.Equal(t, "alice", appeared.Nickname)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for PeerAppearedEvent")
	}
}

func TestDispatchInboundBlockedPeerDropped(t *testing.T) {
	c := newTestController(t)
	peer := codec.PeerID{4, 5, 6}

	c.dispatchInbound(&codec.Packet{Type: codec.TypeAnnounce, SenderID: peer, Payload: []byte("bob")})
	<-c.EventSink // drain the PeerAppearedEvent

	c.mu.Lock()
	c.peers[peer].blocked = true
	c.mu.Unlock()

	c.dispatchInbound(&codec.Packet{Type: codec.TypeMessage, SenderID: peer, Payload: []byte("hi")})

	select {
	case ev := <-c.EventSink:
		t.Fatalf("expected no event from a blocked peer, got %#v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDispatchInboundMessageEmitsMentions(t *testing.T) {
	c := newTestController(t)
	peer := codec.PeerID{7, 8, 9}

	c.dispatchInbound(&codec.Packet{Type: codec.TypeMessage, SenderID: peer, Payload: []byte("hey @alice")})

	select {
	case ev := <-c.EventSink:
		msg, ok := ev.(MessageReceivedEvent)
		require.True(t, ok)
		require.Equal(t, []string{"alice"}, msg.Mentions)
		require.False(t, msg.Private)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for MessageReceivedEvent")
	}
}

func TestSendPublicWithoutMeshReturnsError(t *testing.T) {
	c := newTestController(t)
	require.ErrorIs(t, c.SendPublic("hello"), errNoMeshTransport)
}

func TestHandleInputUnknownCommandEmitsSystemEvent(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.HandleInput("/bogus"))

	select {
	case ev := <-c.EventSink:
		sys, ok := ev.(SystemEvent)
		require.True(t, ok)
		require.Contains(t, sys.Text, "unknown command")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SystemEvent")
	}
}

func TestHandleInputMessageToUnknownPeer(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.HandleInput("/m nobody hi there"))

	select {
	case ev := <-c.EventSink:
		sys, ok := ev.(SystemEvent)
		require.True(t, ok)
		require.Contains(t, sys.Text, "no such peer")
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for SystemEvent")
	}
}

func TestPanicWipeClearsStateAndKeychain(t *testing.T) {
	c := newTestController(t)
	peer := codec.PeerID{1, 1, 1}
	c.touchPeer(peer, "carol")
	<-c.EventSink // drain PeerAppeared

	c.PanicWipe()

	require.Empty(t, c.peerNickname(peer))

	idStore2 := c.idStore
	_, err := idStore2.Load(nil)
	require.Error(t, err)
}
