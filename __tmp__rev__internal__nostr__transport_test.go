package nostr

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nyquist/dh"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/dedup"
	"github.com/darabo/gapmesh/internal/favorites"
	"github.com/darabo/gapmesh/internal/noise"
	"github.com/darabo/gapmesh/internal/noisesession"
)

// fakeRelayServer is a minimal in-process stand-in for a real Nostr
// relay: it accepts any REQ and, on EVENT, rebroadcasts the event to
// every other connected socket. It does not persist or filter events,
// since this module's tests only exercise a single live subscription.
type fakeRelayServer struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	upgrade websocket.Upgrader
}

func newFakeRelayServer() *fakeRelayServer {
	return &fakeRelayServer{clients: make(map[*websocket.Conn]bool)}
}

func (s *fakeRelayServer) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var frame []json.RawMessage
		if err := json.Unmarshal(raw, &frame); err != nil || len(frame) < 2 {
			continue
		}
		var label string
		json.Unmarshal(frame[0], &label)
		if label != msgEvent {
			continue
		}
		s.broadcastExcept(conn, frame[1])
	}
}

func (s *fakeRelayServer) broadcastExcept(origin *websocket.Conn, evt json.RawMessage) {
	out := []interface{}{msgEvent, "gapmesh-giftwrap", evt}
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if c == origin {
			continue
		}
		c.WriteJSON(out)
	}
}

func genKeypair(t *testing.T) dh.Keypair {
	t.Helper()
	kp, err := dh.X25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return kp
}

func idOf(kp dh.Keypair) codec.PeerID {
	var id codec.PeerID
	copy(id[:], kp.Public().Bytes())
	return id
}

// establishedPair drives a full Noise XX handshake between two fresh
// sessions, mirroring what ble.Transport would do physically, so this
// package's tests can exercise SendPrivate/onEvent without a mesh link.
func establishedPair(t *testing.T) (*noise.Session, *noise.Session) {
	t.Helper()
	r := require.New(t)

	a := noise.New(noise.RoleInitiator, genKeypair(t))
	b := noise.New(noise.RoleResponder, genKeypair(t))

	msg1, _, err := a.Advance(nil)
	r.NoError(err)
	msg2, _, err := b.Advance(msg1)
	r.NoError(err)
	msg3, estA, err := a.Advance(msg2)
	r.NoError(err)
	r.True(estA)
	_, estB, err := b.Advance(msg3)
	r.NoError(err)
	r.True(estB)

	return a, b
}

func TestTransportGiftWrapRoundTrip(t *testing.T) {
	r := require.New(t)

	server := newFakeRelayServer()
	httpServer := httptest.NewServer(http.HandlerFunc(server.handler))
	defer httpServer.Close()
	wsURL := "ws://" + strings.TrimPrefix(httpServer.URL, "http://")

	aNoise, bNoise := establishedPair(t)

	aMeshKey := genKeypair(t)
	bMeshKey := genKeypair(t)
	aPeerID := idOf(aMeshKey)
	bPeerID := idOf(bMeshKey)

	aSessions := noisesession.NewStore()
	bSessions := noisesession.NewStore()
	aSessions.Put(bPeerID, aNoise)
	bSessions.Put(aPeerID, bNoise)

	aNostrPriv, err := btcec.NewPrivateKey()
	r.NoError(err)
	bNostrPriv, err := btcec.NewPrivateKey()
	r.NoError(err)

	aHex := hexStr(aNostrPriv)
	bHex := hexStr(bNostrPriv)

	aFavorites := favorites.NewStore(newMemKeychain())
	bFavorites := favorites.NewStore(newMemKeychain())
	r.NoError(aFavorites.SetLocalFavorite(bPeerID, bMeshKey.Public().Bytes(), true))
	_, _, err = aFavorites.ApplyRemoteNotification(bPeerID, bMeshKey.Public().Bytes(), true, bHex)
	r.NoError(err)
	r.NoError(bFavorites.SetLocalFavorite(aPeerID, aMeshKey.Public().Bytes(), true))
	_, _, err = bFavorites.ApplyRemoteNotification(aPeerID, aMeshKey.Public().Bytes(), true, aHex)
	r.NoError(err)

	var receivedMu sync.Mutex
	var receivedByB []Inbound

	a := New(aNostrPriv, aPeerID, aSessions, aFavorites, dedup.New(256), nil, Config{RelayURLs: []string{wsURL}}, func(in Inbound) {})
	b := New(bNostrPriv, bPeerID, bSessions, bFavorites, dedup.New(256), nil, Config{RelayURLs: []string{wsURL}}, func(in Inbound) {
		receivedMu.Lock()
		receivedByB = append(receivedByB, in)
		receivedMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer a.Halt()
	defer b.Halt()

	a.Start(ctx)
	b.Start(ctx)

	r.Eventually(func() bool {
		return a.IsPeerReachable(bPeerID) && b.IsPeerReachable(aPeerID)
	}, 2*time.Second, 10*time.Millisecond, "mutual favorite + session should make peers reachable")

	// give relay connections time to finish their websocket handshake
	// before the first publish, since the dial happens asynchronously
	// inside Start.
	time.Sleep(200 * time.Millisecond)

	r.NoError(a.SendPrivate(bPeerID, []byte("hello over the internet")))

	r.Eventually(func() bool {
		receivedMu.Lock()
		defer receivedMu.Unlock()
		for _, in := range receivedByB {
			if in.Packet.Type == codec.TypeMessage && string(in.Packet.Payload) == "hello over the internet" {
				return true
			}
		}
		return false
	}, 3*time.Second, 20*time.Millisecond, "b should recover the message through the gift wrap")
}

func hexStr(priv *btcec.PrivateKey) string {
	b := priv.PubKey().SerializeCompressed()[1:]
	const hextable = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hextable[c>>4]
		out[i*2+1] = hextable[c&0x0F]
	}
	return string(out)
}

// memKeychain is a trivial in-memory platform.Keychain for tests.
type memKeychain struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newMemKeychain() *memKeychain { return &memKeychain{data: make(map[string][]byte)} }

func (k *memKeychain) Get(name string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	b, ok := k.data[name]
	return b, ok
}

func (k *memKeychain) Set(name string, value []byte) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data[name] = value
}

func (k *memKeychain) Delete(name string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.data, name)
}

func (k *memKeychain) WipeAll() {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.data = make(map[string][]byte)
}


