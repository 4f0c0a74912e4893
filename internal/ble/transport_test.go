package ble

import (
	"context"
	"sync"
	"testing"
	"time"

	hpqcrand "github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/nyquist/dh"
	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/dedup"
	"github.com/darabo/gapmesh/internal/platform"
	"github.com/darabo/gapmesh/internal/uuidrotate"
)

// fakeMedium pairs two fakeBLE endpoints over a pair of buffered byte
// channels, standing in for the bidirectional GATT link the real platform
// presents regardless of which side dialed.
type fakeMedium struct {
	aToB chan []byte
	bToA chan []byte
}

func newFakeMedium() *fakeMedium {
	return &fakeMedium{
		aToB: make(chan []byte, 256),
		bToA: make(chan []byte, 256),
	}
}

type fakeConn struct {
	send chan []byte
}

func (fakeConn) Close() error { return nil }

type fakeBLE struct {
	mu            sync.Mutex
	self          string
	peerRef       string
	medium        *fakeMedium
	selfIsA       bool
	discoveryOnce sync.Once
	scanCh        chan platform.Discovery
}

func newFakeBLE(self, peerRef string, m *fakeMedium, selfIsA bool) *fakeBLE {
	return &fakeBLE{
		self:    self,
		peerRef: peerRef,
		medium:  m,
		selfIsA: selfIsA,
		scanCh:  make(chan platform.Discovery, 4),
	}
}

func (f *fakeBLE) Advertise(ctx context.Context, serviceUUIDs [][16]byte, characteristicUUID [16]byte) error {
	return nil
}

func (f *fakeBLE) Scan(ctx context.Context, serviceUUIDs [][16]byte) (<-chan platform.Discovery, error) {
	f.discoveryOnce.Do(func() {
		f.scanCh <- platform.Discovery{DeviceRef: f.peerRef}
	})
	return f.scanCh, nil
}

func (f *fakeBLE) Connect(ctx context.Context, deviceRef string) (platform.Conn, error) {
	if f.selfIsA {
		return fakeConn{send: f.medium.aToB}, nil
	}
	return fakeConn{send: f.medium.bToA}, nil
}

func (f *fakeBLE) WriteCharacteristic(ctx context.Context, conn platform.Conn, b []byte) error {
	conn.(fakeConn).send <- b
	return nil
}

func (f *fakeBLE) SubscribeNotifications(conn platform.Conn) (<-chan []byte, error) {
	if f.selfIsA {
		return f.medium.bToA, nil
	}
	return f.medium.aToB, nil
}

func (f *fakeBLE) Disconnect(conn platform.Conn) {}

func genKeypair(t *testing.T) dh.Keypair {
	t.Helper()
	kp, err := dh.X25519.GenerateKeypair(hpqcrand.Reader)
	require.NoError(t, err)
	return kp
}

func idOf(kp dh.Keypair) codec.PeerID {
	var id codec.PeerID
	copy(id[:], kp.Public().Bytes())
	return id
}

func TestTransportHandshakeAndPrivateMessageRoundTrip(t *testing.T) {
	r := require.New(t)
	m := newFakeMedium()

	aKey := genKeypair(t)
	bKey := genKeypair(t)
	aID := idOf(aKey)
	bID := idOf(bKey)

	var receivedMu sync.Mutex
	var receivedByB []Inbound

	aBLE := newFakeBLE("a", "b", m, true)
	bBLE := newFakeBLE("b", "a", m, false)

	a := New(aBLE, uuidrotate.New(nil, false), dedup.New(256), nil, nil, aKey, aID, "a", Config{}, func(in Inbound) {})
	b := New(bBLE, uuidrotate.New(nil, false), dedup.New(256), nil, nil, bKey, bID, "b", Config{}, func(in Inbound) {
		receivedMu.Lock()
		receivedByB = append(receivedByB, in)
		receivedMu.Unlock()
	})
	a.SetNickname("alice")
	b.SetNickname("bob")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	defer a.Halt()
	defer b.Halt()

	a.Start(ctx)
	b.Start(ctx)

	r.Eventually(func() bool {
		return a.IsPeerReachable(bID) && b.IsPeerReachable(aID)
	}, 3*time.Second, 10*time.Millisecond, "handshake should complete on both sides")

	err := a.SendPrivate(bID, []byte("hello bob"))
	r.NoError(err)

	r.Eventually(func() bool {
		receivedMu.Lock()
		defer receivedMu.Unlock()
		for _, in := range receivedByB {
			if in.Packet.Type == codec.TypeMessage && string(in.Packet.Payload) == "hello bob" {
				return true
			}
		}
		return false
	}, 3*time.Second, 10*time.Millisecond, "b should receive the decrypted private message")
}
