package favorites

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/codec"
)

type memKeychain struct {
	m map[string][]byte
}

func newMemKeychain() *memKeychain { return &memKeychain{m: make(map[string][]byte)} }

func (k *memKeychain) Get(key string) ([]byte, bool) { v, ok := k.m[key]; return v, ok }
func (k *memKeychain) Set(key string, value []byte)  { k.m[key] = append([]byte(nil), value...) }
func (k *memKeychain) Delete(key string)             { delete(k.m, key) }
func (k *memKeychain) WipeAll()                      { k.m = make(map[string][]byte) }

func peerID(b byte) codec.PeerID {
	var id codec.PeerID
	id[0] = b
	return id
}

func TestSetLocalFavoriteThenRemoteNotificationBecomesMutual(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()
	s := NewStore(kc)
	r.NoError(s.Load())

	peer := peerID(0x01)
	pub := []byte{0xAA, 0xBB}

	r.NoError(s.SetLocalFavorite(peer, pub, true))
	r.False(s.IsMutual(peer))

	event, changed, err := s.ApplyRemoteNotification(peer, pub, true, "npub1xyz")
	r.NoError(err)
	r.True(changed)
	r.True(event.MutualFavorite)
	r.True(s.IsMutual(peer))

	rec, ok := s.Get(peer)
	r.True(ok)
	r.Equal("npub1xyz", rec.NostrPubKey)
}

func TestRemoteNotificationWithoutLocalFavoriteStaysNonMutual(t *testing.T) {
	r := require.New(t)
	s := NewStore(newMemKeychain())

	peer := peerID(0x02)
	_, changed, err := s.ApplyRemoteNotification(peer, []byte{0x01}, true, "")
	r.NoError(err)
	r.False(changed)
	r.False(s.IsMutual(peer))
}

func TestUnfavoriteClearsMutuality(t *testing.T) {
	r := require.New(t)
	s := NewStore(newMemKeychain())

	peer := peerID(0x03)
	pub := []byte{0x01}
	r.NoError(s.SetLocalFavorite(peer, pub, true))
	_, _, err := s.ApplyRemoteNotification(peer, pub, true, "")
	r.NoError(err)
	r.True(s.IsMutual(peer))

	r.NoError(s.SetLocalFavorite(peer, pub, false))
	r.False(s.IsMutual(peer))
}

func TestPersistenceRoundTrip(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()

	s1 := NewStore(kc)
	peer := peerID(0x04)
	pub := []byte{0x01, 0x02, 0x03}
	r.NoError(s1.SetLocalFavorite(peer, pub, true))
	_, _, err := s1.ApplyRemoteNotification(peer, pub, true, "npub1abc")
	r.NoError(err)

	s2 := NewStore(kc)
	r.NoError(s2.Load())
	r.Equal(1, s2.Len())
	r.True(s2.IsMutual(peer))

	rec, ok := s2.Get(peer)
	r.True(ok)
	r.Equal(pub, rec.PeerPublicKey)
	r.Equal("npub1abc", rec.NostrPubKey)
}

func TestClearWipesStoreAndKeychainBlob(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()
	s := NewStore(kc)

	peer := peerID(0x05)
	r.NoError(s.SetLocalFavorite(peer, []byte{0x01}, true))
	r.Equal(1, s.Len())

	r.NoError(s.Clear())
	r.Equal(0, s.Len())

	_, ok := kc.Get("favorites/v1")
	r.False(ok)
}

func TestLoadWithNoPersistedBlobStartsEmpty(t *testing.T) {
	r := require.New(t)
	s := NewStore(newMemKeychain())
	r.NoError(s.Load())
	r.Equal(0, s.Len())
}


