package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type memKeychain struct {
	m map[string][]byte
}

func newMemKeychain() *memKeychain { return &memKeychain{m: make(map[string][]byte)} }

func (k *memKeychain) Get(key string) ([]byte, bool) { v, ok := k.m[key]; return v, ok }
func (k *memKeychain) Set(key string, value []byte)  { k.m[key] = append([]byte(nil), value...) }
func (k *memKeychain) Delete(key string)              { delete(k.m, key) }
func (k *memKeychain) WipeAll()                       { k.m = make(map[string][]byte) }

func TestCreateThenLoadRoundTrip(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()
	store := NewStore(kc)

	created, err := store.Create([]byte("correct horse battery staple"))
	r.NoError(err)

	loaded, err := store.Load([]byte("correct horse battery staple"))
	r.NoError(err)

	r.Equal(created.PeerID(), loaded.PeerID())
	r.Equal(created.Fingerprint(), loaded.Fingerprint())
}

func TestLoadWithWrongPassphraseFails(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()
	store := NewStore(kc)

	_, err := store.Create([]byte("right passphrase"))
	r.NoError(err)

	_, err = store.Load([]byte("wrong passphrase"))
	r.ErrorIs(err, ErrDecryptFailed)
}

func TestPanicWipeClearsKeychain(t *testing.T) {
	r := require.New(t)
	kc := newMemKeychain()
	store := NewStore(kc)

	_, err := store.Create([]byte("passphrase"))
	r.NoError(err)

	store.PanicWipe()

	_, err = store.Load([]byte("passphrase"))
	r.ErrorIs(err, ErrNotFound)
}

func TestLoadWithoutCreateReturnsNotFound(t *testing.T) {
	r := require.New(t)
	store := NewStore(newMemKeychain())

	_, err := store.Load([]byte("anything"))
	r.ErrorIs(err, ErrNotFound)
}


