package platform

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileKeychain is a Keychain backed by a single CBOR-encoded file on disk,
// written with the same temp-file-plus-rename-plus-fsync sequence
// catshadow's statefile writer uses, so a crash mid-write never leaves a
// corrupt keychain behind. Values stored here are expected to already be
// encrypted by the caller (identity.Store and favorites.Store both wrap
// their blobs in a passphrase-derived secretbox before calling Set); a
// mobile embedder would instead back Keychain with the OS secure enclave,
// but a CLI daemon has no such enclave to delegate to.
type FileKeychain struct {
	mu   sync.Mutex
	path string
	data map[string][]byte
}

// NewFileKeychain loads path if it exists, or starts empty.
func NewFileKeychain(path string) (*FileKeychain, error) {
	kc := &FileKeychain{path: path, data: make(map[string][]byte)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return kc, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return kc, nil
	}
	if err := cbor.Unmarshal(raw, &kc.data); err != nil {
		return nil, err
	}
	return kc, nil
}

func (k *FileKeychain) Get(key string) ([]byte, bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	v, ok := k.data[key]
	return v, ok
}

func (k *FileKeychain) Set(key string, value []byte) {
	k.mu.Lock()
	k.data[key] = value
	err := k.persistLocked()
	k.mu.Unlock()
	if err != nil {
		panic(err)
	}
}

func (k *FileKeychain) Delete(key string) {
	k.mu.Lock()
	delete(k.data, key)
	err := k.persistLocked()
	k.mu.Unlock()
	if err != nil {
		panic(err)
	}
}

func (k *FileKeychain) WipeAll() {
	k.mu.Lock()
	k.data = make(map[string][]byte)
	err := k.persistLocked()
	k.mu.Unlock()
	if err != nil {
		panic(err)
	}
}

func (k *FileKeychain) persistLocked() error {
	raw, err := cbor.Marshal(k.data)
	if err != nil {
		return err
	}
	tmp := k.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0600); err != nil {
		return err
	}
	if dir := filepath.Dir(k.path); dir != "" {
		if d, err := os.Open(dir); err == nil {
			d.Sync()
			d.Close()
		}
	}
	return os.Rename(tmp, k.path)
}


