// Package identity holds the device's static Curve25519 keypair and
// Ed25519 signing keypair (spec §4.4), persists them through the
// injected platform.Keychain as encrypted opaque blobs, and implements
// panicWipe. Persistence mirrors catshadow/disk.go's encryptState /
// decryptState pair: an argon2-stretched passphrase feeds a
// nacl/secretbox wrap key, with a random nonce prefixed to each blob.
package identity

import (
	"crypto/sha256"
	"errors"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/nacl/secretbox"

	"github.com/btcsuite/btcd/btcec/v2"
	hpqcrand "github.com/katzenpost/hpqc/rand"
	"github.com/katzenpost/nyquist/dh"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/platform"
	ed25519 "github.com/katzenpost/hpqc/sign/ed25519"
)

const (
	wrapKeySize = 32
	nonceSize   = 24
)

// ErrNotFound is returned by Load when no identity has been persisted
// yet.
var ErrNotFound = errors.New("identity: no identity persisted")

// ErrDecryptFailed is returned when a persisted blob fails to decrypt
// under the derived wrap key (wrong passphrase, or corrupted blob).
var ErrDecryptFailed = errors.New("identity: failed to decrypt persisted identity")

// Identity is the device's long-term key material.
//
// NostrPrivate is a separate secp256k1 keypair, distinct from Static:
// Nostr events require BIP-340 Schnorr signatures over secp256k1, while
// the rest of this module's identity (Noise handshakes, the wire
// PeerID) is Curve25519. The two never need to be related, so this
// generates and persists them independently rather than attempting any
// cross-curve derivation.
type Identity struct {
	Static         dh.Keypair
	SigningPrivate *ed25519.PrivateKey
	SigningPublic  *ed25519.PublicKey
	NostrPrivate   *btcec.PrivateKey
}

// PeerID derives the 8-byte PeerID used on the wire from a static
// Curve25519 public key: the first 8 bytes of the key itself.
func PeerID(pub dh.PublicKey) codec.PeerID {
	var id codec.PeerID
	copy(id[:], pub.Bytes()[:8])
	return id
}

// Fingerprint renders the full SHA-256 of a static public key as lowercase
// hex, the human-visible identity used in noiseHandshakeComplete events.
func Fingerprint(pub dh.PublicKey) string {
	sum := sha256.Sum256(pub.Bytes())
	const hextable = "0123456789abcdef"
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0F]
	}
	return string(out)
}

// PeerID returns this identity's own wire PeerID.
func (id *Identity) PeerID() codec.PeerID {
	return PeerID(id.Static.Public())
}

// Fingerprint returns this identity's own fingerprint.
func (id *Identity) Fingerprint() string {
	return Fingerprint(id.Static.Public())
}

// Store persists an Identity's key material through a platform.Keychain.
type Store struct {
	keychain platform.Keychain
}

// NewStore constructs a Store backed by kc.
func NewStore(kc platform.Keychain) *Store {
	return &Store{keychain: kc}
}

func stretchKey(passphrase []byte) *[wrapKeySize]byte {
	secret := argon2.Key(passphrase, nil, 3, 32*1024, 4, wrapKeySize)
	var key [wrapKeySize]byte
	copy(key[:], secret)
	return &key
}

func encryptBlob(plaintext []byte, key *[wrapKeySize]byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := hpqcrand.Reader.Read(nonce[:]); err != nil {
		return nil, err
	}
	ciphertext := secretbox.Seal(nil, plaintext, &nonce, key)
	return append(nonce[:], ciphertext...), nil
}

func decryptBlob(ciphertext []byte, key *[wrapKeySize]byte) ([]byte, error) {
	if len(ciphertext) < nonceSize {
		return nil, ErrDecryptFailed
	}
	var nonce [nonceSize]byte
	copy(nonce[:], ciphertext[:nonceSize])
	plaintext, ok := secretbox.Open(nil, ciphertext[nonceSize:], &nonce, key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return plaintext, nil
}

// Create generates a fresh Identity and persists it, encrypted under
// passphrase, to the keychain blobs named in spec §6.
func (s *Store) Create(passphrase []byte) (*Identity, error) {
	staticKp, err := dh.X25519.GenerateKeypair(hpqcrand.Reader)
	if err != nil {
		return nil, err
	}
	signPriv, signPub, err := ed25519.NewKeypair(hpqcrand.Reader)
	if err != nil {
		return nil, err
	}
	nostrPriv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, err
	}

	id := &Identity{Static: staticKp, SigningPrivate: signPriv, SigningPublic: signPub, NostrPrivate: nostrPriv}
	if err := s.persist(id, passphrase); err != nil {
		return nil, err
	}
	return id, nil
}

func (s *Store) persist(id *Identity, passphrase []byte) error {
	key := stretchKey(passphrase)

	staticBytes, err := id.Static.MarshalBinary()
	if err != nil {
		return err
	}
	signBytes, err := id.SigningPrivate.MarshalBinary()
	if err != nil {
		return err
	}

	staticBlob, err := encryptBlob(staticBytes, key)
	if err != nil {
		return err
	}
	signBlob, err := encryptBlob(signBytes, key)
	if err != nil {
		return err
	}
	nostrBlob, err := encryptBlob(id.NostrPrivate.Serialize(), key)
	if err != nil {
		return err
	}

	s.keychain.Set(platform.KeyIdentityStatic, staticBlob)
	s.keychain.Set(platform.KeyIdentitySigning, signBlob)
	s.keychain.Set(platform.KeyIdentityNostr, nostrBlob)
	return nil
}

// Load decrypts and returns the previously persisted Identity.
func (s *Store) Load(passphrase []byte) (*Identity, error) {
	staticBlob, ok := s.keychain.Get(platform.KeyIdentityStatic)
	if !ok {
		return nil, ErrNotFound
	}
	signBlob, ok := s.keychain.Get(platform.KeyIdentitySigning)
	if !ok {
		return nil, ErrNotFound
	}
	nostrBlob, ok := s.keychain.Get(platform.KeyIdentityNostr)
	if !ok {
		return nil, ErrNotFound
	}

	key := stretchKey(passphrase)

	staticBytes, err := decryptBlob(staticBlob, key)
	if err != nil {
		return nil, err
	}
	signBytes, err := decryptBlob(signBlob, key)
	if err != nil {
		return nil, err
	}
	nostrBytes, err := decryptBlob(nostrBlob, key)
	if err != nil {
		return nil, err
	}

	staticKp, err := dh.X25519.ParsePrivateKey(staticBytes)
	if err != nil {
		return nil, err
	}
	signPriv := ed25519.NewEmptyPrivateKey()
	if err := signPriv.UnmarshalBinary(signBytes); err != nil {
		return nil, err
	}
	nostrPriv, _ := btcec.PrivKeyFromBytes(nostrBytes)

	return &Identity{
		Static:         staticKp,
		SigningPrivate: signPriv,
		SigningPublic:  signPriv.PublicKey(),
		NostrPrivate:   nostrPriv,
	}, nil
}

// PanicWipe destroys all keychain-held state: identity keys, favorites,
// and any other blob the application stored alongside them (spec §4.4,
// §8 scenario 5). The device must generate a brand new identity on next
// start.
func (s *Store) PanicWipe() {
	s.keychain.WipeAll()
}
