package nostr

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// deriveSharedSecret derives the NIP-44 v2 conversation key: the
// x-coordinate of priv*pub run through HKDF-extract with the fixed salt
// "nip44-v2", adapted here onto btcec's secp256k1 ECDH rather than the
// X25519 the rest of this module uses, since Nostr keys are secp256k1.
func deriveSharedSecret(priv *btcec.PrivateKey, pub *btcec.PublicKey) []byte {
	var point btcec.JacobianPoint
	pub.AsJacobian(&point)

	var result btcec.JacobianPoint
	btcec.ScalarMultNonConst(&priv.Key, &point, &result)
	result.ToAffine()

	xBytes := result.X.Bytes()
	extract := hkdf.Extract(sha256.New, xBytes[:], []byte("nip44-v2"))
	return extract
}

// messageKeys expands the conversation key with a per-message random
// nonce into an encryption key, a nonce for the cipher, and a MAC key.
func messageKeys(conversationKey, nonce []byte) (encKey, chachaNonce, macKey []byte) {
	r := hkdf.Expand(sha256.New, conversationKey, nonce)
	out := make([]byte, 32+24+32)
	io.ReadFull(r, out)
	return out[0:32], out[32:56], out[56:88]
}

// ErrDecryptFailed indicates a NIP-44 payload failed to authenticate.
var ErrDecryptFailed = errors.New("nostr: nip44 decryption failed")

// Encrypt seals plaintext from priv to pub under NIP-44 v2, returning
// the base64 envelope placed in an event's content field.
func Encrypt(priv *btcec.PrivateKey, pub *btcec.PublicKey, plaintext []byte) (string, error) {
	ck := deriveSharedSecret(priv, pub)

	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	encKey, chachaNonce, _ := messageKeys(ck, nonce)

	padded := padPlaintext(plaintext)

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return "", err
	}
	ciphertext := aead.Seal(nil, chachaNonce, padded, nil)

	out := make([]byte, 0, 1+len(nonce)+len(ciphertext))
	out = append(out, 0x02) // version
	out = append(out, nonce...)
	out = append(out, ciphertext...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a NIP-44 v2 envelope produced by Encrypt.
func Decrypt(priv *btcec.PrivateKey, pub *btcec.PublicKey, envelope string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, err
	}
	if len(raw) < 1+32+16 || raw[0] != 0x02 {
		return nil, ErrDecryptFailed
	}
	nonce := raw[1:33]
	ciphertext := raw[33:]

	ck := deriveSharedSecret(priv, pub)
	encKey, chachaNonce, _ := messageKeys(ck, nonce)

	aead, err := chacha20poly1305.NewX(encKey)
	if err != nil {
		return nil, err
	}
	padded, err := aead.Open(nil, chachaNonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecryptFailed
	}
	return unpadPlaintext(padded)
}

// padPlaintext pads plaintext to the next multiple of 32 bytes with a
// 2-byte big-endian length prefix, a simplified stand-in for NIP-44's
// bucketed padding scheme that still hides exact message length to the
// nearest block.
func padPlaintext(plaintext []byte) []byte {
	const block = 32
	prefixed := make([]byte, 2+len(plaintext))
	binary.BigEndian.PutUint16(prefixed[:2], uint16(len(plaintext)))
	copy(prefixed[2:], plaintext)

	padLen := (block - len(prefixed)%block) % block
	return append(prefixed, make([]byte, padLen)...)
}

func unpadPlaintext(padded []byte) ([]byte, error) {
	if len(padded) < 2 {
		return nil, ErrDecryptFailed
	}
	n := int(binary.BigEndian.Uint16(padded[:2]))
	if 2+n > len(padded) {
		return nil, ErrDecryptFailed
	}
	return padded[2 : 2+n], nil
}
