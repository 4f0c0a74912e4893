// Package nostr implements the gift-wrap private-message path over the
// Nostr protocol (NIP-17/NIP-44/NIP-59, spec §4.9): event envelopes,
// NIP-44 v2 sealing, and a relay transport satisfying router.Transport.
// No pack example or teacher dependency speaks Nostr, so the event
// envelope here is a hand-rolled struct following NIP-01 directly rather
// than adapted from any one teacher file.
package nostr

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Kind identifies a Nostr event's type (NIP-01).
type Kind int

const (
	KindRumor         Kind = 14
	KindSeal          Kind = 13
	KindGiftWrap      Kind = 1059
	KindEphemeralChat Kind = 20000
	KindNote          Kind = 1
)

// Tag is a single NIP-01 tag array (e.g. ["p", pubkeyHex]).
type Tag []string

// Event is a Nostr event exactly as NIP-01 defines it.
type Event struct {
	ID        string `json:"id"`
	PubKey    string `json:"pubkey"`
	CreatedAt int64  `json:"created_at"`
	Kind      Kind   `json:"kind"`
	Tags      []Tag  `json:"tags"`
	Content   string `json:"content"`
	Sig       string `json:"sig"`
}

var ErrInvalidSignature = errors.New("nostr: invalid event signature")

// serializationArray builds the NIP-01 canonical array used to derive an
// event's id: [0, pubkey, created_at, kind, tags, content].
func (e *Event) serializationArray() ([]byte, error) {
	tags := e.Tags
	if tags == nil {
		tags = []Tag{}
	}
	arr := []interface{}{0, e.PubKey, e.CreatedAt, e.Kind, tags, e.Content}
	return json.Marshal(arr)
}

// ComputeID sets e.ID to the sha256 of the canonical serialization.
func (e *Event) ComputeID() error {
	raw, err := e.serializationArray()
	if err != nil {
		return err
	}
	sum := sha256.Sum256(raw)
	e.ID = hex.EncodeToString(sum[:])
	return nil
}

// Sign computes e.ID and signs it with priv under BIP-340 Schnorr,
// setting e.PubKey and e.Sig.
func (e *Event) Sign(priv *btcec.PrivateKey) error {
	pub := priv.PubKey()
	e.PubKey = hex.EncodeToString(schnorr.SerializePubKey(pub))
	if err := e.ComputeID(); err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return err
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return err
	}
	e.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// Verify checks e.ID against a fresh computation and e.Sig against
// e.PubKey.
func (e *Event) Verify() error {
	want := e.ID
	if err := e.ComputeID(); err != nil {
		return err
	}
	if e.ID != want {
		e.ID = want
		return fmt.Errorf("nostr: id mismatch")
	}

	pubBytes, err := hex.DecodeString(e.PubKey)
	if err != nil {
		return err
	}
	pub, err := schnorr.ParsePubKey(pubBytes)
	if err != nil {
		return err
	}
	sigBytes, err := hex.DecodeString(e.Sig)
	if err != nil {
		return err
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return err
	}
	idBytes, err := hex.DecodeString(e.ID)
	if err != nil {
		return err
	}
	if !sig.Verify(idBytes, pub) {
		return ErrInvalidSignature
	}
	return nil
}

// Tag returns the first tag whose first element is name, if any.
func (e *Event) Tag(name string) (Tag, bool) {
	for _, t := range e.Tags {
		if len(t) > 0 && t[0] == name {
			return t, true
		}
	}
	return nil, false
}

// rumorCanonicalJSON marshals an (often unsigned) event for embedding as
// the plaintext of the next gift-wrap layer.
func rumorCanonicalJSON(e Event) ([]byte, error) {
	return json.Marshal(e)
}

func parseEvent(raw []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, err
	}
	return e, nil
}


