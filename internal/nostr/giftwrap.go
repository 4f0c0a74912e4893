package nostr

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/darabo/gapmesh/internal/platform"
)

// BuildRumor wraps an already Noise-encrypted, codec-encoded Packet
// (encoded, not BLE-padded) into an unsigned kind-14 rumor.
func BuildRumor(senderPub *btcec.PublicKey, recipientPub *btcec.PublicKey, packet []byte, now int64) Event {
	return Event{
		PubKey:    hex.EncodeToString(senderPub.SerializeCompressed()[1:]),
		CreatedAt: now,
		Kind:      KindRumor,
		Tags:      []Tag{{"p", hex.EncodeToString(recipientPub.SerializeCompressed()[1:])}},
		Content:   platform.EmbeddedPacketMarker + base64.StdEncoding.EncodeToString(packet),
	}
}

// ExtractPacket pulls the raw core Packet bytes out of a rumor's content,
// the inverse of BuildRumor.
func ExtractPacket(rumor Event) ([]byte, error) {
	const prefixLen = len(platform.EmbeddedPacketMarker)
	if len(rumor.Content) < prefixLen || rumor.Content[:prefixLen] != platform.EmbeddedPacketMarker {
		return nil, fmt.Errorf("nostr: rumor content missing %q marker", platform.EmbeddedPacketMarker)
	}
	return base64.StdEncoding.DecodeString(rumor.Content[prefixLen:])
}

// SealRumor seals rumor's JSON under recipientPub with NIP-44 and signs
// the resulting kind-13 seal with senderPriv (NIP-59).
func SealRumor(senderPriv *btcec.PrivateKey, recipientPub *btcec.PublicKey, rumor Event, now int64) (Event, error) {
	rumorJSON, err := rumorCanonicalJSON(rumor)
	if err != nil {
		return Event{}, err
	}
	content, err := Encrypt(senderPriv, recipientPub, rumorJSON)
	if err != nil {
		return Event{}, err
	}
	seal := Event{
		CreatedAt: now,
		Kind:      KindSeal,
		Tags:      []Tag{},
		Content:   content,
	}
	if err := seal.Sign(senderPriv); err != nil {
		return Event{}, err
	}
	return seal, nil
}

// WrapSeal wraps seal under a fresh ephemeral key addressed to
// recipientPub (NIP-59's kind-1059 gift wrap), so relays cannot
// correlate the real sender to the recipient by pubkey.
func WrapSeal(seal Event, recipientPub *btcec.PublicKey, ephemeral *btcec.PrivateKey, now int64) (Event, error) {
	sealJSON, err := rumorCanonicalJSON(seal)
	if err != nil {
		return Event{}, err
	}
	content, err := Encrypt(ephemeral, recipientPub, sealJSON)
	if err != nil {
		return Event{}, err
	}
	wrap := Event{
		CreatedAt: now,
		Kind:      KindGiftWrap,
		Tags:      []Tag{{"p", hex.EncodeToString(recipientPub.SerializeCompressed()[1:])}},
		Content:   content,
	}
	if err := wrap.Sign(ephemeral); err != nil {
		return Event{}, err
	}
	return wrap, nil
}

// UnwrapGiftWrap decrypts wrap's content into the embedded seal event,
// using recipientPriv and the ephemeral pubkey carried in wrap.PubKey.
func UnwrapGiftWrap(recipientPriv *btcec.PrivateKey, wrap Event) (Event, error) {
	ephemeralPubBytes, err := hex.DecodeString("02" + wrap.PubKey)
	if err != nil {
		return Event{}, err
	}
	ephemeralPub, err := btcec.ParsePubKey(ephemeralPubBytes)
	if err != nil {
		return Event{}, err
	}
	raw, err := Decrypt(recipientPriv, ephemeralPub, wrap.Content)
	if err != nil {
		return Event{}, err
	}
	return parseEvent(raw)
}

// UnsealRumor decrypts seal's content into the embedded rumor, using
// recipientPriv and the sender's pubkey carried in seal.PubKey.
func UnsealRumor(recipientPriv *btcec.PrivateKey, seal Event) (Event, error) {
	senderPubBytes, err := hex.DecodeString("02" + seal.PubKey)
	if err != nil {
		return Event{}, err
	}
	senderPub, err := btcec.ParsePubKey(senderPubBytes)
	if err != nil {
		return Event{}, err
	}
	raw, err := Decrypt(recipientPriv, senderPub, seal.Content)
	if err != nil {
		return Event{}, err
	}
	return parseEvent(raw)
}
