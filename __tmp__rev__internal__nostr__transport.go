package nostr

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/dedup"
	"github.com/darabo/gapmesh/internal/favorites"
	"github.com/darabo/gapmesh/internal/metrics"
	"github.com/darabo/gapmesh/internal/noisesession"
	"github.com/darabo/gapmesh/internal/platform"
	"github.com/darabo/gapmesh/internal/router"
	"github.com/darabo/gapmesh/internal/worker"
)

// errNotReachable mirrors ble's errNotReachable: SendPrivate returns it
// when the peer has no established Noise session, is not a mutual
// favorite, or never announced a Nostr pubkey — the Router falls back
// to queuing in all three cases.
var errNotReachable = errors.New("nostr: peer not reachable")

// Inbound is one decrypted Packet recovered from a gift-wrapped rumor,
// handed to the injected callback exactly like ble.Inbound.
type Inbound struct {
	Packet *codec.Packet
	Peer   codec.PeerID
}

// Config tunes the relay pool and wire defaults.
type Config struct {
	RelayURLs     []string // default platform.DefaultNostrRelays
	PacketVersion uint8    // default 2
}

func (c Config) withDefaults() Config {
	if len(c.RelayURLs) == 0 {
		c.RelayURLs = platform.DefaultNostrRelays
	}
	if c.PacketVersion == 0 {
		c.PacketVersion = 2
	}
	return c
}

// Transport is the internet leg of the Router's transport pair (spec
// §4.9): it never performs its own Noise handshake, it only seals and
// unseals packets already encrypted by a session the mesh transport
// negotiated and published to sessions.
type Transport struct {
	worker.Worker

	cfg Config

	sessions  *noisesession.Store
	favorites *favorites.Store
	dedup     *dedup.Store
	metrics   *metrics.Metrics

	localPriv *btcec.PrivateKey
	selfID    codec.PeerID

	onInbound func(Inbound)

	relays []*relay
}

// New constructs a Transport. localPriv is the device's Nostr identity
// (persisted alongside the Noise identity by internal/identity.Identity
// since the two use different curves); selfID is the device's wire
// PeerID, stamped as SenderID on outgoing packets.
func New(localPriv *btcec.PrivateKey, selfID codec.PeerID, sessions *noisesession.Store, favoritesStore *favorites.Store, dedupStore *dedup.Store, m *metrics.Metrics, cfg Config, onInbound func(Inbound)) *Transport {
	cfg = cfg.withDefaults()
	return &Transport{
		cfg:       cfg,
		sessions:  sessions,
		favorites: favoritesStore,
		dedup:     dedupStore,
		metrics:   m,
		localPriv: localPriv,
		selfID:    selfID,
		onInbound: onInbound,
	}
}

func (t *Transport) Kind() router.TransportKind { return router.TransportInternet }

func (t *Transport) selfPubHex() string {
	return hex.EncodeToString(t.localPriv.PubKey().SerializeCompressed()[1:])
}

// IsPeerReachable requires both a live Noise session (established over
// the mesh transport) and a mutual favorite relationship carrying the
// peer's Nostr pubkey; neither alone is sufficient (spec §4.9, §4.11).
func (t *Transport) IsPeerReachable(peer codec.PeerID) bool {
	if _, ok := t.sessions.Get(peer); !ok {
		return false
	}
	rec, ok := t.favorites.Get(peer)
	return ok && rec.MutualFavorite && rec.NostrPubKey != ""
}

// Start dials every configured relay and subscribes for gift wraps
// addressed to this device's Nostr pubkey.
func (t *Transport) Start(ctx context.Context) {
	filter, _ := json.Marshal(map[string]interface{}{
		"kinds": []int{int(KindGiftWrap)},
		"#p":    []string{t.selfPubHex()},
	})

	for _, url := range t.cfg.RelayURLs {
		r := newRelay(url, "gapmesh-giftwrap", t.onEvent)
		t.relays = append(t.relays, r)
		t.Go(func() { r.run(ctx, filter) })
	}
}

func (t *Transport) onEvent(evt Event) {
	if evt.Kind != KindGiftWrap {
		return
	}
	if t.dedup != nil && !t.dedup.Insert(evt.ID) {
		return
	}
	if err := evt.Verify(); err != nil {
		t.drop("invalid_signature")
		return
	}

	seal, err := UnwrapGiftWrap(t.localPriv, evt)
	if err != nil {
		t.drop("unwrap_failed")
		return
	}
	if err := seal.Verify(); err != nil {
		t.drop("invalid_signature")
		return
	}
	rumor, err := UnsealRumor(t.localPriv, seal)
	if err != nil {
		t.drop("unseal_failed")
		return
	}
	wire, err := ExtractPacket(rumor)
	if err != nil {
		t.drop("malformed_rumor")
		return
	}
	outer, err := codec.Decode(wire)
	if err != nil {
		t.drop("decode_failed")
		return
	}
	if outer.Type != codec.TypeNoiseEncrypted {
		t.drop("unexpected_type")
		return
	}

	session, ok := t.sessions.Get(outer.SenderID)
	if !ok {
		t.drop("no_session")
		return
	}
	plaintext, err := session.Open(outer.Payload)
	if err != nil {
		t.drop("decrypt_failed")
		return
	}
	inner, err := codec.Decode(plaintext)
	if err != nil {
		t.drop("decode_failed")
		return
	}

	t.deliver(Inbound{Packet: inner, Peer: outer.SenderID})
}

func (t *Transport) drop(reason string) {
	if t.metrics != nil {
		t.metrics.PacketsDropped.WithLabelValues(reason).Inc()
	}
}

func (t *Transport) deliver(in Inbound) {
	if t.onInbound != nil {
		t.onInbound(in)
	}
}

// SendPrivate seals payload under the peer's already-established Noise
// session, gift-wraps the result addressed to the peer's announced
// Nostr pubkey under a fresh ephemeral identity, and publishes it to
// every connected relay.
func (t *Transport) SendPrivate(peer codec.PeerID, payload []byte) error {
	session, ok := t.sessions.Get(peer)
	if !ok {
		return errNotReachable
	}
	rec, ok := t.favorites.Get(peer)
	if !ok || !rec.MutualFavorite || rec.NostrPubKey == "" {
		return errNotReachable
	}
	recipientPub, err := parseXOnlyPubKey(rec.NostrPubKey)
	if err != nil {
		return fmt.Errorf("nostr: bad peer pubkey: %w", err)
	}

	inner := &codec.Packet{
		Version:     t.cfg.PacketVersion,
		Type:        codec.TypeMessage,
		TTL:         0,
		Timestamp:   nowMillis(),
		Flags:       codec.FlagHasRecipient,
		SenderID:    t.selfID,
		RecipientID: &peer,
		Payload:     payload,
	}
	encoded, err := codec.Encode(inner)
	if err != nil {
		return err
	}
	ciphertext, err := session.Seal(encoded)
	if err != nil {
		return err
	}

	outer := &codec.Packet{
		Version:     t.cfg.PacketVersion,
		Type:        codec.TypeNoiseEncrypted,
		TTL:         0,
		Timestamp:   nowMillis(),
		Flags:       codec.FlagHasRecipient,
		SenderID:    t.selfID,
		RecipientID: &peer,
		Payload:     ciphertext,
	}
	wire, err := codec.Encode(outer)
	if err != nil {
		return err
	}

	now := time.Now().Unix()
	rumor := BuildRumor(t.localPriv.PubKey(), recipientPub, wire, now)
	seal, err := SealRumor(t.localPriv, recipientPub, rumor, now)
	if err != nil {
		return err
	}
	ephemeral, err := btcec.NewPrivateKey()
	if err != nil {
		return err
	}
	wrap, err := WrapSeal(seal, recipientPub, ephemeral, now)
	if err != nil {
		return err
	}

	return t.publish(wrap)
}

// publish writes wrap to every relay currently connected, succeeding if
// at least one accepts it.
func (t *Transport) publish(wrap Event) error {
	var wg sync.WaitGroup
	ok := make(chan struct{}, 1)
	for _, r := range t.relays {
		r := r
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.publish(wrap) {
				select {
				case ok <- struct{}{}:
				default:
				}
			}
		}()
	}
	wg.Wait()
	select {
	case <-ok:
		return nil
	default:
		return errors.New("nostr: no relay accepted the event")
	}
}

// parseXOnlyPubKey reconstructs a compressed secp256k1 pubkey from a
// BIP-340 x-only hex string by assuming even Y, the same convention
// UnwrapGiftWrap/UnsealRumor use to recover a point from an event's bare
// pubkey field.
func parseXOnlyPubKey(hexPub string) (*btcec.PublicKey, error) {
	b, err := hex.DecodeString("02" + hexPub)
	if err != nil {
		return nil, err
	}
	return btcec.ParsePubKey(b)
}

func nowMillis() uint64 {
	return uint64(time.Now().UnixMilli())
}


