// Package controller implements the Session Controller (spec §4.12): the
// only component an application talks to directly. It owns identity,
// favorites, the shared Noise session registry, both transports and the
// Router, and exposes a small operation set plus a single event stream,
// the way catshadow/client.go exposes Client.EventSink fed from an
// internal eventCh by one forwarding goroutine rather than handing out
// its internal channels directly.
package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gopkg.in/eapache/channels.v1"

	"github.com/darabo/gapmesh/internal/ble"
	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/config"
	"github.com/darabo/gapmesh/internal/dedup"
	"github.com/darabo/gapmesh/internal/favorites"
	"github.com/darabo/gapmesh/internal/identity"
	"github.com/darabo/gapmesh/internal/metrics"
	"github.com/darabo/gapmesh/internal/noisesession"
	"github.com/darabo/gapmesh/internal/nostr"
	"github.com/darabo/gapmesh/internal/platform"
	"github.com/darabo/gapmesh/internal/router"
	"github.com/darabo/gapmesh/internal/uuidrotate"
	"github.com/darabo/gapmesh/internal/worker"
)

// peerSnapshot is the controller's view of a peer, one of the three
// pieces of shared mutable state named in spec §5 (alongside the
// deduper and the outbox, both owned by packages this controller
// assembles rather than holds directly).
type peerSnapshot struct {
	nickname    string
	fingerprint string
	lastSeen    time.Time
	blocked     bool
}

// Controller is the application-facing facade.
type Controller struct {
	worker.Worker

	id        *identity.Identity
	idStore   *identity.Store
	favorites *favorites.Store
	sessions  *noisesession.Store
	router    *router.Router
	mesh      *ble.Transport
	net       *nostr.Transport
	metrics   *metrics.Metrics

	eventCh   channels.Channel
	EventSink chan interface{}

	mu       sync.Mutex
	peers    map[codec.PeerID]*peerSnapshot
	nickname string
}

// Options bundles the injected platform dependencies Controller needs to
// assemble the rest of the core (spec §6: keychain, clock, BLE radio).
type Options struct {
	Cfg        *config.Config
	BLE        platform.BLE
	Keychain   platform.Keychain
	Clock      platform.Clock
	Registry   *prometheus.Registry
	Passphrase []byte
}

// New assembles identity, favorites, the shared session store, the
// Router and both transports, and starts the event-forwarding worker.
// Call Start afterward to bring the transports themselves up.
func New(opts Options) (*Controller, error) {
	idStore := identity.NewStore(opts.Keychain)
	id, err := idStore.Load(opts.Passphrase)
	if errors.Is(err, identity.ErrNotFound) {
		id, err = idStore.Create(opts.Passphrase)
	}
	if err != nil {
		return nil, fmt.Errorf("controller: identity: %w", err)
	}

	favoritesStore := favorites.NewStore(opts.Keychain)
	if err := favoritesStore.Load(); err != nil {
		return nil, fmt.Errorf("controller: favorites: %w", err)
	}

	m := metrics.New(opts.Registry)
	sessions := noisesession.NewStore()
	dedupStore := dedup.New(config.DefaultDedupCapacity)
	rt := router.New(m)

	c := &Controller{
		id:        id,
		idStore:   idStore,
		favorites: favoritesStore,
		sessions:  sessions,
		router:    rt,
		metrics:   m,
		eventCh:   channels.NewInfiniteChannel(),
		EventSink: make(chan interface{}),
		peers:     make(map[codec.PeerID]*peerSnapshot),
	}

	if opts.Cfg.Mesh.Enable {
		rotator := uuidrotate.New(opts.Clock, opts.Cfg.Mesh.LegacyCompat)
		// selfDeviceRef must be comparable against the remote's own
		// notion of itself for the initiator/responder tie-break in
		// internal/ble, so it is the stable identity fingerprint
		// rather than a platform-local BLE connection handle; the
		// application is responsible for advertising this value so
		// peers can discover it (spec leaves platform BLE specifics
		// to the embedder).
		c.mesh = ble.New(opts.BLE, rotator, dedupStore, sessions, m, id.Static, id.PeerID(), id.Fingerprint(), ble.Config{}, c.handleMeshInbound)
		c.nickna