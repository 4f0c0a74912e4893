package ble

import (
	"context"
	"sync"
	"time"

	"github.com/katzenpost/nyquist/dh"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/dedup"
	"github.com/darabo/gapmesh/internal/fragment"
	"github.com/darabo/gapmesh/internal/metrics"
	"github.com/darabo/gapmesh/internal/noise"
	"github.com/darabo/gapmesh/internal/noisesession"
	"github.com/darabo/gapmesh/internal/platform"
	"github.com/darabo/gapmesh/internal/router"
	"github.com/darabo/gapmesh/internal/uuidrotate"
	"github.com/darabo/gapmesh/internal/worker"
)

// Config tunes the transport's timeouts and send parameters. Zero values
// fall back to the spec-mandated defaults (spec §5).
type Config struct {
	WriteTimeout     time.Duration // default 10s
	HandshakeTimeout time.Duration // default 30s
	StaleThreshold   time.Duration // default 2 minutes
	AnnounceInterval time.Duration // default 60s
	MTU              int           // default 500
	DefaultTTL       uint8         // default 7
	MaxWriteFailures int           // default 3, consecutive failures before Stale
	PacketVersion    uint8         // default 2
}

func (c Config) withDefaults() Config {
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = 30 * time.Second
	}
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 2 * time.Minute
	}
	if c.AnnounceInterval <= 0 {
		c.AnnounceInterval = 60 * time.Second
	}
	if c.MTU <= 0 {
		c.MTU = 500
	}
	if c.DefaultTTL <= 0 {
		c.DefaultTTL = 7
	}
	if c.MaxWriteFailures <= 0 {
		c.MaxWriteFailures = 3
	}
	if c.PacketVersion == 0 {
		c.PacketVersion = 2
	}
	return c
}

// Inbound is the set of packet types the transport hands upward after
// dedup/decrypt, alongside the peer (if known) it arrived from or was
// decrypted under.
type Inbound struct {
	Packet *codec.Packet
	Peer   codec.PeerID
}

// Transport implements router.Transport over an injected platform.BLE,
// and is the dispatch point for every packet the mesh side of gapmesh
// sees, inbound or outbound (spec §4.6). Grounded on minclient's
// connectWorker/doConnect retry-and-reconnect loop, generalized from one
// Provider link to many simultaneous peer links.
type Transport struct {
	worker.Worker

	cfg Config

	ble           platform.BLE
	rotator       *uuidrotate.Rotator
	dedup         *dedup.Store
	metrics       *metrics.Metrics
	localKey      dh.Keypair
	selfID        codec.PeerID
	selfDeviceRef string
	sessions      *noisesession.Store

	nicknameMu sync.RWMutex
	nickname   string

	onInbound   func(Inbound)
	onHandshake func(peer codec.PeerID, remoteStatic []byte)
	onPeerLost  func(peer codec.PeerID)

	mu       sync.RWMutex
	byDevice map[string]*conn
	byPeer   map[codec.PeerID]*conn
}

// New constructs a Transport. selfDeviceRef is the identifier this node
// advertises under; it doubles as the pre-handshake Noise role tie-break
// described below. onInbound is called for every packet that survives
// dedup and (if applicable) Noise decryption; it must not block.
//
// BLE central/peripheral roles don't map cleanly onto Noise
// initiator/responder here, since both sides of a discovered pair
// independently call Connect and would otherwise both open as
// initiator. Role is instead decided by comparing device refs: the
// lexicographically larger ref dials as responder. Both sides compute
// the same ordering from the same two strings, so exactly one side
// initiates. A genuine race (e.g. a ref rotating mid-discovery) is
// still caught after the fact in onHandshakeEstablished via
// noise.ResolveGlare.
func New(b platform.BLE, rotator *uuidrotate.Rotator, dedupStore *dedup.Store, sessions *noisesession.Store, m *metrics.Metrics, localKey dh.Keypair, selfID codec.PeerID, selfDeviceRef string, cfg Config, onInbound func(Inbound)) *Transport {
	return &Transport{
		cfg:           cfg.withDefaults(),
		ble:           b,
		rotator:       rotator,
		dedup:         dedupStore,
		sessions:      sessions,
		metrics:       m,
		localKey:      localKey,
		selfID:        selfID,
		selfDeviceRef: selfDeviceRef,
		onInbound:     onInbound,
		byDevice:      make(map[string]*conn),
		byPeer:        make(map[codec.PeerID]*conn),
	}
}

// OnHandshake registers a callback fired once per peer when its Noise
// session first establishes, carrying the peer's identity fingerprint
// (spec §4.12's noiseHandshakeComplete event). Call before Start.
func (t *Transport) OnHandshake(fn func(peer codec.PeerID, remoteStatic []byte)) {
	t.onHandshake = fn
}

// OnPeerLost registers a callback fired when a peer's connection is torn
// down (spec §4.12's peerDisappeared event). Call before Start.
func (t *Transport) OnPeerLost(fn func(peer codec.PeerID)) {
	t.onPeerLost = fn
}

// Kind identifies this transport to the Router.
func (t *Transport) Kind() router.TransportKind { return router.TransportMesh }

// SetNickname updates the nickname broadcast in Announce packets.
func (t *Transport) SetNickname(nick string) {
	t.nicknameMu.Lock()
	t.nickname = nick
	t.nicknameMu.Unlock()
}

func (t *Transport) getNickname() string {
	t.nicknameMu.RLock()
	defer t.nicknameMu.RUnlock()
	return t.nickname
}

// IsPeerReachable reports whether peer has a Ready connection.
func (t *Transport) IsPeerReachable(peer codec.PeerID) bool {
	t.mu.RLock()
	c, ok := t.byPeer[peer]
	t.mu.RUnlock()
	return ok && c.getState() == StateReady
}

// Start begins advertising, scanning, announcing and stale-connection
// sweeping against ctx. Stop by canceling ctx and calling t.Halt.
func (t *Transport) Start(ctx context.Context) {
	t.Go(func() { t.advertiseLoop(ctx) })
	t.Go(func() { t.scanLoop(ctx) })
	t.Go(func() { t.announceLoop(ctx) })
	t.Go(func() { t.sweepLoop(ctx) })
}

func (t *Transport) advertiseLoop(ctx context.Context) {
	ticker := time.NewTicker(uuidrotate.OverlapWindow)
	defer ticker.Stop()
	for {
		set := t.rotator.TransmitSet(time.Now())
		_ = t.ble.Advertise(ctx, set, platform.BLECharacteristicUUID)
		select {
		case <-ctx.Done():
			return
		case <-t.HaltCh():
			return
		case <-ticker.C:
		}
	}
}

func (t *Transport) scanLoop(ctx context.Context) {
	for {
		scanCtx, cancel := context.WithCancel(ctx)
		set := t.rotator.ScanSet(time.Now())
		ch, err := t.ble.Scan(scanCtx, set)
		if err != nil {
			cancel()
			select {
			case <-ctx.Done():
				return
			case <-t.HaltCh():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		rotate := t.drainScan(ctx, ch)
		cancel()
		if rotate == scanStop {
			return
		}
	}
}

type scanOutcome int

const (
	scanRotate scanOutcome = iota
	scanStop
)

func (t *Transport) drainScan(ctx context.Context, ch <-chan platform.Discovery) scanOutcome {
	ticker := time.NewTicker(uuidrotate.OverlapWindow)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return scanStop
		case <-t.HaltCh():
			return scanStop
		case <-ticker.C:
			return scanRotate
		case d, ok := <-ch:
			if !ok {
				return scanRotate
			}
			t.Go(func() { t.onDiscovered(ctx, d) })
		}
	}
}

func (t *Transport) onDiscovered(ctx context.Context, d platform.Discovery) {
	t.mu.Lock()
	if _, exists := t.byDevice[d.DeviceRef]; exists {
		t.mu.Unlock()
		return
	}
	role := noise.RoleInitiator
	if t.selfDeviceRef > d.DeviceRef {
		role = noise.RoleResponder
	}
	c := newConn(d.DeviceRef, role, t.localKey, time.Now())
	c.setState(StateConnecting)
	t.byDevice[d.DeviceRef] = c
	t.mu.Unlock()

	link, err := t.ble.Connect(ctx, d.DeviceRef)
	if err != nil {
		t.dropConn(c)
		return
	}
	c.link = link
	c.setState(StateConnected)
	c.touch(time.Now())

	t.sendAnnounce(c)
	if role == noise.RoleInitiator {
		t.startHandshake(c)
	}

	t.Go(func() { t.readLoop(ctx, c) })
}

func (t *Transport) readLoop(ctx context.Context, c *conn) {
	notifCh, err := t.ble.SubscribeNotifications(c.link)
	if err != nil {
		t.dropConn(c)
		return
	}
	for {
		select {
		case <-ctx.Done():
			t.dropConn(c)
			return
		case <-t.HaltCh():
			return
		case chunk, ok := <-notifCh:
			if !ok {
				t.dropConn(c)
				return
			}
			c.touch(time.Now())
			frames, dropped, reset := c.assembler.Append(time.Now(), chunk)
			if dropped > 0 && t.metrics != nil {
				t.metrics.PacketsDropped.WithLabelValues("resync").Add(float64(dropped))
			}
			if reset && t.metrics != nil {
				t.metrics.PacketsDropped.WithLabelValues("stream-reset").Inc()
			}
			for _, frame := range frames {
				unpadded, uerr := codec.Unpad(frame)
				if uerr != nil {
					if t.metrics != nil {
						t.metrics.PacketsDropped.WithLabelValues("decode-error").Inc()
					}
					continue
				}
				pkt, derr := codec.Decode(unpadded)
				if derr != nil {
					if t.metrics != nil {
						t.metrics.PacketsDropped.WithLabelValues("decode-error").Inc()
					}
					continue
				}
				t.handlePacket(c, pkt)
			}
		}
	}
}

func (t *Transport) startHandshake(c *conn) {
	c.setState(StateHandshaking)
	c.mu.Lock()
	c.handshakeAt = time.Now()
	c.mu.Unlock()

	out, _, err := c.session.Advance(nil)
	if err != nil {
		t.failHandshake(c)
		return
	}
	t.writePacket(c, &codec.Packet{
		Version:   t.cfg.PacketVersion,
		Type:      codec.TypeNoiseHandshake,
		TTL:       0,
		Timestamp: nowMillis(),
		SenderID:  t.selfID,
		Payload:   out,
	})
}

func (t *Transport) failHandshake(c *conn) {
	if t.metrics != nil {
		t.metrics.HandshakeFailed.Inc()
	}
	c.session.Close()
	t.dropConn(c)
}

func (t *Transport) handlePacket(c *conn, pkt *codec.Packet) {
	switch pkt.Type {
	case codec.TypeNoiseHandshake:
		t.handleHandshake(c, pkt)
	case codec.TypeNoiseEncrypted:
		t.handleEncrypted(c, pkt)
	case codec.TypeFragment:
		t.handleFragment(c, pkt)
	case codec.TypeAnnounce, codec.TypeMessage, codec.TypeLeave:
		t.handleBroadcast(c, pkt)
	default:
		if t.metrics != nil {
			t.metrics.PacketsDropped.WithLabelValues("unknown-type").Inc()
		}
	}
}

func (t *Transport) handleHandshake(c *conn, pkt *codec.Packet) {
	if c.getState() == StateConnected {
		c.setState(StateHandshaking)
		c.mu.Lock()
		c.handshakeAt = time.Now()
		c.mu.Unlock()
	}

	out, established, err := c.session.Advance(pkt.Payload)
	if err != nil {
		t.failHandshake(c)
		return
	}
	if out != nil {
		t.writePacket(c, &codec.Packet{
			Version:   t.cfg.PacketVersion,
			Type:      codec.TypeNoiseHandshake,
			Timestamp: nowMillis(),
			SenderID:  t.selfID,
			Payload:   out,
		})
	}
	if established {
		t.onHandshakeEstablished(c, pkt.SenderID)
	}
}

func (t *Transport) onHandshakeEstablished(c *conn, remoteHint codec.PeerID) {
	c.setPeerID(remoteHint)
	c.setState(StateReady)

	t.mu.Lock()
	if existing, ok := t.byPeer[remoteHint]; ok && existing != c {
		remotePub := c.session.RemoteStatic()
		localPub := t.localKey.Public()
		var remoteBytes, localBytes []byte
		if remotePub != nil {
			remoteBytes = remotePub.Bytes()
		}
		if localPub != nil {
			localBytes = localPub.Bytes()
		}
		winner := noise.ResolveGlare(localBytes, remoteBytes)
		loser := existing
		if (winner == noise.RoleInitiator) != (c.session.Role() == noise.RoleInitiator) {
			// The existing connection is the one consistent with the
			// glare outcome; this new one loses instead.
			loser = c
		}
		t.mu.Unlock()
		t.dropConn(loser)
		if loser == c {
			return
		}
		t.mu.Lock()
	}
	t.byPeer[remoteHint] = c
	t.mu.Unlock()

	if t.sessions != nil {
		t.sessions.Put(remoteHint, c.session)
	}
	if t.onHandshake != nil {
		var remoteBytes []byte
		if pub := c.session.RemoteStatic(); pub != nil {
			remoteBytes = pub.Bytes()
		}
		t.onHandshake(remoteHint, remoteBytes)
	}
}

func (t *Transport) handleEncrypted(c *conn, pkt *codec.Packet) {
	plaintext, err := c.session.Open(pkt.Payload)
	if err != nil {
		if t.metrics != nil {
			t.metrics.PacketsDropped.WithLabelValues("decrypt-error").Inc()
		}
		return
	}
	inner, err := codec.Decode(plaintext)
	if err != nil {
		return
	}
	peer, _ := c.getPeerID()
	t.deliver(Inbound{Packet: inner, Peer: peer})
}

func (t *Transport) handleFragment(c *conn, pkt *codec.Packet) {
	if t.metrics != nil {
		t.metrics.ReassemblyActive.Set(float64(c.reassembler.Pending()))
	}
	full, err := c.reassembler.Append(time.Now(), pkt)
	if err != nil || full == nil {
		return
	}
	t.handlePacket(c, full)
}

func (t *Transport) handleBroadcast(c *conn, pkt *codec.Packet) {
	fp := dedup.BroadcastFingerprint(pkt.SenderID, pkt.Timestamp)
	isNew := t.dedup.Insert(fp)
	if !isNew {
		if t.metrics != nil {
			t.metrics.DedupHits.Inc()
		}
		return
	}

	peer, _ := c.getPeerID()
	t.deliver(Inbound{Packet: pkt, Peer: peer})

	addressedToSelf := pkt.RecipientID != nil && *pkt.RecipientID == t.selfID
	if pkt.TTL == 0 || addressedToSelf {
		return
	}

	relayed := *pkt
	relayed.TTL = pkt.TTL - 1
	t.floodExcept(c, &relayed)
}

func (t *Transport) deliver(in Inbound) {
	if t.onInbound != nil {
		t.onInbound(in)
	}
}

// floodExcept relays pkt to every Ready connection other than origin
// (spec §4.6: "forward to all connected peers other than the source").
func (t *Transport) floodExcept(origin *conn, pkt *codec.Packet) {
	t.mu.RLock()
	targets := make([]*conn, 0, len(t.byDevice))
	for _, c := range t.byDevice {
		if c != origin && c.getState() == StateReady {
			targets = append(targets, c)
		}
	}
	t.mu.RUnlock()

	for _, c := range targets {
		t.writePacket(c, pkt)
		if t.metrics != nil {
			t.metrics.PacketsRelayed.Inc()
		}
	}
}

// SendBroadcast fans text out to every Ready connection as a public
// Message packet with the configured default TTL, the same path
// handleBroadcast's relay logic floods onward on the receiving side.
func (t *Transport) SendBroadcast(text string) error {
	t.mu.RLock()
	conns := make([]*conn, 0, len(t.byDevice))
	for _, c := range t.byDevice {
		if c.getState() == StateReady {
			conns = append(conns, c)
		}
	}
	t.mu.RUnlock()

	pkt := &codec.Packet{
		Version:   t.cfg.PacketVersion,
		Type:      codec.TypeMessage,
		TTL:       t.cfg.DefaultTTL,
		Timestamp: nowMillis(),
		SenderID:  t.selfID,
		Payload:   []byte(text),
	}
	var firstErr error
	for _, c := range conns {
		if err := t.writePacket(c, pkt); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DisconnectAll tears down every live connection without touching
// persisted identity (spec §8's lighter-weight emergency response).
func (t *Transport) DisconnectAll() {
	t.mu.RLock()
	conns := make([]*conn, 0, len(t.byDevice))
	for _, c := range t.byDevice {
		conns = append(conns, c)
	}
	t.mu.RUnlock()
	for _, c := range conns {
		t.dropConn(c)
	}
}

func (t *Transport) sendAnnounce(c *conn) {
	t.writePacket(c, &codec.Packet{
		Version:   t.cfg.PacketVersion,
		Type:      codec.TypeAnnounce,
		TTL:       t.cfg.DefaultTTL,
		Timestamp: nowMillis(),
		SenderID:  t.selfID,
		Payload:   []byte(t.getNickname()),
	})
}

func (t *Transport) announceLoop(ctx context.Context) {
	ticker := time.NewTicker(t.cfg.AnnounceInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.HaltCh():
			return
		case <-ticker.C:
			t.mu.RLock()
			conns := make([]*conn, 0, len(t.byDevice))
			for _, c := range t.byDevice {
				if c.getState() == StateReady {
					conns = append(conns, c)
				}
			}
			t.mu.RUnlock()
			for _, c := range conns {
				t.sendAnnounce(c)
			}
		}
	}
}

func (t *Transport) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.HaltCh():
			return
		case <-ticker.C:
			t.sweepOnce(time.Now())
		}
	}
}

func (t *Transport) sweepOnce(now time.Time) {
	t.mu.RLock()
	conns := make([]*conn, 0, len(t.byDevice))
	for _, c := range t.byDevice {
		conns = append(conns, c)
	}
	t.mu.RUnlock()

	for _, c := range conns {
		switch c.getState() {
		case StateHandshaking:
			c.mu.Lock()
			stalled := now.Sub(c.handshakeAt) > t.cfg.HandshakeTimeout
			c.mu.Unlock()
			if stalled {
				t.failHandshake(c)
			}
		case StateReady:
			if c.idleFor(now) > t.cfg.StaleThreshold {
				c.setState(StateStale)
				t.dropConn(c)
			}
		}
		if err := c.session.CheckRekeyGrace(now); err != nil {
			t.dropConn(c)
		}
	}
}

// SendPrivate encrypts payload under the peer's Noise session and sends
// it as a NoiseEncrypted packet (implements router.Transport).
func (t *Transport) SendPrivate(peer codec.PeerID, payload []byte) error {
	t.mu.RLock()
	c, ok := t.byPeer[peer]
	t.mu.RUnlock()
	if !ok || c.getState() != StateReady {
		return errNotReachable
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
	ciphertext, err := c.session.Seal(encoded)
	if err != nil {
		t.dropConn(c)
		return err
	}

	return t.writePacket(c, &codec.Packet{
		Version:     t.cfg.PacketVersion,
		Type:        codec.TypeNoiseEncrypted,
		TTL:         0,
		Timestamp:   nowMillis(),
		Flags:       codec.FlagHasRecipient,
		SenderID:    t.selfID,
		RecipientID: &peer,
		Payload:     ciphertext,
	})
}

// writePacket pads, fragments if needed, and writes pkt to c one chunk
// at a time, each write bounded by the 10s confirmation timeout (spec
// §5). Repeated failures mark the connection Stale and tear it down.
func (t *Transport) writePacket(c *conn, pkt *codec.Packet) error {
	chunks, err := t.prepareWire(pkt)
	if err != nil {
		return err
	}
	for _, chunk := range chunks {
		ctx, cancel := context.WithTimeout(context.Background(), t.cfg.WriteTimeout)
		err := t.ble.WriteCharacteristic(ctx, c.link, chunk)
		cancel()
		if err != nil {
			c.mu.Lock()
			c.writeFailCount++
			failed := c.writeFailCount >= t.cfg.MaxWriteFailures
			c.mu.Unlock()
			if failed {
				c.setState(StateStale)
				t.dropConn(c)
			}
			return err
		}
		c.mu.Lock()
		c.writeFailCount = 0
		c.mu.Unlock()
	}
	return nil
}

func (t *Transport) prepareWire(pkt *codec.Packet) ([][]byte, error) {
	encoded, err := codec.Encode(pkt)
	if err != nil {
		return nil, err
	}
	if padded, perr := codec.Pad(encoded); perr == nil && len(padded) <= t.cfg.MTU {
		return [][]byte{padded}, nil
	}

	frags, ferr := fragment.Fragment(pkt, t.cfg.MTU)
	if ferr != nil {
		return nil, ferr
	}
	out := make([][]byte, 0, len(frags))
	for _, f := range frags {
		fe, err := codec.Encode(f)
		if err != nil {
			return nil, err
		}
		fp, err := codec.Pad(fe)
		if err != nil {
			return nil, err
		}
		out = append(out, fp)
	}
	return out, nil
}

func (t *Transport) dropConn(c *conn) {
	c.setState(StateDisconnected)
	if c.link != nil {
		t.ble.Disconnect(c.link)
	}
	t.mu.Lock()
	delete(t.byDevice, c.deviceRef)
	var lostPeer codec.PeerID
	var lost bool
	if pid, ok := c.getPeerID(); ok {
		if existing, ok := t.byPeer[pid]; ok && existing == c {
			delete(t.byPeer, pid)
			lostPeer, lost = pid, true
		}
	}
	t.mu.Unlock()

	if lost && t.onPeerLost != nil {
		t.onPeerLost(lostPeer)
	}
}

func nowMillis() uint64 { return uint64(time.Now().UnixMilli()) }
