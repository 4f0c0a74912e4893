package controller

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"strings"
	"time"

	"github.com/darabo/gapmesh/internal/ble"
	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/nostr"
	"github.com/darabo/gapmesh/internal/router"
)

var errNoMeshTransport = errors.New("controller: mesh transport disabled")

func newMessageID() [16]byte {
	var id [16]byte
	rand.Read(id[:])
	return id
}

// extractMentions pulls out every "@name" token in text, the way
// mentions are surfaced to MessageReceivedEvent for UI highlighting.
func extractMentions(text string) []string {
	var mentions []string
	for _, word := range strings.Fields(text) {
		if strings.HasPrefix(word, "@") && len(word) > 1 {
			mentions = append(mentions, strings.TrimPrefix(word, "@"))
		}
	}
	return mentions
}

// touchPeer records or updates a peer's snapshot, emitting PeerAppeared
// on first sight.
func (c *Controller) touchPeer(peer codec.PeerID, nickname string) {
	c.mu.Lock()
	snap, ok := c.peers[peer]
	if !ok {
		snap = &peerSnapshot{nickname: nickname}
		c.peers[peer] = snap
		c.mu.Unlock()
		c.emit(PeerAppearedEvent{PeerID: peer, Nickname: nickname})
	} else {
		if nickname != "" {
			snap.nickname = nickname
		}
		snap.lastSeen = time.Now()
		c.mu.Unlock()
	}
}

func (c *Controller) peerNickname(peer codec.PeerID) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if snap, ok := c.peers[peer]; ok {
		return snap.nickname
	}
	return ""
}

func (c *Controller) isBlocked(peer codec.PeerID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	snap, ok := c.peers[peer]
	return ok && snap.blocked
}

// handleMeshInbound and handleNetInbound both funnel into the same
// dispatch, since a decrypted private-message packet looks identical
// regardless of which transport carried it (spec §4.9: the Nostr path
// embeds the same core Packet BLE would have carried).
func (c *Controller) handleMeshInbound(in ble.Inbound) {
	c.dispatchInbound(in.Packet)
}

func (c *Controller) handleNetInbound(in nostr.Inbound) {
	c.dispatchInbound(in.Packet)
}

func (c *Controller) dispatchInbound(pkt *codec.Packet) {
	if c.isBlocked(pkt.SenderID) {
		return
	}

	switch pkt.Type {
	case codec.TypeAnnounce:
		c.touchPeer(pkt.SenderID, string(pkt.Payload))
	case codec.TypeLeave:
		c.touchPeer(pkt.SenderID, "")
		c.emit(PeerDisappearedEvent{PeerID: pkt.SenderID})
	case codec.TypeMessage:
		c.touchPeer(pkt.SenderID, "")
		text := string(pkt.Payload)
		c.emit(MessageReceivedEvent{
			PeerID:    pkt.SenderID,
			Nickname:  c.peerNickname(pkt.SenderID),
			Text:      text,
			Private:   pkt.Flags.Has(codec.FlagHasRecipient),
			Mentions:  extractMentions(text),
			Timestamp: time.UnixMilli(int64(pkt.Timestamp)),
		})
	}
}

func (c *Controller) handleHandshakeComplete(peer codec.PeerID, remoteStatic []byte) {
	fp := fingerprintOf(remoteStatic)
	c.touchPeer(peer, c.peerNickname(peer))
	c.mu.Lock()
	if snap, ok := c.peers[peer]; ok {
		snap.fingerprint = fp
	}
	c.mu.Unlock()
	c.emit(NoiseHandshakeCompleteEvent{PeerID: peer, Fingerprint: fp})
}

func (c *Controller) handlePeerLost(peer codec.PeerID) {
	c.emit(PeerDisappearedEvent{PeerID: peer})
}

// SendPublic broadcasts text on the mesh with TTL 7 (spec §4.8), the
// only transport capable of broadcast.
func (c *Controller) SendPublic(text string) error {
	if c.mesh == nil {
		return errNoMeshTransport
	}
	return c.mesh.SendBroadcast(text)
}

// SendPrivate sends text to peer, trying transports in Router order and
// queuing it in the peer's outbox otherwise. A DeliveryAckEvent is the
// best signal this module has for "handed to a transport" rather than
// "peer displayed it" (no end-to-end read receipt protocol exists), so
// it fires as soon as the Router reports an immediate, non-queued send.
func (c *Controller) SendPrivate(text string, peer codec.PeerID) (queued bool) {
	id := newMessageID()
	queued = c.router.SendPrivate(peer, c.peerNickname(peer), id, []byte(text), router.KindMessage, time.Now())
	if !queued {
		c.emit(DeliveryAckEvent{MessageID: id, PeerID: peer})
	}
	return queued
}

// StartHandshake is a no-op placeholder for explicit re-handshake
// requests; the mesh transport already handshakes automatically on
// discovery, so this only surfaces a system notice today.
func (c *Controller) StartHandshake(peer codec.PeerID) {
	c.emit(SystemEvent{Text: "handshake already in progress or complete for this peer"})
}

// SetNickname updates the mesh transport's announced nickname.
func (c *Controller) SetNickname(name string) {
	c.mu.Lock()
	c.nickname = name
	c.mu.Unlock()
	if c.mesh != nil {
		c.mesh.SetNickname(name)
	}
}

func (c *Controller) ownNickname() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nickname
}

// PanicWipe destroys all persisted key material and favorites, and
// clears in-memory peer/session state (spec §8 scenario 5).
func (c *Controller) PanicWipe() {
	c.sessions.Wipe()
	c.mu.Lock()
	c.peers = make(map[codec.PeerID]*peerSnapshot)
	c.mu.Unlock()
	c.router.Wipe()
	c.favorites.Clear()
	c.idStore.PanicWipe()
}

// EmergencyDisconnectAll tears down every live mesh connection without
// destroying persisted identity (spec §8: a lighter-weight panic
// response than PanicWipe).
func (c *Controller) EmergencyDisconnectAll() {
	if c.mesh != nil {
		c.mesh.DisconnectAll()
	}
}

func fingerprintOf(pub []byte) string {
	if pub == nil {
		return ""
	}
	const hextable = "0123456789abcdef"
	sum := sha256.Sum256(pub)
	out := make([]byte, len(sum)*2)
	for i, b := range sum {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0F]
	}
	return string(out)
}
