package controller

import (
	"time"

	"github.com/darabo/gapmesh/internal/codec"
)

// PeerAppearedEvent fires the first time a peer is seen (an Announce
// packet or a completed handshake from an identity not already known).
type PeerAppearedEvent struct {
	PeerID   codec.PeerID
	Nickname string
}

// PeerDisappearedEvent fires when a peer's mesh connection is torn down.
type PeerDisappearedEvent struct {
	PeerID codec.PeerID
}

// MessageReceivedEvent fires for every inbound chat message, public or
// private, from either transport.
type MessageReceivedEvent struct {
	PeerID    codec.PeerID
	Nickname  string
	Text      string
	Private   bool
	Mentions  []string
	Timestamp time.Time
}

// NoiseHandshakeCompleteEvent fires once per peer when its Noise
// session first establishes.
type NoiseHandshakeCompleteEvent struct {
	PeerID      codec.PeerID
	Fingerprint string
}

// DeliveryAckEvent fires when a private message is confirmed handed to
// a transport for a specific peer (spec §7's best-effort receipts).
type DeliveryAckEvent struct {
	MessageID [16]byte
	PeerID    codec.PeerID
}

// ReadAckEvent reports that the peer displayed a message. Nothing in this
// package emits it: internal/codec has no read-receipt packet type.
type ReadAckEvent struct {
	MessageID [16]byte
	PeerID    codec.PeerID
}

// SystemEvent carries a local, UI-only notice: command feedback (such as
// a /block or /unblock confirmation) or a message dropped from the outbox.
type SystemEvent struct {
	Text string
}
