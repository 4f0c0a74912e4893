// Package codec implements the gapmesh binary wire packet: encode/decode,
// 0x80-marker padding to BLE-friendly block sizes, and zlib payload
// compression (spec §4.1). It is reentrant and purely computational, so
// any number of goroutines may call it concurrently.
package codec

import "fmt"

// Type identifies the kind of packet crossing the wire.
type Type uint8

// Packet types (spec §3).
const (
	TypeAnnounce       Type = 0x01
	TypeMessage        Type = 0x02
	TypeLeave          Type = 0x03
	TypeNoiseHandshake Type = 0x10
	TypeNoiseEncrypted Type = 0x11
	TypeFragment       Type = 0x20
	TypeRequestSync    Type = 0x21
	TypeFileTransfer   Type = 0x22
)

func (t Type) String() string {
	switch t {
	case TypeAnnounce:
		return "Announce"
	case TypeMessage:
		return "Message"
	case TypeLeave:
		return "Leave"
	case TypeNoiseHandshake:
		return "NoiseHandshake"
	case TypeNoiseEncrypted:
		return "NoiseEncrypted"
	case TypeFragment:
		return "Fragment"
	case TypeRequestSync:
		return "RequestSync"
	case TypeFileTransfer:
		return "FileTransfer"
	default:
		return fmt.Sprintf("Type(0x%02x)", uint8(t))
	}
}

// Flags is a bitmask of optional-section indicators.
type Flags uint8

const (
	FlagHasRecipient Flags = 1 << 0
	FlagHasSignature Flags = 1 << 1
	FlagIsCompressed Flags = 1 << 2
	// FlagHasRoute is defined by the v2 wire format but not exercised by
	// the current receive path (spec §9 design note: preserve, do not
	// invent semantics for it).
	FlagHasRoute Flags = 1 << 3
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// PeerID is the first 8 bytes of a peer's static public key.
type PeerID [8]byte

func (p PeerID) String() string {
	const hextable = "0123456789abcdef"
	out := make([]byte, len(p)*2)
	for i, b := range p {
		out[i*2] = hextable[b>>4]
		out[i*2+1] = hextable[b&0x0F]
	}
	return string(out)
}

// SignatureSize is the size of an Ed25519 signature over header+payload.
const SignatureSize = 64

// Packet is the unit that crosses a gapmesh wire (spec §3).
type Packet struct {
	Version     uint8
	Type        Type
	TTL         uint8
	Timestamp   uint64 // milliseconds since epoch
	Flags       Flags
	SenderID    PeerID
	RecipientID *PeerID // nil => broadcast
	Payload     []byte  // decompressed application payload
	Signature   *[SignatureSize]byte
}

// HeaderSize returns the fixed header size for the packet's version,
// excluding senderID/recipientID/payload/signature (spec §4.1: 14 bytes
// v1, 16 bytes v2 — the authoritative sizes per spec §9, not the "13
// bytes" figure found in stale documentation elsewhere).
func HeaderSize(version uint8) (int, error) {
	switch version {
	case 1:
		return 14, nil
	case 2:
		return 16, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}

// payloadLenFieldSize returns how many bytes encode the payload length for
// the given version: 2 for v1, 4 for v2.
func payloadLenFieldSize(version uint8) (int, error) {
	switch version {
	case 1:
		return 2, nil
	case 2:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}
}
