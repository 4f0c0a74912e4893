package codec

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"io"
)

// Codec encodes and decodes Packets. MaxDecodeLen bounds the payload
// length field accepted at decode time (spec §4.1: "a hard cap
// (configurable, default 64 KiB)").
type Codec struct {
	MaxDecodeLen int
}

// DefaultMaxDecodeLen is used when a Codec's MaxDecodeLen is left zero.
const DefaultMaxDecodeLen = 64 * 1024

func (c *Codec) maxDecodeLen() int {
	if c.MaxDecodeLen <= 0 {
		return DefaultMaxDecodeLen
	}
	return c.MaxDecodeLen
}

// Encode serializes p into the wire format described in spec §4.1.
func Encode(p *Packet) ([]byte, error) {
	headerSize, err := HeaderSize(p.Version)
	if err != nil {
		return nil, err
	}
	lenFieldSize, err := payloadLenFieldSize(p.Version)
	if err != nil {
		return nil, err
	}

	payload := p.Payload
	if p.Flags.Has(FlagIsCompressed) {
		payload, err = compressPayload(payload, lenFieldSize)
		if err != nil {
			return nil, err
		}
	}

	maxLen := uint64(1)<<(8*lenFieldSize) - 1
	if uint64(len(payload)) > maxLen {
		return nil, ErrPayloadTooLarge
	}

	recipientSize := 0
	if p.Flags.Has(FlagHasRecipient) {
		recipientSize = 8
	}
	sigSize := 0
	if p.Flags.Has(FlagHasSignature) {
		sigSize = SignatureSize
	}

	total := headerSize + 8 + recipientSize + len(payload) + sigSize
	out := make([]byte, total)

	out[0] = p.Version
	out[1] = byte(p.Type)
	out[2] = p.TTL
	binary.BigEndian.PutUint64(out[3:11], p.Timestamp)
	out[11] = byte(p.Flags)
	switch lenFieldSize {
	case 2:
		binary.BigEndian.PutUint16(out[12:14], uint16(len(payload)))
	case 4:
		binary.BigEndian.PutUint32(out[12:16], uint32(len(payload)))
	}

	off := headerSize
	copy(out[off:off+8], p.SenderID[:])
	off += 8

	if p.Flags.Has(FlagHasRecipient) {
		if p.RecipientID == nil {
			return nil, ErrTruncated
		}
		copy(out[off:off+8], p.RecipientID[:])
		off += 8
	}

	copy(out[off:off+len(payload)], payload)
	off += len(payload)

	if p.Flags.Has(FlagHasSignature) {
		if p.Signature == nil {
			return nil, ErrTruncated
		}
		copy(out[off:off+SignatureSize], p.Signature[:])
		off += SignatureSize
	}

	return out, nil
}

// Decode parses b into a Packet using Codec's configured hard cap.
func (c *Codec) Decode(b []byte) (*Packet, error) {
	if len(b) < 1 {
		return nil, ErrTruncated
	}
	version := b[0]
	headerSize, err := HeaderSize(version)
	if err != nil {
		return nil, err
	}
	if len(b) < headerSize {
		return nil, ErrTruncated
	}
	lenFieldSize, _ := payloadLenFieldSize(version)

	p := &Packet{
		Version:   version,
		Type:      Type(b[1]),
		TTL:       b[2],
		Timestamp: binary.BigEndian.Uint64(b[3:11]),
		Flags:     Flags(b[11]),
	}

	var payloadLen int
	switch lenFieldSize {
	case 2:
		payloadLen = int(binary.BigEndian.Uint16(b[12:14]))
	case 4:
		payloadLen = int(binary.BigEndian.Uint32(b[12:16]))
	}
	if payloadLen > c.maxDecodeLen() {
		return nil, ErrPayloadTooLarge
	}

	off := headerSize
	if len(b) < off+8 {
		return nil, ErrTruncated
	}
	copy(p.SenderID[:], b[off:off+8])
	off += 8

	if p.Flags.Has(FlagHasRecipient) {
		if len(b) < off+8 {
			return nil, ErrTruncated
		}
		var rid PeerID
		copy(rid[:], b[off:off+8])
		p.RecipientID = &rid
		off += 8
	}

	if len(b) < off+payloadLen {
		return nil, ErrTruncated
	}
	payload := b[off : off+payloadLen]
	off += payloadLen

	if p.Flags.Has(FlagIsCompressed) {
		decompressed, err := decompressPayload(payload, lenFieldSize, c.maxDecodeLen())
		if err != nil {
			return nil, err
		}
		p.Payload = decompressed
	} else {
		p.Payload = append([]byte(nil), payload...)
	}

	if p.Flags.Has(FlagHasSignature) {
		if len(b) < off+SignatureSize {
			return nil, ErrTruncated
		}
		var sig [SignatureSize]byte
		copy(sig[:], b[off:off+SignatureSize])
		p.Signature = &sig
		off += SignatureSize
	}

	return p, nil
}

// Decode is a convenience wrapper using the default hard cap.
func Decode(b []byte) (*Packet, error) {
	c := &Codec{}
	return c.Decode(b)
}

func compressPayload(payload []byte, lenFieldSize int) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	rawLen := make([]byte, lenFieldSize)
	switch lenFieldSize {
	case 2:
		binary.BigEndian.PutUint16(rawLen, uint16(len(payload)))
	case 4:
		binary.BigEndian.PutUint32(rawLen, uint32(len(payload)))
	}
	return append(rawLen, buf.Bytes()...), nil
}

func decompressPayload(b []byte, lenFieldSize int, maxDecodeLen int) ([]byte, error) {
	if len(b) < lenFieldSize {
		return nil, ErrTruncated
	}
	var rawLen int
	switch lenFieldSize {
	case 2:
		rawLen = int(binary.BigEndian.Uint16(b[:2]))
	case 4:
		rawLen = int(binary.BigEndian.Uint32(b[:4]))
	}
	if rawLen > maxDecodeLen {
		return nil, ErrPayloadTooLarge
	}

	r, err := zlib.NewReader(bytes.NewReader(b[lenFieldSize:]))
	if err != nil {
		return nil, err
	}
	defer r.Close()

	out := make([]byte, rawLen)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
