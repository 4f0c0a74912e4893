package codec

import "errors"

// Decode and padding errors. Per spec §7, these are all non-fatal: the
// caller logs and drops the frame, the connection is preserved.
var (
	ErrUnknownVersion  = errors.New("codec: unknown packet version")
	ErrTruncated       = errors.New("codec: truncated input")
	ErrPayloadTooLarge = errors.New("codec: payload length exceeds configured cap")
	ErrBadPadding      = errors.New("codec: invalid padding")
	ErrFrameTooLarge   = errors.New("codec: frame exceeds maximum padding block, must be fragmented")
)
