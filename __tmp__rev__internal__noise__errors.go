package noise

import "errors"

var (
	// ErrOutOfOrder is returned when a handshake message arrives out of
	// the expected XX sequence for the session's role.
	ErrOutOfOrder = errors.New("noise: handshake message out of order")

	// ErrNotEstablished is returned by Seal/Open before the handshake has
	// completed.
	ErrNotEstablished = errors.New("noise: session not established")

	// ErrAlreadyHandshaking reports a handshake already in progress. No
	// Session method returns it.
	ErrAlreadyHandshaking = errors.New("noise: handshake already in progress")

	// ErrReplay is returned when Open receives a nonce at or behind the
	// trailing edge of the 1024-entry sliding window, or one already seen.
	ErrReplay = errors.New("noise: replayed or out-of-window nonce")

	// ErrClosed is returned by Advance on a session that has torn down
	// due to a terminal cryptographic error or a missed rekey. Seal and
	// Open on such a session return ErrNotEstablished.
	ErrClosed = errors.New("noise: session closed")

	// ErrRekeyTimeout is returned when the peer does not complete its
	// side of a rekey within the grace period.
	ErrRekeyTimeout = errors.New("noise: peer did not rekey within grace period")

	// ErrTruncated is returned by Open when the wire payload is shorter
	// than the 8-byte nonce prefix.
	ErrTruncated = errors.New("noise: truncated ciphertext")
)


