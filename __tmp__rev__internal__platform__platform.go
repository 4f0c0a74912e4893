// Package platform declares the external, injected interfaces the gapmesh
// core depends on (spec §6). The core never touches a keychain, a clock,
// a source of randomness, or a BLE radio directly: it is handed
// implementations of these four interfaces by the application that embeds
// it, the same way katzenpost's core depends only on injected pki.Client,
// wire.PeerAuthenticator and similar capability interfaces rather than
// concrete platform code.
package platform

import (
	"context"
	"time"
)

// Keychain is a secure key-value store for opaque secret blobs.
type Keychain interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte)
	Delete(key string)
	WipeAll()
}

// Clock provides monotonic and wall-clock time, injected so tests can
// control it deterministically.
type Clock interface {
	Now() time.Time
	Monotonic() time.Duration
}

// Random is a source of cryptographically strong random bytes.
type Random interface {
	Read(p []byte) (int, error)
}

// Notifier surfaces a user-visible system notification.
type Notifier interface {
	Present(title, body string, payload []byte)
}

// Discovery is one BLE advertisement observation.
type Discovery struct {
	DeviceRef string
	ServiceID [16]byte
	RSSI      int
}

// Conn is an opaque handle to a connected BLE link, returned by BLE.Connect.
type Conn interface {
	// Close tears down the underlying GATT connection.
	Close() error
}

// BLE is the platform's Bluetooth Low Energy capability, covering both the
// central and peripheral roles a gapmesh node plays simultaneously.
type BLE interface {
	// Advertise starts advertising serviceUUIDs with a single
	// writable+notifiable characteristic at characteristicUUID. Calling
	// Advertise again replaces the previous advertisement (used on UUID
	// rotation).
	Advertise(ctx context.Context, serviceUUIDs [][16]byte, characteristicUUID [16]byte) error

	// Scan starts scanning for any of serviceUUIDs and streams discoveries
	// until ctx is canceled.
	Scan(ctx context.Context, serviceUUIDs [][16]byte) (<-chan Discovery, error)

	// Connect opens a GATT connection to the peer named by deviceRef.
	Connect(ctx context.Context, deviceRef string) (Conn, error)

	// WriteCharacteristic writes b to the connection's characteristic and
	// blocks until the platform acknowledges delivery or ctx expires.
	WriteCharacteristic(ctx context.Context, conn Conn, b []byte) error

	// SubscribeNotifications streams raw notification bytes for conn until
	// it is closed.
	SubscribeNotifications(conn Conn) (<-chan []byte, error)

	// Disconnect tears down conn.
	Disconnect(conn Conn)
}


