// Package uuidrotate derives the hourly-rotating BLE service UUID (spec
// §4.7): a deterministic HMAC-based UUID per one-hour bucket, computed
// identically by every device so peers can find each other without a
// shared rendezvous beyond wall-clock time.
package uuidrotate

import (
	"crypto/hmac"
	"crypto/sha256"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/darabo/gapmesh/internal/platform"
)

// BucketDuration is the rotation period.
const BucketDuration = time.Hour

// OverlapWindow is the trailing portion of a bucket during which both the
// current and next UUID are advertised/scanned.
const OverlapWindow = 5 * time.Minute

const derivationPrefix = "gap-mesh-ble-uuid-v1-"

// DefaultRotationSecret is SHA-256 of the fixed ASCII string
// "gap-mesh-global-rotation-v1", identical on every device (spec §4.7).
func DefaultRotationSecret() [32]byte {
	return sha256.Sum256([]byte("gap-mesh-global-rotation-v1"))
}

// Rotator derives and tracks rotating BLE service UUIDs.
type Rotator struct {
	Secret       [32]byte
	LegacyCompat bool
	Clock        platform.Clock
}

// New constructs a Rotator using the default project-wide rotation
// secret.
func New(clock platform.Clock, legacyCompat bool) *Rotator {
	return &Rotator{
		Secret:       DefaultRotationSecret(),
		LegacyCompat: legacyCompat,
		Clock:        clock,
	}
}

// Bucket returns the rotation bucket index for t: floor(unixMillis /
// 3_600_000).
func Bucket(t time.Time) int64 {
	return t.UnixMilli() / BucketDuration.Milliseconds()
}

// BucketBoundary returns the wall-clock instant bucket b ends (and b+1
// begins).
func BucketBoundary(b int64) time.Time {
	return time.UnixMilli((b + 1) * BucketDuration.Milliseconds())
}

// DeriveUUID computes the deterministic UUID for bucket b: the first 16
// bytes of HMAC-SHA256(secret, "gap-mesh-ble-uuid-v1-"||decimal(b)),
// with the RFC 4122 version-4 and variant bits forced.
func DeriveUUID(secret [32]byte, b int64) [16]byte {
	mac := hmac.New(sha256.New, secret[:])
	mac.Write([]byte(derivationPrefix + strconv.FormatInt(b, 10)))
	sum := mac.Sum(nil)

	var out [16]byte
	copy(out[:], sum[:16])
	out[6] = (out[6] & 0x0F) | 0x40 // version 4
	out[8] = (out[8] & 0x3F) | 0x80 // RFC 4122 variant
	return out
}

// String renders a 16-byte UUID value in canonical hyphenated form.
func String(id [16]byte) string {
	u, _ := uuid.FromBytes(id[:])
	return u.String()
}

func (r *Rotator) secret() [32]byte {
	var zero [32]byte
	if r.Secret == zero {
		return DefaultRotationSecret()
	}
	return r.Secret
}

func (r *Rotator) now() time.Time {
	if r.Clock != nil {
		return r.Clock.Now()
	}
	return time.Now()
}

func (r *Rotator) inOverlapWindow(now time.Time, bucket int64) bool {
	boundary := BucketBoundary(bucket)
	return boundary.Sub(now) <= OverlapWindow && boundary.Sub(now) > 0
}

// ScanSet returns the set of service UUIDs to scan for at now: the
// current and previous buckets, the next bucket during the overlap
// window, and the legacy constant UUID if enabled (spec §4.7).
func (r *Rotator) ScanSet(now time.Time) [][16]byte {
	b := Bucket(now)
	secret := r.secret()

	set := [][16]byte{
		DeriveUUID(secret, b),
		DeriveUUID(secret, b-1),
	}
	if r.inOverlapWindow(now, b) {
		set = append(set, DeriveUUID(secret, b+1))
	}
	if r.LegacyCompat {
		set = append(set, platform.LegacyServiceUUID)
	}
	return set
}

// TransmitSet returns the set of service UUIDs to advertise at now: the
// current bucket, the next bucket during the overlap window, and the
// legacy service UUID when LegacyCompat is set.
func (r *Rotator) TransmitSet(now time.Time) [][16]byte {
	b := Bucket(now)
	secret := r.secret()

	set := [][16]byte{DeriveUUID(secret, b)}
	if r.inOverlapWindow(now, b) {
		set = append(set, DeriveUUID(secret, b+1))
	}
	if r.LegacyCompat {
		set = append(set, platform.LegacyServiceUUID)
	}
	return set
}

// Current is a convenience accessor returning the UUID for now's bucket.
func (r *Rotator) Current(now time.Time) [16]byte {
	return DeriveUUID(r.secret(), Bucket(now))
}

func (r *Rotator) String() string {
	return fmt.Sprintf("uuidrotate.Rotator{legacy=%v}", r.LegacyCompat)
}
