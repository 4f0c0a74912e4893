package uuidrotate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/darabo/gapmesh/internal/platform"
)

func TestDeriveUUIDDeterministic(t *testing.T) {
	r := require.New(t)
	secret := DefaultRotationSecret()

	a := DeriveUUID(secret, 12345)
	b := DeriveUUID(secret, 12345)
	r.Equal(a, b)

	c := DeriveUUID(secret, 12346)
	r.NotEqual(a, c)
}

func TestDeriveUUIDVersionAndVariantBits(t *testing.T) {
	r := require.New(t)
	secret := DefaultRotationSecret()
	id := DeriveUUID(secret, 999)

	r.Equal(byte(0x40), id[6]&0xF0)
	r.Equal(byte(0x80), id[8]&0xC0)
}

func TestTwoInstancesSameClockAgree(t *testing.T) {
	r := require.New(t)
	now := time.Date(2026, 8, 3, 14, 22, 0, 0, time.UTC)

	r1 := New(nil, false)
	r2 := New(nil, false)

	r.Equal(r1.Current(now), r2.Current(now))
	r.Equal(r1.ScanSet(now), r2.ScanSet(now))
	r.Equal(r1.TransmitSet(now), r2.TransmitSet(now))
}

func TestScanSetContainsNextBucketOnlyNearBoundary(t *testing.T) {
	r := require.New(t)
	rot := New(nil, false)

	b := int64(471230) // arbitrary bucket
	boundary := BucketBoundary(b)

	farFromBoundary := boundary.Add(-10 * time.Minute)
	r.Equal(b, Bucket(farFromBoundary))
	farSet := rot.ScanSet(farFromBoundary)
	r.Len(farSet, 2) // current + previous only

	nearBoundary := boundary.Add(-1 * time.Second)
	r.Equal(b, Bucket(nearBoundary))
	nearSet := rot.ScanSet(nearBoundary)
	r.Len(nearSet, 3) // current + previous + next

	secret := rot.secret()
	nextUUID := DeriveUUID(secret, b+1)
	r.Contains(nearSet, nextUUID)
}

func TestTransmitSetAddsNextBucketDuringOverlap(t *testing.T) {
	r := require.New(t)
	rot := New(nil, false)

	b := int64(1)
	boundary := BucketBoundary(b)

	justBefore := boundary.Add(-30 * time.Second)
	set := rot.TransmitSet(justBefore)
	r.Len(set, 2)
	r.Equal(DeriveUUID(rot.secret(), b), set[0])
	r.Equal(DeriveUUID(rot.secret(), b+1), set[1])
}

func TestLegacyCompatAddsConstantUUID(t *testing.T) {
	r := require.New(t)
	rot := New(nil, true)
	now := time.Now()

	for _, set := range [][][16]byte{rot.ScanSet(now), rot.TransmitSet(now)} {
		found := false
		for _, id := range set {
			if id == platform.LegacyServiceUUID {
				found = true
			}
		}
		r.True(found)
	}
}


