package noise

import (
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/katzenpost/nyquist/dh"
)

func genKeypair(t *testing.T) dh.Keypair {
	t.Helper()
	kp, err := dh.X25519.GenerateKeypair(rand.Reader)
	require.NoError(t, err)
	return kp
}

// driveHandshake runs a full XX exchange between two freshly constructed
// sessions and returns them once both report Established.
func driveHandshake(t *testing.T) (initiator, responder *Session) {
	t.Helper()
	r := require.New(t)

	aStatic := genKeypair(t)
	bStatic := genKeypair(t)

	a := New(RoleInitiator, aStatic)
	b := New(RoleResponder, bStatic)

	msg1, established, err := a.Advance(nil)
	r.NoError(err)
	r.False(established)
	r.NotEmpty(msg1)

	msg2, established, err := b.Advance(msg1)
	r.NoError(err)
	r.False(established)
	r.NotEmpty(msg2)

	msg3, established, err := a.Advance(msg2)
	r.NoError(err)
	r.True(established)
	r.NotEmpty(msg3)

	_, established, err = b.Advance(msg3)
	r.NoError(err)
	r.True(established)

	return a, b
}

func TestHandshakeSymmetryAndRoundTrip(t *testing.T) {
	r := require.New(t)
	a, b := driveHandshake(t)

	r.Equal(StateEstablished, a.State())
	r.Equal(StateEstablished, b.State())

	ct, err := a.Seal([]byte("hello"))
	r.NoError(err)

	pt, err := b.Open(ct)
	r.NoError(err)
	r.Equal([]byte("hello"), pt)

	// And the reverse direction.
	ct2, err := b.Seal([]byte("world"))
	r.NoError(err)
	pt2, err := a.Open(ct2)
	r.NoError(err)
	r.Equal([]byte("world"), pt2)
}

func TestReplayRejection(t *testing.T) {
	r := require.New(t)
	a, b := driveHandshake(t)

	var cts [][]byte
	for i := 0; i < 5; i++ {
		ct, err := a.Seal([]byte{byte(i)})
		r.NoError(err)
		cts = append(cts, ct)
	}
	for _, ct := range cts {
		_, err := b.Open(ct)
		r.NoError(err)
	}

	// Replaying an already-delivered nonce is a terminal error, closing
	// the session (spec §4.3: nonce repeat is terminal for that direction).
	_, err := b.Open(cts[2])
	r.ErrorIs(err, ErrReplay)
	r.Equal(StateClosed, b.State())
}

func TestInWindowOutOfOrderDeliveryAccepted(t *testing.T) {
	r := require.New(t)
	a, b := driveHandshake(t)

	var cts [][]byte
	for i := 0; i < 4; i++ {
		ct, err := a.Seal([]byte{byte(i)})
		r.NoError(err)
		cts = append(cts, ct)
	}

	// Deliver out of order: 0, 2, 3, 1.
	order := []int{0, 2, 3, 1}
	for _, idx := range order {
		pt, err := b.Open(cts[idx])
		r.NoError(err)
		r.Equal([]byte{byte(idx)}, pt)
	}
	r.Equal(StateEstablished, b.State())
}

func TestRekeyContinuity(t *testing.T) {
	r := require.New(t)
	a, b := driveHandshake(t)

	for i := 0; i < RekeyMessageThreshold; i++ {
		ct, err := a.Seal([]byte("x"))
		r.NoError(err)
		_, err = b.Open(ct)
		r.NoError(err)
	}

	// The 10,000th message on each side independently crossed the
	// rekey threshold and rotated that direction's cipher key.
	r.Equal(StateRekeying, a.State())
	r.Equal(StateRekeying, b.State())

	// The first ciphertext under the new key round-trips, which is the
	// proof of continuity that settles both sides back to Established.
	ct, err := a.Seal([]byte("post-rekey"))
	r.NoError(err)
	pt, err := b.Open(ct)
	r.NoError(err)
	r.Equal([]byte("post-rekey"), pt)

	r.Equal(StateEstablished, a.State())
	r.Equal(StateEstablished, b.State())
}

func TestRekeyGraceTimeoutClosesSession(t *testing.T) {
	r := require.New(t)
	a, _ := driveHandshake(t)

	a.mu.Lock()
	a.state = StateRekeying
	a.rekeyDeadline = time.Now().Add(-time.Second)
	a.mu.Unlock()

	err := a.CheckRekeyGrace(time.Now())
	r.ErrorIs(err, ErrRekeyTimeout)
	r.Equal(StateClosed, a.State())
}

func TestResolveGlareIsSymmetric(t *testing.T) {
	r := require.New(t)
	lower := []byte{0x01, 0x02}
	higher := []byte{0x01, 0x03}

	// Whichever side's own key is higher sees itself become responder,
	// and both sides land on the same outcome independently.
	r.Equal(RoleResponder, ResolveGlare(higher, lower))
	r.Equal(RoleInitiator, ResolveGlare(lower, higher))
}

func TestResolveGlareLowerKeyWinsInitiator(t *testing.T) {
	r := require.New(t)
	lower := []byte{0x00, 0xFF, 0xFF}
	higher := []byte{0x01, 0x00, 0x00}

	r.Equal(RoleInitiator, ResolveGlare(lower, higher), "the lexicographically lower static key must win initiator")
	r.Equal(RoleResponder, ResolveGlare(higher, lower))
}
