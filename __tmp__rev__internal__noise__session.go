// Package noise drives one Noise_XX_25519_ChaChaPoly_SHA256 session per
// (local, remote) identity pair (spec §4.3): the three-message XX
// handshake, the resulting pair of transport cipher states, a 1024-entry
// sliding anti-replay window per inbound direction, and the hourly/
// 10,000-message rekey policy. Built on github.com/katzenpost/nyquist,
// the same Noise engine the teacher's core/wire/session.go assembles
// its mix-link sessions from, substituting the classical X25519 DH
// suite nyquist.NewProtocol parses directly from the protocol name for
// the teacher's post-quantum KEM variant.
package noise

import (
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/katzenpost/nyquist"
	"github.com/katzenpost/nyquist/dh"
)

// ProtocolName is the exact Noise protocol string this session speaks.
const ProtocolName = "Noise_XX_25519_ChaChaPoly_SHA256"

// RekeyMessageThreshold triggers a rekey after this many transport
// messages in a single direction (spec §4.3).
const RekeyMessageThreshold = 10000

// RekeySessionAge triggers a rekey after this much wall-clock time since
// the direction's last rekey (spec §4.3).
const RekeySessionAge = time.Hour

// RekeyGracePeriod bounds how long a session tolerates one direction
// having rekeyed while the other has not, before declaring the session
// Closed (spec §4.3: "if one side rekeys and the other fails to follow
// within a grace period, the session enters Closed"; the spec does not
// pin an exact duration, so this is a documented implementation choice).
const RekeyGracePeriod = 60 * time.Second

// Role is a session's side of the XX handshake.
type Role int

const (
	RoleInitiator Role = iota
	RoleResponder
)

func (r Role) String() string {
	if r == RoleInitiator {
		return "initiator"
	}
	return "responder"
}

// State is a position in the session state machine (spec §4.3):
// Idle → HandshakeSent → HandshakeReceived → Established → {Rekeying, Closed}.
type State int

const (
	StateIdle State = iota
	StateHandshakeSent
	StateHandshakeReceived
	StateEstablished
	StateRekeying
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshakeSent:
		return "handshake-sent"
	case StateHandshakeReceived:
		return "handshake-received"
	case StateEstablished:
		return "established"
	case StateRekeying:
		return "rekeying"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func protocol() (*nyquist.Protocol, error) {
	return nyquist.NewProtocol(ProtocolName)
}

// Session is one Noise_XX_25519_ChaChaPoly_SHA256 session with a single
// peer. All methods are safe for concurrent use; per spec §5 a given
// session serializes its own handshake/cipher operations under one lock
// while distinct peers' sessions run independently.
type Session struct {
	mu sync.Mutex

	role  Role
	state State

	localStatic dh.Keypair
	hs          *nyquist.HandshakeState

	sendCipher *nyquist.CipherState
	recvCipher *nyquist.CipherState

	sendNonce  uint64
	recvWindow replayWindow

	sendCount     uint64
	recvCount     uint64
	sendRekeyedAt time.Time
	recvRekeyedAt time.Time
	rekeyDeadline time.Time

	messageCount uint64
	startedAt    time.Time

	remoteStatic dh.PublicKey
}

// New constructs a Session in the Idle state for the given role, using
// localStatic as the session's static Curve25519 keypair.
func New(role Role, localStatic dh.Keypair) *Session {
	now := time.Now()
	return &Session{
		role:          role,
		state:         StateIdle,
		localStatic:   localStatic,
		startedAt:     now,
		sendRekeyedAt: now,
		recvRekeyedAt: now,
	}
}

// Role reports the session's handshake role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// State reports the session's current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RemoteStatic returns the peer's static public key, once the handshake
// has progressed far enough to have received it.
func (s *Session) RemoteStatic() dh.PublicKey {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStatic
}

// Advance drives one step of the XX handshake. Call it with incoming set
// to nil to produce the initiator's first message; call it with each
// message received from the peer thereafter. It returns the next
// message to send (nil once there is nothing left to send), whether the
// handshake has just completed, and any error. A cryptographic failure
// closes the session (spec §5: "session torn down").
func (s *Session) Advance(incoming []byte) (outgoing []byte, established bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateClosed {
		return nil, false, ErrClosed
	}

	if s.hs == nil {
		if s.role == RoleInitiator && incoming != nil {
			return nil, false, ErrOutOfOrder
		}
		if s.role == RoleResponder && incoming == nil {
			return nil, false, ErrOutOfOrder
		}
		pr, perr := protocol()
		if perr != nil {
			return nil, false, perr
		}
		hs, herr := nyquist.NewHandshake(&nyquist.HandshakeConfig{
			Protocol:    pr,
			DH:          &nyquist.DHConfig{LocalStatic: s.localStatic},
			IsInitiator: s.role == RoleInitiator,
		})
		if herr != nil {
			return nil, false, herr
		}
		s.hs = hs
	}

	if incoming != nil {
		_, rerr := s.hs.ReadMessage(nil, incoming)
		if rerr != nil && rerr != nyquist.ErrDone {
			s.failLocked()
			return nil, false, rerr
		}
		if rerr == nyquist.ErrDone {
			if ferr := s.finishHandshakeLocked(); ferr != nil {
				s.failLocked()
				return nil, false, ferr
			}
			return nil, true, nil
		}
		s.state = StateHandshakeReceived
	}

	out, werr := s.hs.WriteMessage(nil, nil)
	if werr != nil && werr != nyquist.ErrDone {
		s.failLocked()
		return nil, false, werr
	}
	if werr == nyquist.ErrDone {
		if ferr := s.finishHandshakeLocked(); ferr != nil {
			s.failLocked()
			return nil, false, ferr
		}
		return out, true, nil
	}
	s.state = StateHandshakeSent
	return out, false, nil
}

func (s *Session) finishHandshakeLocked() error {
	status := s.hs.GetStatus()
	if len(status.CipherStates) != 2 || status.CipherStates[0] == nil || status.CipherStates[1] == nil {
		return fmt.Errorf("noise: unexpected cipher state pair from handshake")
	}
	cs1, cs2 := status.CipherStates[0], status.CipherStates[1]
	if s.role == RoleInitiator {
		s.sendCipher, s.recvCipher = cs1, cs2
	} else {
		s.sendCipher, s.recvCipher = cs2, cs1
	}
	if status.DH != nil {
		s.remoteStatic = status.DH.RemoteStatic
	}
	s.hs = nil
	s.state = StateEstablished
	now := time.Now()
	s.sendRekeyedAt, s.recvRekeyedAt = now, now
	return nil
}

func (s *Session) failLocked() {
	if s.sendCipher != nil {
		s.sendCipher.Reset()
	}
	if s.recvCipher != nil {
		s.recvCipher.Reset()
	}
	s.sendCipher, s.recvCipher = nil, nil
	s.hs = nil
	s.state = StateClosed
}

// Close tears the session down immediately, wiping cipher key material.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failLocked()
}

// Seal encrypts plaintext under the session's send cipher and returns
// an 8-byte big-endian nonce prefix followed by the ciphertext.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished && s.state != StateRekeying {
		return nil, ErrNotEstablished
	}

	nonce := s.sendNonce
	s.sendCipher.SetNonce(nonce)
	ct, err := s.sendCipher.EncryptWithAd(nil, nil, plaintext)
	if err != nil {
		s.failLocked()
		return nil, err
	}
	s.sendNonce++
	s.sendCount++
	s.messageCount++

	out := make([]byte, 8+len(ct))
	binary.BigEndian.PutUint64(out[:8], nonce)
	copy(out[8:], ct)

	now := time.Now()
	s.clearRekeyingIfDueLocked()
	if s.sendCount >= RekeyMessageThreshold || now.Sub(s.sendRekeyedAt) >= RekeySessionAge {
		if rerr := s.rekeySendLocked(now); rerr != nil {
			s.failLocked()
			return nil, rerr
		}
	}
	return out, nil
}

// Open decrypts wire (an 8-byte nonce prefix followed by ciphertext)
// under the session's receive cipher, enforcing the sliding anti-replay
// window. A replay, out-of-window arrival, or MAC failure is a terminal
// error that closes the session (spec §4.3, §5).
func (s *Session) Open(wire []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateEstablished && s.state != StateRekeying {
		return nil, ErrNotEstablished
	}
	if len(wire) < 8 {
		return nil, ErrTruncated
	}
	nonce := binary.BigEndian.Uint64(wire[:8])
	if !s.recvWindow.Accept(nonce) {
		s.failLocked()
		return nil, ErrReplay
	}

	s.recvCipher.SetNonce(nonce)
	pt, err := s.recvCipher.DecryptWithAd(nil, nil, wire[8:])
	if err != nil {
		s.failLocked()
		return nil, err
	}
	s.recvCount++
	s.messageCount++

	now := time.Now()
	s.clearRekeyingIfDueLocked()
	if s.recvCount >= RekeyMessageThreshold || now.Sub(s.recvRekeyedAt) >= RekeySessionAge {
		if rerr := s.rekeyRecvLocked(now); rerr != nil {
			s.failLocked()
			return nil, rerr
		}
	}
	return pt, nil
}

// clearRekeyingIfDueLocked drops the session back to Established once a
// Seal or Open has succeeded since a rekey was triggered: a successful
// crypto operation using the current key pair is itself the proof that
// this direction and the peer's mirrored direction are back in sync.
func (s *Session) clearRekeyingIfDueLocked() {
	if s.state == StateRekeying {
		s.state = StateEstablished
		s.rekeyDeadline = time.Time{}
	}
}

func (s *Session) rekeySendLocked(now time.Time) error {
	if err := s.sendCipher.Rekey(); err != nil {
		return err
	}
	s.sendCount = 0
	s.sendRekeyedAt = now
	s.enterRekeyingLocked(now)
	return nil
}

func (s *Session) rekeyRecvLocked(now time.Time) error {
	if err := s.recvCipher.Rekey(); err != nil {
		return err
	}
	s.recvCount = 0
	s.recvRekeyedAt = now
	s.enterRekeyingLocked(now)
	return nil
}

func (s *Session) enterRekeyingLocked(now time.Time) {
	s.state = StateRekeying
	s.rekeyDeadline = now.Add(RekeyGracePeriod)
}

// CheckRekeyGrace closes the session if it has sat in Rekeying for
// longer than RekeyGracePeriod without the peer's direction catching up.
// Callers drive this from their own periodic tick (spec §5: this
// component owns no timer goroutine of its own).
func (s *Session) CheckRekeyGrace(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRekeying {
		return nil
	}
	if now.After(s.rekeyDeadline) {
		s.failLocked()
		return ErrRekeyTimeout
	}
	return nil
}

// MessageCount reports the total number of messages sealed and opened
// over the session's lifetime.
func (s *Session) MessageCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.messageCount
}


