// Package noisesession holds the set of established Noise sessions
// shared between transports. A session is negotiated once, typically
// over BLE when two devices are physically near each other, and then
// reused by any transport capable of reaching that peer afterward —
// the Nostr transport never performs its own handshake, it only seals
// already Noise-encrypted packets under NIP-44 (spec §4.9).
package noisesession

import (
	"sync"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/noise"
)

// Store is a peer-keyed registry of established Noise sessions.
type Store struct {
	mu       sync.RWMutex
	sessions map[codec.PeerID]*noise.Session
}

func NewStore() *Store {
	return &Store{sessions: make(map[codec.PeerID]*noise.Session)}
}

// Put registers the session established for peer, replacing any prior
// session for that peer.
func (s *Store) Put(peer codec.PeerID, session *noise.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[peer] = session
}

// Get returns the established session for peer, if any.
func (s *Store) Get(peer codec.PeerID) (*noise.Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[peer]
	return sess, ok
}

// Delete removes peer's session, e.g. after it closes or panicWipe.
func (s *Store) Delete(peer codec.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, peer)
}

// Wipe clears every stored session.
func (s *Store) Wipe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[codec.PeerID]*noise.Session)
}


