// Package favorites tracks local favorite assertions about peers (spec
// §4.11): a favorite is a local opinion, a mutual favorite unlocks the
// internet transport for reaching that peer. Persisted as the single
// "favorites/v1" keychain blob, CBOR-encoded the way the teacher
// persists its catshadow/disk.go State — contrasted with the hand-rolled
// binary Packet format, CBOR is this module's serialization for
// everything that is not wire-format.
package favorites

import (
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/darabo/gapmesh/internal/codec"
	"github.com/darabo/gapmesh/internal/platform"
)

// Record is one peer's favorite assertion.
type Record struct {
	PeerID         codec.PeerID
	PeerPublicKey  []byte
	Nickname       string
	MutualFavorite bool
	NostrPubKey    string
	LastSeen       time.Time
}

// ReachabilityEvent is emitted whenever a favorite assertion changes in
// a way that may affect which transport can reach a peer.
type ReachabilityEvent struct {
	PeerID         codec.PeerID
	MutualFavorite bool
}

// Store is the in-memory, keychain-backed favorites table.
type Store struct {
	mu       sync.Mutex
	keychain platform.Keychain
	records  map[codec.PeerID]*Record
}

// NewStore constructs an empty Store. Call Load to populate it from any
// previously persisted blob.
func NewStore(kc platform.Keychain) *Store {
	return &Store{
		keychain: kc,
		records:  make(map[codec.PeerID]*Record),
	}
}

// Load reads and decodes the persisted favorites/v1 blob, if any. A
// missing blob is not an error: the store starts empty.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, ok := s.keychain.Get(platform.KeyFavoritesV1)
	if !ok {
		return nil
	}
	var list []*Record
	if _, err := cbor.UnmarshalFirst(blob, &list); err != nil {
		return err
	}
	s.records = make(map[codec.PeerID]*Record, len(list))
	for _, rec := range list {
		s.records[rec.PeerID] = rec
	}
	return nil
}

func (s *Store) saveLocked() error {
	list := make([]*Record, 0, len(s.records))
	for _, rec := range s.records {
		list = append(list, rec)
	}
	blob, err := cbor.Marshal(list)
	if err != nil {
		return err
	}
	s.keychain.Set(platform.KeyFavoritesV1, blob)
	return nil
}

// Get returns the favorite record for peerID, if one exists.
func (s *Store) Get(peerID codec.PeerID) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[peerID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// IsMutual reports whether peerID is currently a mutual favorite.
func (s *Store) IsMutual(peerID codec.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[peerID]
	return ok && rec.MutualFavorite
}

// SetLocalFavorite records (or clears) the local assertion that peerID
// is a favorite. It does not by itself set MutualFavorite — that is set
// when the peer's own favorite-notification asserts the same back (spec
// §4.11).
func (s *Store) SetLocalFavorite(peerID codec.PeerID, peerPublicKey []byte, isFavorite bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[peerID]
	if !ok {
		if !isFavorite {
			return nil
		}
		rec = &Record{PeerID: peerID, PeerPublicKey: peerPublicKey}
		s.records[peerID] = rec
	}
	if !isFavorite {
		rec.MutualFavorite = false
	}
	rec.LastSeen = time.Now()
	return s.saveLocked()
}

// ApplyRemoteNotification records a peer's own favorite-notification
// payload {isFavorite, myNostrPubKey?} (spec §4.11) and reports the
// resulting reachability event when mutuality changes.
func (s *Store) ApplyRemoteNotification(peerID codec.PeerID, peerPublicKey []byte, isFavorite bool, nostrPubKey string) (ReachabilityEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[peerID]
	if !ok {
		rec = &Record{PeerID: peerID, PeerPublicKey: peerPublicKey}
		s.records[peerID] = rec
	}

	wasMutual := rec.MutualFavorite
	// Mutuality requires that we have also favorited them locally; a
	// bare "they favorited us" assertion alone does not unlock the
	// internet transport.
	localFavorite := ok
	rec.MutualFavorite = localFavorite && isFavorite
	if nostrPubKey != "" {
		rec.NostrPubKey = nostrPubKey
	}
	rec.LastSeen = time.Now()

	if err := s.saveLocked(); err != nil {
		return ReachabilityEvent{}, false, err
	}

	changed := rec.MutualFavorite != wasMutual
	return ReachabilityEvent{PeerID: peerID, MutualFavorite: rec.MutualFavorite}, changed, nil
}

// Clear empties the in-memory and persisted favorites table (spec §8
// scenario 5: panicWipe leaves Favorites empty).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[codec.PeerID]*Record)
	s.keychain.Delete(platform.KeyFavoritesV1)
	return nil
}

// Len reports the number of tracked favorite records.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}
