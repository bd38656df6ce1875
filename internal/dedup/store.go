package dedup

import (
	"context"
	"sync"
	"time"
)

// Record is the stored first-sighting of a fingerprint.
type Record struct {
	Fingerprint string    `json:"fingerprint"`
	MissionID   string    `json:"mission_id"`
	FirstSeen   time.Time `json:"first_seen"`
}

// Store is the atomic check-and-act interface the orchestrator
// short-circuits duplicates through. CheckAndInsert must be atomic under
// concurrent dispatch: of two racing items with the same fingerprint,
// exactly one observes inserted=true.
type Store interface {
	CheckAndInsert(ctx context.Context, fingerprint, missionID string) (inserted bool, err error)
}

// MemoryStore is a mutex-guarded in-process Store.
type MemoryStore struct {
	mu   sync.Mutex
	seen map[string]Record
	now  func() time.Time
}

// NewMemoryStore creates an empty in-memory fingerprint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		seen: make(map[string]Record),
		now:  time.Now,
	}
}

// CheckAndInsert records the fingerprint if unseen. The check and the
// insert happen under one lock so concurrent duplicates cannot both pass.
func (s *MemoryStore) CheckAndInsert(_ context.Context, fingerprint, missionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.seen[fingerprint]; ok {
		return false, nil
	}
	s.seen[fingerprint] = Record{
		Fingerprint: fingerprint,
		MissionID:   missionID,
		FirstSeen:   s.now().UTC(),
	}
	return true, nil
}

// Len returns the number of stored fingerprints.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

// Get returns the record for a fingerprint, if present.
func (s *MemoryStore) Get(fingerprint string) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.seen[fingerprint]
	return rec, ok
}
