package dedup

import (
	"context"
	"sync"
	"time"

	"channel-sync-core/internal/ports"
)

// MemoryStore is an in-process dedup horizon for tests and
// single-instance deployments. Insertion under the lock gives the same
// exactly-one-winner guarantee as the Redis SET NX path.
type MemoryStore struct {
	clock ports.Clock

	mu   sync.Mutex
	seen map[string]time.Time // key → expiry
}

// NewMemoryStore creates an in-memory dedup store.
func NewMemoryStore(clock ports.Clock) *MemoryStore {
	return &MemoryStore{
		clock: clock,
		seen:  make(map[string]time.Time),
	}
}

// Remember returns true exactly once per key within the TTL.
func (s *MemoryStore) Remember(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if expiry, ok := s.seen[key]; ok && now.Before(expiry) {
		return false, nil
	}
	s.seen[key] = now.Add(ttl)

	// Opportunistic sweep keeps the map from growing without bound.
	for k, expiry := range s.seen {
		if !now.Before(expiry) {
			delete(s.seen, k)
		}
	}
	return true, nil
}

var _ ports.DedupStore = (*MemoryStore)(nil)
