package quota

import (
	"context"
	"sync"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

type counterKey struct {
	userID  uuid.UUID
	feature domain.FeatureKind
	period  string
}

// MemoryStore is an in-memory Store. Counters do not survive a restart.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[counterKey]int64
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		counters: make(map[counterKey]int64),
	}
}

// Increment adds one to the counter under the store lock.
func (s *MemoryStore) Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := counterKey{userID, feature, period}
	s.counters[k]++
	return s.counters[k], nil
}

// Read returns the counter value, zero for unseen keys.
func (s *MemoryStore) Read(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.counters[counterKey{userID, feature, period}], nil
}

// ResetAll deletes every counter in the period.
func (s *MemoryStore) ResetAll(ctx context.Context, period string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validatePeriod(period); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.counters {
		if k.period == period {
			delete(s.counters, k)
		}
	}
	return nil
}
