// Package quota persists per-user, per-feature monthly usage counters.
//
// A Store is pure data access: it atomically increments and reads counters
// keyed by (user, feature, period) and never applies tier limits itself.
// Periods roll over lazily. The first read or write of a new period key
// observes zero, and past periods stay readable for reporting.
//
// Implementations:
//   - MemoryStore: mutex-guarded map for tests and single-process development
//   - RedisStore: INCR on one key per counter, shared across instances
//   - PostgresStore: upsert-increment on a usage_counters table
package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// Store defines usage counter operations.
type Store interface {
	// Increment atomically adds one to the counter and returns the new count.
	Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error)

	// Read returns the counter, or zero if it has never been written.
	Read(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error)

	// ResetAll zeroes every counter in the period.
	ResetAll(ctx context.Context, period string) error
}

// Store backends selectable from configuration.
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrInvalidKey is returned when a counter key is incomplete or malformed.
var ErrInvalidKey = errors.New("quota: invalid counter key")

// validateKey rejects zero user IDs, unknown features and malformed periods.
func validateKey(userID uuid.UUID, feature domain.FeatureKind, period string) error {
	if userID == uuid.Nil {
		return fmt.Errorf("%w: user id is required", ErrInvalidKey)
	}
	if !feature.Valid() {
		return fmt.Errorf("%w: unknown feature %q", ErrInvalidKey, feature)
	}
	return validatePeriod(period)
}

func validatePeriod(period string) error {
	if _, err := domain.ParsePeriodKey(period); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return nil
}
