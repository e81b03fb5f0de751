package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

// PostgresStore is a Postgres-backed Store. The usage_counters table is
// created by the embedded migrations.
type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store on an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const incrementCounterSQL = `
INSERT INTO usage_counters (user_id, feature, period, count, updated_at)
VALUES ($1, $2, $3, 1, now())
ON CONFLICT (user_id, feature, period)
DO UPDATE SET count = usage_counters.count + 1, updated_at = now()
RETURNING count`

const readCounterSQL = `
SELECT count FROM usage_counters
WHERE user_id = $1 AND feature = $2 AND period = $3`

const resetPeriodSQL = `
UPDATE usage_counters SET count = 0, updated_at = now()
WHERE period = $1`

// Increment upserts the counter row; the row lock taken by ON CONFLICT
// serializes concurrent increments of the same key.
func (s *PostgresStore) Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.QueryRowContext(ctx, incrementCounterSQL, userID, string(feature), period).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("quota/postgres: increment: %w", err)
	}
	return n, nil
}

// Read returns the counter, zero if the row does not exist.
func (s *PostgresStore) Read(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	var n int64
	err := s.db.QueryRowContext(ctx, readCounterSQL, userID, string(feature), period).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota/postgres: read: %w", err)
	}
	return n, nil
}

// ResetAll zeroes every counter row of the period.
func (s *PostgresStore) ResetAll(ctx context.Context, period string) error {
	if err := validatePeriod(period); err != nil {
		return err
	}

	if _, err := s.db.ExecContext(ctx, resetPeriodSQL, period); err != nil {
		return fmt.Errorf("quota/postgres: reset: %w", err)
	}
	return nil
}
