package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
)

// DefaultRetention keeps counters readable for a year of history reporting.
const DefaultRetention = 400 * 24 * time.Hour

// RedisStore is a Redis-backed Store. Each counter is a plain integer key,
// so increments are atomic across every instance sharing the server.
type RedisStore struct {
	client    goredis.Cmdable
	keyPrefix string
	retention time.Duration
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures RedisStore.
type RedisOption func(*RedisStore)

// WithKeyPrefix sets the Redis key prefix (default "renova:usage:").
func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) { s.keyPrefix = prefix }
}

// WithRetention sets how long a counter lives after its first increment.
func WithRetention(d time.Duration) RedisOption {
	return func(s *RedisStore) { s.retention = d }
}

// NewRedisStore creates a Redis-backed store.
// The client must be a connected *goredis.Client or *goredis.ClusterClient.
func NewRedisStore(client goredis.Cmdable, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:    client,
		keyPrefix: "renova:usage:",
		retention: DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// key lays out counters as {prefix}{period}:{user}:{feature} so a period can
// be matched by a single SCAN pattern.
func (s *RedisStore) key(userID uuid.UUID, feature domain.FeatureKind, period string) string {
	return fmt.Sprintf("%s%s:%s:%s", s.keyPrefix, period, userID, feature)
}

// incrementScript increments a counter and sets its expiry on creation.
// KEYS[1] = counter key
// ARGV[1] = retention in seconds
var incrementScript = goredis.NewScript(`
local n = redis.call("INCR", KEYS[1])
if n == 1 then
    redis.call("EXPIRE", KEYS[1], tonumber(ARGV[1]))
end
return n
`)

// Increment atomically increments the counter.
func (s *RedisStore) Increment(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	n, err := incrementScript.Run(ctx, s.client,
		[]string{s.key(userID, feature, period)},
		int64(s.retention.Seconds()),
	).Int64()
	if err != nil {
		return 0, fmt.Errorf("quota/redis: increment: %w", err)
	}
	return n, nil
}

// Read returns the counter, zero for a missing key.
func (s *RedisStore) Read(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind, period string) (int64, error) {
	if err := validateKey(userID, feature, period); err != nil {
		return 0, err
	}

	n, err := s.client.Get(ctx, s.key(userID, feature, period)).Int64()
	if errors.Is(err, goredis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota/redis: read: %w", err)
	}
	return n, nil
}

// ResetAll deletes every counter key of the period. On a cluster every
// master is scanned, since SCAN only walks the node it is sent to.
func (s *RedisStore) ResetAll(ctx context.Context, period string) error {
	if err := validatePeriod(period); err != nil {
		return err
	}

	pattern := s.keyPrefix + period + ":*"
	if cluster, ok := s.client.(*goredis.ClusterClient); ok {
		return cluster.ForEachMaster(ctx, func(ctx context.Context, node *goredis.Client) error {
			return deleteMatching(ctx, node, pattern, true)
		})
	}
	return deleteMatching(ctx, s.client, pattern, false)
}

// deleteMatching scans one node and deletes matching keys in batches.
// Cluster nodes reject multi-key DEL across hash slots, so perKey sends
// one DEL per key in a pipeline instead.
func deleteMatching(ctx context.Context, c goredis.Cmdable, pattern string, perKey bool) error {
	batch := make([]string, 0, 100)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		var err error
		if perKey {
			_, err = c.Pipelined(ctx, func(p goredis.Pipeliner) error {
				for _, key := range batch {
					p.Del(ctx, key)
				}
				return nil
			})
		} else {
			err = c.Del(ctx, batch...).Err()
		}
		batch = batch[:0]
		if err != nil {
			return fmt.Errorf("quota/redis: reset: %w", err)
		}
		return nil
	}

	iter := c.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == cap(batch) {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("quota/redis: scan: %w", err)
	}
	return flush()
}
