package quota

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMiniredisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client), mr
}

// storeContract runs the behaviour every Store implementation must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("read of unseen key is zero", func(t *testing.T) {
		s := newStore(t)
		n, err := s.Read(ctx, uuid.New(), domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("increment returns new count", func(t *testing.T) {
		s := newStore(t)
		user := uuid.New()
		for want := int64(1); want <= 3; want++ {
			n, err := s.Increment(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
			require.NoError(t, err)
			assert.Equal(t, want, n)
		}
		n, err := s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(3), n)
	})

	t.Run("concurrent increments are never lost", func(t *testing.T) {
		s := newStore(t)
		user := uuid.New()
		const n = 50

		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Increment(ctx, user, domain.FeatureImageGeneration, "2026-10")
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := s.Read(ctx, user, domain.FeatureImageGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(n), got)
	})

	t.Run("new period starts at zero and old period stays readable", func(t *testing.T) {
		s := newStore(t)
		user := uuid.New()
		_, err := s.Increment(ctx, user, domain.FeatureEstimateGeneration, "2026-09")
		require.NoError(t, err)

		n, err := s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)

		n, err = s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("keys are isolated per feature and user", func(t *testing.T) {
		s := newStore(t)
		a, b := uuid.New(), uuid.New()
		_, err := s.Increment(ctx, a, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)

		n, err := s.Read(ctx, a, domain.FeatureImageGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		n, err = s.Read(ctx, b, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
	})

	t.Run("reset all clears only the period", func(t *testing.T) {
		s := newStore(t)
		user := uuid.New()
		_, err := s.Increment(ctx, user, domain.FeatureEstimateGeneration, "2026-09")
		require.NoError(t, err)
		_, err = s.Increment(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)

		require.NoError(t, s.ResetAll(ctx, "2026-10"))

		n, err := s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
		assert.Equal(t, int64(0), n)
		n, err = s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-09")
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})

	t.Run("invalid keys are rejected", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Increment(ctx, uuid.Nil, domain.FeatureEstimateGeneration, "2026-10")
		assert.True(t, errors.Is(err, ErrInvalidKey))
		_, err = s.Increment(ctx, uuid.New(), domain.FeatureKind("bogus"), "2026-10")
		assert.True(t, errors.Is(err, ErrInvalidKey))
		_, err = s.Read(ctx, uuid.New(), domain.FeatureEstimateGeneration, "October")
		assert.True(t, errors.Is(err, ErrInvalidKey))
		assert.True(t, errors.Is(s.ResetAll(ctx, ""), ErrInvalidKey))
	})
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestRedisStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		s, _ := newMiniredisStore(t)
		return s
	})
}

func TestRedisStore_ClusterResetAll(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClusterClient(&goredis.ClusterOptions{Addrs: []string{mr.Addr()}})
	t.Cleanup(func() { client.Close() })
	s := NewRedisStore(client)
	ctx := context.Background()

	users := make([]uuid.UUID, 5)
	for i := range users {
		users[i] = uuid.New()
		_, err := s.Increment(ctx, users[i], domain.FeatureEstimateGeneration, "2026-10")
		require.NoError(t, err)
	}
	_, err := s.Increment(ctx, users[0], domain.FeatureEstimateGeneration, "2026-09")
	require.NoError(t, err)

	require.NoError(t, s.ResetAll(ctx, "2026-10"))

	for _, user := range users {
		assert.False(t, mr.Exists(s.key(user, domain.FeatureEstimateGeneration, "2026-10")))
	}
	assert.True(t, mr.Exists(s.key(users[0], domain.FeatureEstimateGeneration, "2026-09")))
}

func TestRedisStore_SetsRetentionOnFirstIncrement(t *testing.T) {
	s, mr := newMiniredisStore(t)
	user := uuid.New()
	ctx := context.Background()

	_, err := s.Increment(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
	require.NoError(t, err)

	key := s.key(user, domain.FeatureEstimateGeneration, "2026-10")
	assert.Equal(t, DefaultRetention, mr.TTL(key))

	mr.FastForward(DefaultRetention + 1)
	n, err := s.Read(ctx, user, domain.FeatureEstimateGeneration, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestRedisStore_KeyPrefix(t *testing.T) {
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	defer client.Close()

	s := NewRedisStore(client, WithKeyPrefix("test:"))
	user := uuid.New()
	_, err := s.Increment(context.Background(), user, domain.FeatureEstimateGeneration, "2026-10")
	require.NoError(t, err)

	assert.True(t, mr.Exists("test:2026-10:"+user.String()+":estimate_generation"))
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Increment(ctx, uuid.New(), domain.FeatureEstimateGeneration, "2026-10")
	assert.ErrorIs(t, err, context.Canceled)

	n, err := s.Read(context.Background(), uuid.New(), domain.FeatureEstimateGeneration, "2026-10")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}
