package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSource returns a fixed section or error, optionally after a delay.
type fakeSource struct {
	name  domain.PricingSource
	index float64
	err   error
	delay time.Duration
	calls atomic.Int32
}

func (f *fakeSource) Name() domain.PricingSource { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, q Query) (domain.PricingSection, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return domain.PricingSection{}, ctx.Err()
		}
	}
	if f.err != nil {
		return domain.PricingSection{}, f.err
	}
	return domain.PricingSection{Index: f.index}, nil
}

func quiet() Option {
	return WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func threeSources() (*fakeSource, *fakeSource, *fakeSource) {
	return &fakeSource{name: domain.PricingLocalSellers, index: 1},
		&fakeSource{name: domain.PricingRegionalIndex, index: 1.1},
		&fakeSource{name: domain.PricingMaterialQuotes, index: 1}
}

func TestAggregate_AllSucceed(t *testing.T) {
	a1, a2, a3 := threeSources()
	agg := NewAggregator([]Source{a1, a2, a3}, quiet())

	b, err := agg.Aggregate(t.Context(), "97201", domain.RoomKitchen, []string{"granite"})
	require.NoError(t, err)

	require.Len(t, b.Sections, 3)
	assert.False(t, b.Partial())
	assert.Equal(t, "97201", b.ZIPCode)
	for i, src := range domain.PricingSources {
		assert.Equal(t, src, b.Sections[i].Source)
		assert.Equal(t, domain.SectionOK, b.Sections[i].Status)
		assert.False(t, b.Sections[i].FetchedAt.IsZero())
	}
}

func TestAggregate_OneSourceFails(t *testing.T) {
	a1, a2, a3 := threeSources()
	a2.err = errors.New("connection refused")
	agg := NewAggregator([]Source{a1, a2, a3}, quiet())

	b, err := agg.Aggregate(t.Context(), "97201", domain.RoomKitchen, nil)
	require.NoError(t, err)

	assert.True(t, b.Partial())
	assert.Equal(t, []domain.PricingSource{domain.PricingRegionalIndex}, b.Missing())

	ok := 0
	for _, s := range b.Sections {
		if s.Status == domain.SectionOK {
			ok++
		}
	}
	assert.Equal(t, 2, ok)

	s, found := b.Section(domain.PricingRegionalIndex)
	require.True(t, found)
	assert.Equal(t, "unavailable", s.Error)
}

func TestAggregate_SlowSourceDoesNotCancelSiblings(t *testing.T) {
	a1, a2, a3 := threeSources()
	a1.delay = time.Second
	agg := NewAggregator([]Source{a1, a2, a3}, quiet(), WithSourceTimeout(30*time.Millisecond))

	start := time.Now()
	b, err := agg.Aggregate(t.Context(), "97201", domain.RoomBathroom, nil)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, []domain.PricingSource{domain.PricingLocalSellers}, b.Missing())
	s, _ := b.Section(domain.PricingLocalSellers)
	assert.Equal(t, "timeout", s.Error)
}

func TestAggregate_InvalidZIP(t *testing.T) {
	a1, a2, a3 := threeSources()
	agg := NewAggregator([]Source{a1, a2, a3}, quiet())

	for _, zip := range []string{"", "  ", "1234", "abcde"} {
		_, err := agg.Aggregate(t.Context(), zip, domain.RoomKitchen, nil)
		assert.ErrorIs(t, err, ErrInvalidZIP, zip)
	}
	assert.Zero(t, a1.calls.Load()+a2.calls.Load()+a3.calls.Load())
}

func TestAggregate_CallerCancellation(t *testing.T) {
	a1, a2, a3 := threeSources()
	a1.delay = time.Second
	agg := NewAggregator([]Source{a1, a2, a3}, quiet())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	_, err := agg.Aggregate(ctx, "97201", domain.RoomKitchen, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAggregate_CachesCompleteBundles(t *testing.T) {
	a1, a2, a3 := threeSources()
	agg := NewAggregator([]Source{a1, a2, a3}, quiet(), WithCache(16, time.Minute))

	_, err := agg.Aggregate(t.Context(), "97201", domain.RoomKitchen, []string{"oak"})
	require.NoError(t, err)
	_, err = agg.Aggregate(t.Context(), "97201", domain.RoomKitchen, []string{"oak"})
	require.NoError(t, err)
	assert.Equal(t, int32(1), a1.calls.Load())

	// A partial bundle is fetched again next time.
	a2.err = errors.New("down")
	_, err = agg.Aggregate(t.Context(), "10001", domain.RoomKitchen, nil)
	require.NoError(t, err)
	_, err = agg.Aggregate(t.Context(), "10001", domain.RoomKitchen, nil)
	require.NoError(t, err)
	assert.Equal(t, int32(3), a1.calls.Load())
}

func TestSkippedBundle(t *testing.T) {
	b := SkippedBundle()
	require.Len(t, b.Sections, len(domain.PricingSources))
	assert.True(t, b.Empty())
	assert.False(t, b.Partial())
	for _, s := range b.Sections {
		assert.Equal(t, domain.SectionSkipped, s.Status)
	}
}

func TestHTTPSource(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "97201", r.URL.Query().Get("zip"))
		assert.Equal(t, "kitchen", r.URL.Query().Get("room"))
		assert.Equal(t, "granite,oak", r.URL.Query().Get("materials"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"index":  1.08,
			"quotes": []any{map[string]any{"item": "granite slab", "vendor": "Stone Co", "unit": "sq ft", "price_usd": 62.5}},
		})
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(domain.PricingMaterialQuotes, srv.URL, WithAPIKey("secret"), WithRateLimit(100, 1))
	s, err := src.Fetch(t.Context(), Query{ZIPCode: "97201", RoomType: domain.RoomKitchen, Materials: []string{"granite", "oak"}})
	require.NoError(t, err)

	assert.Equal(t, domain.PricingMaterialQuotes, s.Source)
	assert.Equal(t, 1.08, s.Index)
	require.Len(t, s.Quotes, 1)
	assert.Equal(t, 62.5, s.Quotes[0].PriceUSD)
}

func TestHTTPSource_Non2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	src := NewHTTPSource(domain.PricingLocalSellers, srv.URL)
	_, err := src.Fetch(t.Context(), Query{ZIPCode: "97201"})
	assert.ErrorIs(t, err, ErrSourceStatus)
	assert.Equal(t, "upstream error", failureReason(err))
}
