// Package pricing gathers advisory local pricing for a ZIP code from several
// independent sources.
//
// Sources are fetched concurrently, each under its own timeout. A failing
// source marks its section missing; it never cancels or fails the others.
package pricing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/errgroup"
)

// DefaultSourceTimeout bounds a single source fetch.
const DefaultSourceTimeout = 5 * time.Second

// ErrInvalidZIP is returned without fetching when the ZIP code is empty or malformed.
var ErrInvalidZIP = errors.New("pricing: invalid ZIP code")

// Query identifies what to price.
type Query struct {
	ZIPCode   string
	RoomType  domain.RoomType
	Materials []string
}

func (q Query) cacheKey() string {
	return q.ZIPCode + "|" + string(q.RoomType) + "|" + strings.Join(q.Materials, ",")
}

// Source fetches one pricing section.
type Source interface {
	Name() domain.PricingSource
	Fetch(ctx context.Context, q Query) (domain.PricingSection, error)
}

// Aggregator fans a query out to every configured source.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	cache   *lru.LRU[string, *domain.PricingBundle]
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithSourceTimeout sets the per-source timeout.
func WithSourceTimeout(d time.Duration) Option {
	return func(a *Aggregator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithCache keeps complete bundles for ttl. Partial bundles are never cached.
func WithCache(size int, ttl time.Duration) Option {
	return func(a *Aggregator) {
		if size > 0 && ttl > 0 {
			a.cache = lru.NewLRU[string, *domain.PricingBundle](size, nil, ttl)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Aggregator) { a.logger = l }
}

// WithClock overrides the time source stamped on sections.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator over sources.
func NewAggregator(sources []Source, opts ...Option) *Aggregator {
	a := &Aggregator{
		sources: sources,
		timeout: DefaultSourceTimeout,
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate fetches every source concurrently and returns a bundle with one
// section per source, in source order. Failed sources are marked missing.
// The only errors are ErrInvalidZIP and caller cancellation.
func (a *Aggregator) Aggregate(ctx context.Context, zip string, room domain.RoomType, materials []string) (*domain.PricingBundle, error) {
	zip = strings.TrimSpace(zip)
	if zip == "" || !domain.ValidZIP(zip) {
		return nil, ErrInvalidZIP
	}

	q := Query{ZIPCode: zip, RoomType: room, Materials: materials}
	if a.cache != nil {
		if b, ok := a.cache.Get(q.cacheKey()); ok {
			return b, nil
		}
	}

	sections := make([]domain.PricingSection, len(a.sources))

	// Goroutines never return an error so one failure cannot cancel siblings.
	var g errgroup.Group
	for i, src := range a.sources {
		g.Go(func() error {
			sections[i] = a.fetch(ctx, src, q)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	bundle := &domain.PricingBundle{ZIPCode: zip, Sections: sections}
	if bundle.Partial() {
		a.logger.Warn("Pricing partially unavailable", "zip", zip, "missing", bundle.Missing())
	} else if a.cache != nil {
		a.cache.Add(q.cacheKey(), bundle)
	}

	return bundle, nil
}

func (a *Aggregator) fetch(ctx context.Context, src Source, q Query) domain.PricingSection {
	fctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	start := time.Now()
	section, err := src.Fetch(fctx, q)
	if err == nil {
		if fctx.Err() != nil {
			err = fctx.Err()
		}
	}
	elapsed := time.Since(start)

	if err != nil {
		metrics.PricingFetched(string(src.Name()), string(domain.SectionMissing), elapsed)
		a.logger.Debug("Pricing source failed", "source", src.Name(), "zip", q.ZIPCode, "error", err)
		return domain.PricingSection{
			Source: src.Name(),
			Status: domain.SectionMissing,
			Error:  failureReason(err),
		}
	}

	section.Source = src.Name()
	section.Status = domain.SectionOK
	section.Error = ""
	if section.FetchedAt.IsZero() {
		section.FetchedAt = a.now()
	}
	metrics.PricingFetched(string(src.Name()), string(domain.SectionOK), elapsed)
	return section
}

// failureReason is a short, user-safe description of a source failure.
func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrSourceStatus):
		return "upstream error"
	default:
		return "unavailable"
	}
}

// SkippedBundle is the bundle reported when no ZIP code was supplied.
func SkippedBundle() *domain.PricingBundle {
	b := &domain.PricingBundle{Sections: make([]domain.PricingSection, len(domain.PricingSources))}
	for i, src := range domain.PricingSources {
		b.Sections[i] = domain.PricingSection{Source: src, Status: domain.SectionSkipped}
	}
	return b
}
