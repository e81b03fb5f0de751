package fallback

import (
	"context"
	"time"

	"github.com/DukeRupert/renova/internal/metrics"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// CachingSelector remembers the last working model of each chain and tries
// it first on the next walk. The remembered model is re-validated by that
// attempt; if it fails the walk continues through the rest of the chain in
// order. Entries expire after the configured TTL.
type CachingSelector struct {
	next  Selector
	cache *lru.LRU[string, string]
}

var _ Selector = (*CachingSelector)(nil)

// NewCachingSelector wraps next with a last-known-good cache.
func NewCachingSelector(next Selector, ttl time.Duration) *CachingSelector {
	return &CachingSelector{
		next:  next,
		cache: lru.NewLRU[string, string](64, nil, ttl),
	}
}

// Select tries the cached model first, then the remaining candidates in order.
func (c *CachingSelector) Select(ctx context.Context, candidates Candidates, probe Probe) (Selection, error) {
	key := candidates.Key()

	ordered := candidates
	if model, ok := c.cache.Get(key); ok {
		metrics.ModelCacheHits.WithLabelValues("hit").Inc()
		ordered = promote(candidates, model)
	} else {
		metrics.ModelCacheHits.WithLabelValues("miss").Inc()
	}

	sel, err := c.next.Select(ctx, ordered, probe)
	if err != nil {
		c.cache.Remove(key)
		return sel, err
	}

	c.cache.Add(key, sel.Model)
	return sel, nil
}

// Forget drops every cached selection.
func (c *CachingSelector) Forget() {
	c.cache.Purge()
}

// promote moves model to the front, keeping the others in priority order.
func promote(candidates Candidates, model string) Candidates {
	out := make(Candidates, 0, len(candidates))
	found := false
	for _, m := range candidates {
		if m == model {
			found = true
			continue
		}
		out = append(out, m)
	}
	if !found {
		return candidates
	}
	return append(Candidates{model}, out...)
}
