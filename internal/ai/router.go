package ai

import (
	"context"
	"fmt"
	"strings"
)

// Route binds a model-name prefix to the generator serving it.
type Route struct {
	Prefix    string
	Generator Generator
}

// Router dispatches each call to the generator whose prefix matches the
// model, so one candidate chain can span several providers. The longest
// matching prefix wins; an empty prefix matches every model.
type Router struct {
	routes []Route
}

var _ Generator = (*Router)(nil)

// NewRouter creates a Router. Routes are matched longest prefix first.
func NewRouter(routes ...Route) *Router {
	r := &Router{}
	for _, rt := range routes {
		if rt.Generator != nil {
			r.routes = append(r.routes, rt)
		}
	}
	return r
}

// Owner names the route serving model, so callers can tell which models
// share a provider credential. Models no route serves are their own owner.
func (r *Router) Owner(model string) string {
	if i := r.match(model); i >= 0 {
		return "route:" + r.routes[i].Prefix
	}
	return "model:" + model
}

func (r *Router) match(model string) int {
	best, bestLen := -1, -1
	for i, rt := range r.routes {
		if strings.HasPrefix(model, rt.Prefix) && len(rt.Prefix) > bestLen {
			best, bestLen = i, len(rt.Prefix)
		}
	}
	return best
}

// resolve returns the generator for model. A model no route serves is
// reported as unavailable so a fallback walk moves on to the next candidate.
func (r *Router) resolve(model string) (Generator, error) {
	i := r.match(model)
	if i < 0 {
		return nil, fmt.Errorf("no provider configured for model %q: %w", model, EAIUnavailable)
	}
	return r.routes[i].Generator, nil
}

func (r *Router) GenerateEstimate(ctx context.Context, model string, params EstimateParams) (*RawEstimate, error) {
	g, err := r.resolve(model)
	if err != nil {
		return nil, err
	}
	return g.GenerateEstimate(ctx, model, params)
}

func (r *Router) GenerateImages(ctx context.Context, model string, params ImageParams) (*RawImages, error) {
	g, err := r.resolve(model)
	if err != nil {
		return nil, err
	}
	return g.GenerateImages(ctx, model, params)
}

func (r *Router) Probe(ctx context.Context, model string) error {
	g, err := r.resolve(model)
	if err != nil {
		return err
	}
	return g.Probe(ctx, model)
}
