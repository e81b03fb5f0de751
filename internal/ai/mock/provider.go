// Package mock provides an in-process ai.Generator for development and tests.
package mock

import (
	"bytes"
	"context"
	"image/color"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/disintegration/imaging"
)

// Provider is a mock AI provider for testing and development.
// Errors and responses can be configured per model identifier.
type Provider struct {
	logger *slog.Logger

	mu             sync.Mutex
	modelErrors    map[string]error
	estimateResult *ai.RawEstimate
	imagesResult   *ai.RawImages
	delay          time.Duration

	// Call tracking for testing
	estimateCalls atomic.Int64
	imageCalls    atomic.Int64
	probeCalls    atomic.Int64
	attempted     []string
}

var _ ai.Generator = (*Provider)(nil)

// New creates a new mock AI provider
func New(logger *slog.Logger) *Provider {
	return &Provider{
		logger:      logger,
		modelErrors: make(map[string]error),
	}
}

// FailModel makes every call against model return err.
func (p *Provider) FailModel(model string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelErrors[model] = err
}

// SetEstimate overrides the canned estimate.
func (p *Provider) SetEstimate(raw *ai.RawEstimate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.estimateResult = raw
}

// SetImages overrides the canned images.
func (p *Provider) SetImages(raw *ai.RawImages) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imagesResult = raw
}

// SetDelay makes every call block for d or until the context ends.
func (p *Provider) SetDelay(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delay = d
}

// EstimateCalls returns the number of GenerateEstimate calls.
func (p *Provider) EstimateCalls() int { return int(p.estimateCalls.Load()) }

// ImageCalls returns the number of GenerateImages calls.
func (p *Provider) ImageCalls() int { return int(p.imageCalls.Load()) }

// ProbeCalls returns the number of Probe calls.
func (p *Provider) ProbeCalls() int { return int(p.probeCalls.Load()) }

// Attempted returns the models called, in order.
func (p *Provider) Attempted() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.attempted))
	copy(out, p.attempted)
	return out
}

// GenerateEstimate returns a canned estimate scaled from the baseline range.
func (p *Provider) GenerateEstimate(ctx context.Context, model string, params ai.EstimateParams) (*ai.RawEstimate, error) {
	p.estimateCalls.Add(1)
	if err := p.begin(ctx, model); err != nil {
		return nil, err
	}

	p.mu.Lock()
	custom := p.estimateResult
	p.mu.Unlock()
	if custom != nil {
		out := *custom
		out.Usage.Model = model
		return &out, nil
	}

	low, high := params.Baseline.Low, params.Baseline.High
	if low <= 0 || high <= 0 {
		low, high = 10000, 15000
	}
	if idx := regionalIndex(params); idx > 0 {
		low, high = low*idx, high*idx
	}
	labor := 0.55
	confidence := 0.72
	minWeeks, maxWeeks := 3.0, 6.0

	raw := &ai.RawEstimate{
		TotalCost: &ai.RawRange{Low: &low, High: &high},
		LineItems: []ai.RawLineItem{
			{Category: "Labor", Description: "Installation and finish work", Low: low * labor, High: high * labor},
			{Category: "Materials", Description: "Fixtures, finishes and supplies", Low: low * 0.35, High: high * 0.35},
			{Category: "Permits", Description: "Local permits and inspections", Low: low * 0.10, High: high * 0.10},
		},
		Confidence:    &confidence,
		TimelineWeeks: &ai.RawRange{Low: &minWeeks, High: &maxWeeks},
		Warnings:      []string{"Hidden water damage or outdated wiring can raise costs."},
		Recommendations: []string{
			"Get at least three contractor bids.",
			"Order long-lead materials before demolition starts.",
		},
		Usage: ai.UsageInfo{Model: model, InputTokens: 900, OutputTokens: 400, Duration: 150 * time.Millisecond},
	}
	if len(params.Photos) == 0 {
		raw.Warnings = append(raw.Warnings, "No photos provided; scope is assumed from the description.")
	}
	return raw, nil
}

// GenerateImages returns solid-color PNG placeholders.
func (p *Provider) GenerateImages(ctx context.Context, model string, params ai.ImageParams) (*ai.RawImages, error) {
	p.imageCalls.Add(1)
	if err := p.begin(ctx, model); err != nil {
		return nil, err
	}

	p.mu.Lock()
	custom := p.imagesResult
	p.mu.Unlock()
	if custom != nil {
		out := *custom
		out.Usage.Model = model
		return &out, nil
	}

	count := params.Count
	if count <= 0 {
		count = 1
	}

	out := &ai.RawImages{
		Prompt: ai.BuildImagePrompt(params),
		Usage:  ai.UsageInfo{Model: model, Duration: 200 * time.Millisecond},
	}
	for i := 0; i < count; i++ {
		img := imaging.New(64, 48, color.NRGBA{R: 200, G: uint8(180 - 20*i), B: 160, A: 255})
		var buf bytes.Buffer
		if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
			return nil, err
		}
		out.Images = append(out.Images, ai.RawImage{ContentType: "image/png", Data: buf.Bytes()})
	}
	return out, nil
}

// Probe succeeds unless the model is configured to fail.
func (p *Provider) Probe(ctx context.Context, model string) error {
	p.probeCalls.Add(1)
	return p.begin(ctx, model)
}

// Reset clears call counters and custom responses for testing
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.modelErrors = make(map[string]error)
	p.estimateResult = nil
	p.imagesResult = nil
	p.delay = 0
	p.attempted = nil
	p.estimateCalls.Store(0)
	p.imageCalls.Store(0)
	p.probeCalls.Store(0)
}

func (p *Provider) begin(ctx context.Context, model string) error {
	p.mu.Lock()
	p.attempted = append(p.attempted, model)
	err := p.modelErrors[model]
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ai.Classify(ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return ai.Classify(err)
	}
	if err != nil {
		p.logger.Debug("Mock model failing", "model", model, "error", err)
		return err
	}
	return nil
}

func regionalIndex(params ai.EstimateParams) float64 {
	s, ok := params.Pricing.Section(domain.PricingRegionalIndex)
	if !ok || s.Status != domain.SectionOK {
		return 0
	}
	return s.Index
}
