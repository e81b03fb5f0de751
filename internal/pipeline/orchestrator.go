// Package pipeline runs one estimate or visualization request from
// validation to committed usage.
//
// A run is a sequential chain of stages:
//
//	Idle -> Validating -> CheckingEntitlement -> AggregatingPricing ->
//	GeneratingContent -> Normalizing -> CommittingUsage -> Completed
//
// with Errored reachable from every non-terminal stage. Usage is committed
// only after a result has been generated and normalized, so a failed or
// canceled run never consumes quota.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/metrics"
	"github.com/DukeRupert/renova/internal/pricing"
	"github.com/DukeRupert/renova/internal/service"
)

// =============================================================================
// Collaborators
// =============================================================================

// PricingAggregator gathers advisory local pricing.
type PricingAggregator interface {
	Aggregate(ctx context.Context, zip string, room domain.RoomType, materials []string) (*domain.PricingBundle, error)
}

// Recorder persists completed results. It may fill in storage keys and
// URLs of rendered images.
type Recorder interface {
	Record(ctx context.Context, req *domain.EstimateRequest, result *domain.GenerationResult) error
}

// Config wires an Orchestrator.
type Config struct {
	Usage     service.UsageService   // Required
	Generator ai.Generator           // Required
	Photos    service.PhotoProcessor // Required
	Selector  fallback.Selector      // Defaults to a stateless selector
	Pricing   PricingAggregator      // Optional; without it pricing is skipped
	Recorder  Recorder               // Optional

	EstimateModels fallback.Candidates
	ImageModels    fallback.Candidates

	PhotoMaxDimension int
	Logger            *slog.Logger
	Now               func() time.Time
}

// Orchestrator runs generation requests.
type Orchestrator struct {
	usage          service.UsageService
	generator      ai.Generator
	photos         service.PhotoProcessor
	selector       fallback.Selector
	pricing        PricingAggregator
	recorder       Recorder
	estimateModels fallback.Candidates
	imageModels    fallback.Candidates
	photoMaxDim    int
	logger         *slog.Logger
	now            func() time.Time
}

// New creates an Orchestrator.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Usage == nil || cfg.Generator == nil || cfg.Photos == nil {
		return nil, errors.New("pipeline: usage, generator and photo processor are required")
	}
	if len(cfg.EstimateModels) == 0 {
		return nil, fmt.Errorf("pipeline: estimate models: %w", fallback.ErrNoCandidates)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Selector == nil {
		cfg.Selector = fallback.NewSelector(fallback.WithLogger(cfg.Logger))
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.PhotoMaxDimension <= 0 {
		cfg.PhotoMaxDimension = service.DefaultPhotoMaxDimension
	}

	return &Orchestrator{
		usage:          cfg.Usage,
		generator:      cfg.Generator,
		photos:         cfg.Photos,
		selector:       cfg.Selector,
		pricing:        cfg.Pricing,
		recorder:       cfg.Recorder,
		estimateModels: cfg.EstimateModels,
		imageModels:    cfg.ImageModels,
		photoMaxDim:    cfg.PhotoMaxDimension,
		logger:         cfg.Logger,
		now:            cfg.Now,
	}, nil
}

// =============================================================================
// Run
// =============================================================================

// run carries the mutable state of one pipeline execution.
type run struct {
	state    State
	progress tracker
	started  time.Time
	logger   *slog.Logger
}

func (r *run) enter(next State) {
	if !r.state.CanTransitionTo(next) {
		// Stages are entered in a fixed order below; reaching this is a bug.
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", r.state, next))
	}
	if r.state != StateIdle {
		metrics.StageObserved(string(r.state), time.Since(r.started))
	}
	r.state = next
	r.started = time.Now()
}

// fail moves the run to Errored and reports the last fraction reached.
func (r *run) fail(e *Error) *Error {
	r.enter(StateErrored)
	r.progress.emit(StateErrored, r.progress.last, domain.ErrorMessage(e))
	r.logger.Info("Pipeline run failed", "kind", e.Kind, "stage", e.Stage, "error", e.Err)
	return e
}

// Run validates params and executes the pipeline. The caller's tier is
// resolved only once the request is valid. progress may be nil. The
// returned error is always a *Error.
func (o *Orchestrator) Run(ctx context.Context, params domain.EstimateParams, tiers service.TierResolver, progress ProgressFunc) (*domain.GenerationResult, error) {
	const op = "pipeline.run"

	feature := params.Kind.Feature()
	metrics.RunStarted()

	result, perr := o.run(ctx, params, tiers, progress)
	if perr != nil {
		metrics.RunFailed(string(feature), string(perr.Kind))
		return nil, perr
	}

	metrics.RunCompleted(string(feature))
	o.logger.Info("Pipeline run completed",
		"op", op,
		"estimate_id", result.ID,
		"kind", result.Kind,
		"model", result.Model,
		"attempts", result.Attempts,
	)
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, params domain.EstimateParams, tiers service.TierResolver, progressFn ProgressFunc) (*domain.GenerationResult, *Error) {
	r := &run{
		state:    StateIdle,
		progress: tracker{fn: progressFn},
		started:  time.Now(),
		logger:   o.logger.With("user_id", params.UserID, "kind", params.Kind),
	}

	// Validating: no side effects, no network.
	r.enter(StateValidating)
	req, err := domain.NewEstimateRequest(params)
	if err != nil {
		return nil, r.fail(newError(KindInvalidInput, StateValidating, err))
	}
	r.logger = r.logger.With("estimate_id", req.ID())

	// CheckingEntitlement
	r.enter(StateCheckingEntitlement)
	r.progress.emit(StateCheckingEntitlement, FractionStart, "Checking your plan")
	tier, err := tiers.Tier(ctx, req.UserID())
	if err != nil {
		return nil, r.fail(newError(KindInternal, StateCheckingEntitlement, err))
	}
	r.logger = r.logger.With("tier", tier)
	if perr := o.checkEntitlement(ctx, req, tier); perr != nil {
		return nil, r.fail(perr)
	}

	// AggregatingPricing
	r.enter(StateAggregatingPricing)
	startMsg := "Gathering local pricing"
	if req.Kind() == domain.RequestKindVisualization {
		startMsg = "Preparing your visualization"
	}
	r.progress.emit(StateAggregatingPricing, FractionPricingStarted, startMsg)
	bundle, perr := o.aggregatePricing(ctx, req, r.logger)
	if perr != nil {
		return nil, r.fail(perr)
	}
	r.progress.emit(StateAggregatingPricing, FractionPricingDone, pricingMessage(req.Kind(), bundle))

	// GeneratingContent
	r.enter(StateGeneratingContent)
	gen, perr := o.generate(ctx, req, bundle, r)
	if perr != nil {
		return nil, r.fail(perr)
	}
	r.progress.emit(StateGeneratingContent, FractionGenerated, "Finishing up")

	// Normalizing
	r.enter(StateNormalizing)
	result, perr := o.normalize(req, gen, bundle)
	if perr != nil {
		return nil, r.fail(perr)
	}

	// CommittingUsage: the only quota mutation of a run.
	r.enter(StateCommittingUsage)
	if err := ctx.Err(); err != nil {
		return nil, r.fail(newError(KindCanceled, StateCommittingUsage, domain.Canceled(err, "pipeline.commit")))
	}
	if _, err := o.usage.Commit(ctx, req.UserID(), req.Feature()); err != nil {
		return nil, r.fail(newError(KindInternal, StateCommittingUsage, err))
	}

	// Completed
	r.enter(StateCompleted)
	if o.recorder == nil {
		result.EmbedImages()
	} else if err := o.recorder.Record(ctx, req, result); err != nil {
		r.logger.Error("Failed to record generation result", "error", err)
		result.EmbedImages()
	}
	r.progress.emit(StateCompleted, FractionCompleted, "Done")

	return result, nil
}

// =============================================================================
// Stages
// =============================================================================

func (o *Orchestrator) checkEntitlement(ctx context.Context, req *domain.EstimateRequest, tier domain.SubscriptionTier) *Error {
	decision, err := o.usage.Check(ctx, req.UserID(), tier, req.Feature())
	if err == nil {
		return nil
	}
	if domain.ErrorCode(err) == domain.ENOTENTITLED {
		e := newError(KindNotEntitled, StateCheckingEntitlement, err)
		e.Decision = &decision
		return e
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return newError(KindCanceled, StateCheckingEntitlement, domain.Canceled(ctxErr, "pipeline.entitlement"))
	}
	return newError(KindInternal, StateCheckingEntitlement, err)
}

// aggregatePricing runs only for estimates with a ZIP code. Source failures
// yield a partial bundle and never fail the run.
func (o *Orchestrator) aggregatePricing(ctx context.Context, req *domain.EstimateRequest, logger *slog.Logger) (*domain.PricingBundle, *Error) {
	if req.Kind() != domain.RequestKindEstimate {
		return nil, nil
	}
	if !req.HasZIP() || o.pricing == nil {
		return pricing.SkippedBundle(), nil
	}

	bundle, err := o.pricing.Aggregate(ctx, req.ZIPCode(), req.RoomType(), req.Materials())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(KindCanceled, StateAggregatingPricing, domain.Canceled(ctxErr, "pipeline.pricing"))
		}
		logger.Warn("Pricing aggregation failed, continuing without it", "error", err)
		return pricing.SkippedBundle(), nil
	}
	return bundle, nil
}

// generated is the raw output of the winning candidate.
type generated struct {
	model    string
	attempts int
	estimate *ai.RawEstimate
	images   *ai.RawImages
}

func (o *Orchestrator) generate(ctx context.Context, req *domain.EstimateRequest, bundle *domain.PricingBundle, r *run) (*generated, *Error) {
	photos, err := o.preparePhotos(req)
	if err != nil {
		return nil, newError(KindInternal, StateGeneratingContent, domain.Internal(err, "pipeline.photos", "failed to prepare photos"))
	}

	out := &generated{}
	var (
		chain fallback.Candidates
		probe fallback.Probe
	)

	switch req.Kind() {
	case domain.RequestKindVisualization:
		chain = o.imageModels
		params := ai.ImageParams{
			RequestID:   req.ID(),
			UserID:      req.UserID(),
			RoomType:    req.RoomType(),
			QualityTier: req.QualityTier(),
			Materials:   req.Materials(),
			Description: req.Description(),
			Photos:      photos,
			Count:       req.ImageCount(),
		}
		r.progress.emit(StateGeneratingContent, FractionPricingDone, "Rendering your new space")
		probe = func(ctx context.Context, model string) error {
			raw, err := o.generator.GenerateImages(ctx, model, params)
			if err != nil {
				return err
			}
			out.images = raw
			return nil
		}
	default:
		chain = o.estimateModels
		params := ai.EstimateParams{
			RequestID:     req.ID(),
			UserID:        req.UserID(),
			RoomType:      req.RoomType(),
			SquareFootage: req.SquareFootage(),
			ZIPCode:       req.ZIPCode(),
			QualityTier:   req.QualityTier(),
			Materials:     req.Materials(),
			Description:   req.Description(),
			Photos:        photos,
			Baseline:      req.BaselineRange(),
			Pricing:       bundle,
		}
		msg := "Estimating costs"
		if len(photos) > 0 {
			msg = "Analyzing your photos"
		}
		r.progress.emit(StateGeneratingContent, FractionPricingDone, msg)
		probe = func(ctx context.Context, model string) error {
			raw, err := o.generator.GenerateEstimate(ctx, model, params)
			if err != nil {
				return err
			}
			out.estimate = raw
			return nil
		}
	}

	sel, err := o.selector.Select(ctx, chain, probe)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, newError(KindCanceled, StateGeneratingContent, domain.Canceled(ctxErr, "pipeline.generate"))
		}
		e := newError(KindGenerationFailed, StateGeneratingContent, domain.GenerationFailed(err, "pipeline.generate"))
		var all *fallback.AllFailedError
		if errors.As(err, &all) {
			e.Failures = all.Failures
		}
		return nil, e
	}

	out.model = sel.Model
	out.attempts = sel.Attempts
	return out, nil
}

func (o *Orchestrator) preparePhotos(req *domain.EstimateRequest) ([]domain.Photo, error) {
	if !req.HasPhotos() {
		return nil, nil
	}
	in := req.Photos()
	out := make([]domain.Photo, 0, len(in))
	for _, p := range in {
		prepared, err := o.photos.Prepare(p, o.photoMaxDim)
		if err != nil {
			return nil, err
		}
		out = append(out, prepared)
	}
	return out, nil
}

func (o *Orchestrator) normalize(req *domain.EstimateRequest, gen *generated, bundle *domain.PricingBundle) (*domain.GenerationResult, *Error) {
	const op = "pipeline.normalize"

	result := &domain.GenerationResult{
		ID:          req.ID(),
		Kind:        req.Kind(),
		Model:       gen.model,
		Attempts:    gen.attempts,
		Pricing:     bundle,
		GeneratedAt: o.now().UTC(),
	}

	switch req.Kind() {
	case domain.RequestKindVisualization:
		images, err := normalizeImages(gen.images, req.ImageCount(), o.photos)
		if err != nil {
			return nil, newError(KindMalformedResponse, StateNormalizing, domain.Malformed(err, op))
		}
		result.Images = images
	default:
		est, err := normalizeEstimate(gen.estimate, req.BaselineRange(), bundle)
		if err != nil {
			return nil, newError(KindMalformedResponse, StateNormalizing, domain.Malformed(err, op))
		}
		result.Estimate = est
	}

	return result, nil
}

func pricingMessage(kind domain.RequestKind, b *domain.PricingBundle) string {
	switch {
	case kind == domain.RequestKindVisualization:
		return "Ready to render"
	case b == nil || b.Empty():
		return "Using national pricing"
	case b.Partial():
		return "Some local pricing was unavailable"
	default:
		return "Local pricing ready"
	}
}
