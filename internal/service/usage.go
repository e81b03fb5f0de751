// Package service contains the business logic layer.
//
// This file implements the usage service: admission checks against the
// caller's tier and the usage commit that follows a successful generation.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/metrics"
	"github.com/DukeRupert/renova/internal/quota"
	"github.com/google/uuid"
)

// =============================================================================
// Interface Definition
// =============================================================================

// UsageService checks entitlements and records usage.
type UsageService interface {
	// Check reads current usage and evaluates CanProceed. A deny is returned
	// as an ENOTENTITLED error wrapping the decision. Check never mutates usage.
	Check(ctx context.Context, userID uuid.UUID, tier domain.SubscriptionTier, feature domain.FeatureKind) (domain.Decision, error)

	// Commit records one use of a counted feature in the current period and
	// returns the new count. Features that are not counted are a no-op.
	Commit(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind) (int64, error)

	// Summary returns usage against limits for every counted feature.
	Summary(ctx context.Context, userID uuid.UUID, tier domain.SubscriptionTier) (*domain.QuotaUsage, error)

	// ResetPeriod zeroes every counter of a period.
	ResetPeriod(ctx context.Context, period string) error
}

// =============================================================================
// Implementation
// =============================================================================

type usageService struct {
	store  quota.Store
	logger *slog.Logger
	now    func() time.Time
}

// UsageOption configures the usage service.
type UsageOption func(*usageService)

// WithClock overrides the time source used to pick the current period.
func WithClock(now func() time.Time) UsageOption {
	return func(s *usageService) { s.now = now }
}

// NewUsageService creates a new UsageService.
func NewUsageService(store quota.Store, logger *slog.Logger, opts ...UsageOption) UsageService {
	s := &usageService{
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check evaluates whether the user may use the feature now.
func (s *usageService) Check(ctx context.Context, userID uuid.UUID, tier domain.SubscriptionTier, feature domain.FeatureKind) (domain.Decision, error) {
	const op = "usage.check"

	var used int64
	if feature.Counted() && feature.Limit(tier) != domain.Unlimited {
		n, err := s.store.Read(ctx, userID, feature, domain.PeriodKey(s.now()))
		if err != nil {
			return domain.Decision{}, domain.Internal(err, op, "failed to read usage")
		}
		used = n
	}

	decision := CanProceed(tier, feature, used)
	metrics.EntitlementDecisions.WithLabelValues(string(feature), decisionLabel(decision)).Inc()

	if !decision.Allowed {
		s.logger.Info("Entitlement denied",
			"user_id", userID,
			"tier", tier,
			"feature", feature,
			"reason", decision.Reason,
			"used", decision.Used,
			"limit", decision.Limit,
		)
		return decision, domain.NotEntitled(op, decision)
	}

	return decision, nil
}

// Commit increments the counter for the current period.
func (s *usageService) Commit(ctx context.Context, userID uuid.UUID, feature domain.FeatureKind) (int64, error) {
	const op = "usage.commit"

	if !feature.Counted() {
		return 0, nil
	}

	n, err := s.store.Increment(ctx, userID, feature, domain.PeriodKey(s.now()))
	if err != nil {
		return 0, domain.Internal(err, op, "failed to record usage")
	}
	metrics.UsageCommits.WithLabelValues(string(feature)).Inc()

	s.logger.Debug("Usage committed", "user_id", userID, "feature", feature, "count", n)
	return n, nil
}

// Summary returns the current period's usage for each counted feature.
func (s *usageService) Summary(ctx context.Context, userID uuid.UUID, tier domain.SubscriptionTier) (*domain.QuotaUsage, error) {
	const op = "usage.summary"

	tier = domain.ParseSubscriptionTier(string(tier))
	now := s.now()
	period := domain.PeriodKey(now)
	_, resetsAt := domain.PeriodBounds(now)

	usage := &domain.QuotaUsage{
		Tier:     tier,
		Period:   period,
		ResetsAt: resetsAt,
	}

	for _, f := range domain.AllFeatures {
		if !f.Counted() {
			continue
		}
		n, err := s.store.Read(ctx, userID, f, period)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to read usage")
		}
		usage.Features = append(usage.Features, domain.NewFeatureUsage(f, n, f.Limit(tier)))
	}

	return usage, nil
}

// ResetPeriod clears every counter of the period.
func (s *usageService) ResetPeriod(ctx context.Context, period string) error {
	const op = "usage.reset_period"

	if _, err := domain.ParsePeriodKey(period); err != nil {
		return domain.Invalid(op, "Period must be formatted YYYY-MM")
	}
	if err := s.store.ResetAll(ctx, period); err != nil {
		return domain.Internal(err, op, "failed to reset usage")
	}

	s.logger.Info("Usage period reset", "period", period)
	return nil
}

func decisionLabel(d domain.Decision) string {
	if d.Allowed {
		return "allowed"
	}
	return string(d.Reason)
}
