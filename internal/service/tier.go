// Package service contains the business logic layer.
//
// This file implements tier resolution: the caller's current subscription
// tier is an input to entitlement checks, never computed by them.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/billing"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// =============================================================================
// Interface Definition
// =============================================================================

// TierResolver supplies a user's current subscription tier.
type TierResolver interface {
	Tier(ctx context.Context, userID uuid.UUID) (domain.SubscriptionTier, error)
}

// SubscriptionReader loads stored subscription state.
// Implementations return an ENOTFOUND error for unknown users.
type SubscriptionReader interface {
	GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error)
}

// StaticTierResolver grants every caller the same tier.
type StaticTierResolver domain.SubscriptionTier

// Tier returns the configured tier.
func (s StaticTierResolver) Tier(context.Context, uuid.UUID) (domain.SubscriptionTier, error) {
	return domain.ParseSubscriptionTier(string(s)), nil
}

// =============================================================================
// Implementation
// =============================================================================

// TierResolverConfig configures the stored/Stripe-backed resolver.
type TierResolverConfig struct {
	// Subscriptions is the stored subscription state. Required.
	Subscriptions SubscriptionReader
	// Billing, when set, refreshes tiers of users with a Stripe subscription.
	Billing billing.Service
	// TrustGatewayTier uses the tier forwarded by the gateway when present.
	TrustGatewayTier bool
	// CacheTTL bounds how long a Stripe answer is reused. Zero means 5 minutes.
	CacheTTL time.Duration
	// DefaultTier is granted to users without stored state. Empty means free.
	DefaultTier domain.SubscriptionTier
}

type tierResolver struct {
	subs        SubscriptionReader
	billing     billing.Service
	trustClaims bool
	defaultTier domain.SubscriptionTier
	cache       *lru.LRU[string, domain.SubscriptionTier]
	logger      *slog.Logger
}

// NewTierResolver creates a TierResolver backed by stored subscriptions and,
// optionally, live Stripe lookups.
func NewTierResolver(cfg TierResolverConfig, logger *slog.Logger) TierResolver {
	ttl := cfg.CacheTTL
	if ttl == 0 {
		ttl = 5 * time.Minute
	}
	return &tierResolver{
		subs:        cfg.Subscriptions,
		billing:     cfg.Billing,
		trustClaims: cfg.TrustGatewayTier,
		defaultTier: domain.ParseSubscriptionTier(string(cfg.DefaultTier)),
		cache:       lru.NewLRU[string, domain.SubscriptionTier](1024, nil, ttl),
		logger:      logger,
	}
}

// Tier resolves the tier in order: trusted gateway claim, live Stripe
// subscription, stored tier. Unknown users get the default tier.
func (r *tierResolver) Tier(ctx context.Context, userID uuid.UUID) (domain.SubscriptionTier, error) {
	const op = "tier.resolve"

	if r.trustClaims {
		if id := auth.GetIdentity(ctx); id != nil && id.UserID == userID && id.Tier != "" {
			return domain.ParseSubscriptionTier(string(id.Tier)), nil
		}
	}

	sub, err := r.subs.GetSubscription(ctx, userID)
	if err != nil {
		if domain.ErrorCode(err) == domain.ENOTFOUND {
			return r.defaultTier, nil
		}
		return "", domain.Internal(err, op, "failed to load subscription")
	}

	stored := domain.ParseSubscriptionTier(string(sub.Tier))
	if r.billing == nil || sub.StripeSubscriptionID == "" {
		return stored, nil
	}

	if tier, ok := r.cache.Get(sub.StripeSubscriptionID); ok {
		return tier, nil
	}

	tier, err := r.billing.SubscriptionTier(sub.StripeSubscriptionID)
	if err != nil {
		r.logger.Warn("Stripe tier lookup failed, using stored tier",
			"user_id", userID,
			"stored_tier", stored,
			"error", err,
		)
		return stored, nil
	}

	r.cache.Add(sub.StripeSubscriptionID, tier)
	return tier, nil
}
