// Package service contains the business logic layer.
//
// Services orchestrate interactions between stores, external APIs,
// and domain logic. They are responsible for:
// - Input validation
// - Business rule enforcement
// - Error translation (infrastructure errors -> domain errors)
package service

import "github.com/DukeRupert/renova/internal/domain"

// CanProceed decides whether a tier may use a feature given the usage
// already recorded this period. It has no side effects.
//
// Tier membership is checked first: a feature above the caller's tier is
// denied with DenialTierInsufficient regardless of usage. Counted features
// are then denied with DenialQuotaExceeded once usage reaches the tier's
// limit. Unlimited limits never deny on count.
func CanProceed(tier domain.SubscriptionTier, feature domain.FeatureKind, currentUsage int64) domain.Decision {
	tier = domain.ParseSubscriptionTier(string(tier))
	limit := feature.Limit(tier)

	if !feature.Valid() || !tier.AtLeast(feature.MinimumTier()) {
		return domain.Deny(domain.DenialTierInsufficient, tier, feature, currentUsage, limit)
	}

	if limit != domain.Unlimited && currentUsage >= limit {
		return domain.Deny(domain.DenialQuotaExceeded, tier, feature, currentUsage, limit)
	}

	return domain.Allow(tier, feature, currentUsage, limit)
}
