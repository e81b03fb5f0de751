// Package domain contains core business types and interfaces.
//
// This file defines subscription tiers, gated features and the lookup tables
// that bind them together.
package domain

import (
	"strings"

	"github.com/google/uuid"
)

// SubscriptionTier represents the pricing tier of a subscription.
type SubscriptionTier string

const (
	SubscriptionTierFree         SubscriptionTier = "free"
	SubscriptionTierProfessional SubscriptionTier = "professional"
	SubscriptionTierEnterprise   SubscriptionTier = "enterprise"
)

// Unlimited marks a limit that is never reached.
const Unlimited int64 = -1

// tierRank orders tiers: free < professional < enterprise.
var tierRank = map[SubscriptionTier]int{
	SubscriptionTierFree:         0,
	SubscriptionTierProfessional: 1,
	SubscriptionTierEnterprise:   2,
}

// ParseSubscriptionTier normalizes a tier name. Unknown or empty names
// resolve to the free tier.
func ParseSubscriptionTier(s string) SubscriptionTier {
	t := SubscriptionTier(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := tierRank[t]; ok {
		return t
	}
	return SubscriptionTierFree
}

// Valid reports whether the tier is a known tier.
func (t SubscriptionTier) Valid() bool {
	_, ok := tierRank[t]
	return ok
}

// AtLeast reports whether t ranks at or above min. Unknown tiers rank as free.
func (t SubscriptionTier) AtLeast(min SubscriptionTier) bool {
	return tierRank[ParseSubscriptionTier(string(t))] >= tierRank[ParseSubscriptionTier(string(min))]
}

// TierLimit defines the monthly limits for a subscription tier.
type TierLimit struct {
	EstimateLimit int64
	ImageLimit    int64
}

// TierLimits maps subscription tiers to their monthly limits.
var TierLimits = map[SubscriptionTier]TierLimit{
	SubscriptionTierFree: {
		EstimateLimit: 5,
		ImageLimit:    2,
	},
	SubscriptionTierProfessional: {
		EstimateLimit: 100,
		ImageLimit:    50,
	},
	SubscriptionTierEnterprise: {
		EstimateLimit: Unlimited,
		ImageLimit:    Unlimited,
	},
}

// GetTierLimit returns the limits for a tier, defaulting to free tier for unknown tiers.
func GetTierLimit(tier SubscriptionTier) TierLimit {
	if limit, ok := TierLimits[tier]; ok {
		return limit
	}
	return TierLimits[SubscriptionTierFree]
}

// =============================================================================
// Features
// =============================================================================

// FeatureKind identifies a gated capability.
type FeatureKind string

const (
	FeatureEstimateGeneration FeatureKind = "estimate_generation"
	FeatureImageGeneration    FeatureKind = "image_generation"
	FeaturePDFExport          FeatureKind = "pdf_export"
	FeatureCustomBranding     FeatureKind = "custom_branding"
	FeatureAPIAccess          FeatureKind = "api_access"
	FeaturePrioritySupport    FeatureKind = "priority_support"
)

// AllFeatures lists every feature in display order.
var AllFeatures = []FeatureKind{
	FeatureEstimateGeneration,
	FeatureImageGeneration,
	FeaturePDFExport,
	FeatureCustomBranding,
	FeatureAPIAccess,
	FeaturePrioritySupport,
}

// FeatureMinimumTier maps each feature to the lowest tier that may use it.
var FeatureMinimumTier = map[FeatureKind]SubscriptionTier{
	FeatureEstimateGeneration: SubscriptionTierFree,
	FeatureImageGeneration:    SubscriptionTierFree,
	FeaturePDFExport:          SubscriptionTierProfessional,
	FeatureCustomBranding:     SubscriptionTierProfessional,
	FeatureAPIAccess:          SubscriptionTierEnterprise,
	FeaturePrioritySupport:    SubscriptionTierEnterprise,
}

// countedFeatures selects the per-tier limit for features metered by count.
var countedFeatures = map[FeatureKind]func(TierLimit) int64{
	FeatureEstimateGeneration: func(l TierLimit) int64 { return l.EstimateLimit },
	FeatureImageGeneration:    func(l TierLimit) int64 { return l.ImageLimit },
}

// Valid reports whether the feature is known.
func (f FeatureKind) Valid() bool {
	_, ok := FeatureMinimumTier[f]
	return ok
}

// Counted reports whether the feature consumes quota.
func (f FeatureKind) Counted() bool {
	_, ok := countedFeatures[f]
	return ok
}

// MinimumTier returns the lowest tier allowed to use the feature.
// Unknown features require enterprise.
func (f FeatureKind) MinimumTier() SubscriptionTier {
	if t, ok := FeatureMinimumTier[f]; ok {
		return t
	}
	return SubscriptionTierEnterprise
}

// Limit returns the monthly limit of a counted feature for a tier.
// Features that are not counted report Unlimited.
func (f FeatureKind) Limit(tier SubscriptionTier) int64 {
	pick, ok := countedFeatures[f]
	if !ok {
		return Unlimited
	}
	return pick(GetTierLimit(tier))
}

// Subscription is the stored subscription state of a user.
type Subscription struct {
	UserID               uuid.UUID
	Tier                 SubscriptionTier
	StripeSubscriptionID string
}
