// Package domain contains core business types and interfaces.
//
// This file defines usage accounting types: monthly periods, usage counters
// and entitlement decisions.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// periodLayout formats a calendar month period key.
const periodLayout = "2006-01"

// PeriodKey returns the quota period containing t (UTC calendar month).
func PeriodKey(t time.Time) string {
	return t.UTC().Format(periodLayout)
}

// ParsePeriodKey validates a period key and returns the first instant of the month.
func ParsePeriodKey(key string) (time.Time, error) {
	t, err := time.Parse(periodLayout, key)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid period %q: expected YYYY-MM", key)
	}
	return t.UTC(), nil
}

// PeriodBounds returns the start and end times of the month containing t in UTC.
func PeriodBounds(t time.Time) (start, end time.Time) {
	t = t.UTC()
	start = time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	end = start.AddDate(0, 1, 0)
	return start, end
}

// UsageCounter is the count of one feature for one user in one period.
type UsageCounter struct {
	UserID  uuid.UUID
	Feature FeatureKind
	Period  string
	Count   int64
}

// FeatureUsage reports usage of a counted feature against its limit.
type FeatureUsage struct {
	Feature   FeatureKind `json:"feature"`
	Used      int64       `json:"used"`
	Limit     int64       `json:"limit"`
	Remaining int64       `json:"remaining"`
	Unlimited bool        `json:"unlimited"`
}

// QuotaUsage represents current usage against quota limits.
type QuotaUsage struct {
	Tier     SubscriptionTier `json:"tier"`
	Period   string           `json:"period"`
	ResetsAt time.Time        `json:"resets_at"`
	Features []FeatureUsage   `json:"features"`
}

// NewFeatureUsage builds a usage line, clamping Remaining at zero.
func NewFeatureUsage(feature FeatureKind, used, limit int64) FeatureUsage {
	u := FeatureUsage{Feature: feature, Used: used, Limit: limit}
	if limit == Unlimited {
		u.Unlimited = true
		u.Remaining = Unlimited
		return u
	}
	u.Remaining = limit - used
	if u.Remaining < 0 {
		u.Remaining = 0
	}
	return u
}

// =============================================================================
// Entitlement Decisions
// =============================================================================

// DenialReason explains why a feature was denied.
type DenialReason string

const (
	DenialQuotaExceeded    DenialReason = "quota_exceeded"
	DenialTierInsufficient DenialReason = "tier_insufficient"
)

// Decision is the outcome of an entitlement check.
type Decision struct {
	Allowed      bool             `json:"allowed"`
	Reason       DenialReason     `json:"reason,omitempty"`
	Feature      FeatureKind      `json:"feature"`
	Tier         SubscriptionTier `json:"tier"`
	RequiredTier SubscriptionTier `json:"required_tier,omitempty"`
	Used         int64            `json:"used"`
	Limit        int64            `json:"limit"`
}

// Allow builds an allowing decision.
func Allow(tier SubscriptionTier, feature FeatureKind, used, limit int64) Decision {
	return Decision{Allowed: true, Feature: feature, Tier: tier, Used: used, Limit: limit}
}

// Deny builds a denying decision.
func Deny(reason DenialReason, tier SubscriptionTier, feature FeatureKind, used, limit int64) Decision {
	return Decision{
		Reason:       reason,
		Feature:      feature,
		Tier:         tier,
		RequiredTier: feature.MinimumTier(),
		Used:         used,
		Limit:        limit,
	}
}

// EntitlementError carries a denying decision through the error chain.
type EntitlementError struct {
	Decision Decision
}

func (e *EntitlementError) Error() string {
	return fmt.Sprintf("%s denied for tier %s: %s", e.Decision.Feature, e.Decision.Tier, e.Decision.Reason)
}

// NotEntitled wraps a denying decision in an application error with a
// user-facing upgrade message.
func NotEntitled(op string, d Decision) *Error {
	var msg string
	switch d.Reason {
	case DenialQuotaExceeded:
		msg = fmt.Sprintf("You've used %d of %d this month. Upgrade your plan to continue.", d.Used, d.Limit)
	default:
		msg = fmt.Sprintf("This feature requires the %s plan or higher.", d.RequiredTier)
	}
	return &Error{
		Code:    ENOTENTITLED,
		Op:      op,
		Message: msg,
		Err:     &EntitlementError{Decision: d},
	}
}
