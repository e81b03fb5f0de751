// Package billing looks up subscription state in Stripe.
//
// Payments and checkout happen elsewhere; this package only answers
// "which tier is this subscription on right now".
package billing

import (
	"fmt"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/subscription"
)

// Service defines the interface for billing lookups.
type Service interface {
	// GetSubscription retrieves a Stripe subscription by ID.
	GetSubscription(subscriptionID string) (*stripe.Subscription, error)

	// TierForPriceID returns the subscription tier for a given Stripe price ID,
	// or "" if the price is not mapped.
	TierForPriceID(priceID string) domain.SubscriptionTier

	// SubscriptionTier returns the tier a subscription currently grants.
	// Subscriptions that are not active or trialing grant the free tier.
	SubscriptionTier(subscriptionID string) (domain.SubscriptionTier, error)
}

// PriceConfig holds the Stripe price IDs for each paid plan.
type PriceConfig struct {
	ProfessionalMonthlyPriceID string
	ProfessionalYearlyPriceID  string
	EnterpriseMonthlyPriceID   string
	EnterpriseYearlyPriceID    string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	priceToTier map[string]domain.SubscriptionTier
	getSub      func(id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey is used to authenticate Stripe API calls.
// The prices configure which Stripe price IDs map to which tiers.
func NewStripeService(secretKey string, prices PriceConfig) Service {
	stripe.Key = secretKey
	return newStripeService(prices, subscription.Get)
}

func newStripeService(prices PriceConfig, getSub func(string, *stripe.SubscriptionParams) (*stripe.Subscription, error)) *stripeService {
	priceToTier := make(map[string]domain.SubscriptionTier)
	add := func(id string, tier domain.SubscriptionTier) {
		if id != "" {
			priceToTier[id] = tier
		}
	}
	add(prices.ProfessionalMonthlyPriceID, domain.SubscriptionTierProfessional)
	add(prices.ProfessionalYearlyPriceID, domain.SubscriptionTierProfessional)
	add(prices.EnterpriseMonthlyPriceID, domain.SubscriptionTierEnterprise)
	add(prices.EnterpriseYearlyPriceID, domain.SubscriptionTierEnterprise)

	return &stripeService{
		priceToTier: priceToTier,
		getSub:      getSub,
	}
}

func (s *stripeService) GetSubscription(subscriptionID string) (*stripe.Subscription, error) {
	sub, err := s.getSub(subscriptionID, nil)
	if err != nil {
		return nil, fmt.Errorf("stripe get subscription: %w", err)
	}
	return sub, nil
}

func (s *stripeService) TierForPriceID(priceID string) domain.SubscriptionTier {
	if tier, ok := s.priceToTier[priceID]; ok {
		return tier
	}
	return ""
}

func (s *stripeService) SubscriptionTier(subscriptionID string) (domain.SubscriptionTier, error) {
	sub, err := s.GetSubscription(subscriptionID)
	if err != nil {
		return "", err
	}

	if sub.Status != stripe.SubscriptionStatusActive && sub.Status != stripe.SubscriptionStatusTrialing {
		return domain.SubscriptionTierFree, nil
	}

	// Highest mapped tier across the subscription's items wins.
	best := domain.SubscriptionTierFree
	if sub.Items == nil {
		return best, nil
	}
	for _, item := range sub.Items.Data {
		if item == nil || item.Price == nil {
			continue
		}
		if tier := s.TierForPriceID(item.Price.ID); tier != "" && tier.AtLeast(best) {
			best = tier
		}
	}
	return best, nil
}
