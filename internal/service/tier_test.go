package service

import (
	"context"
	"errors"
	"testing"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
)

type fakeSubscriptions struct {
	subs map[uuid.UUID]*domain.Subscription
	err  error
}

func (f *fakeSubscriptions) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[userID]
	if !ok {
		return nil, domain.NotFound("subscription.get", "user", userID.String())
	}
	return sub, nil
}

type fakeBilling struct {
	tier  domain.SubscriptionTier
	err   error
	calls int
}

func (f *fakeBilling) GetSubscription(string) (*stripe.Subscription, error) { return nil, f.err }

func (f *fakeBilling) TierForPriceID(string) domain.SubscriptionTier { return f.tier }

func (f *fakeBilling) SubscriptionTier(string) (domain.SubscriptionTier, error) {
	f.calls++
	return f.tier, f.err
}

func TestStaticTierResolver(t *testing.T) {
	tier, err := StaticTierResolver("Enterprise").Tier(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierEnterprise, tier)

	tier, err = StaticTierResolver("").Tier(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierFree, tier)
}

func TestTierResolver(t *testing.T) {
	stored := uuid.New()
	stripeUser := uuid.New()
	subs := &fakeSubscriptions{subs: map[uuid.UUID]*domain.Subscription{
		stored:     {UserID: stored, Tier: domain.SubscriptionTierProfessional},
		stripeUser: {UserID: stripeUser, Tier: domain.SubscriptionTierProfessional, StripeSubscriptionID: "sub_123"},
	}}

	tests := []struct {
		name    string
		userID  uuid.UUID
		billing *fakeBilling
		want    domain.SubscriptionTier
	}{
		{"unknown user is free", uuid.New(), nil, domain.SubscriptionTierFree},
		{"stored tier", stored, nil, domain.SubscriptionTierProfessional},
		{"stored tier without stripe id ignores billing", stored, &fakeBilling{tier: domain.SubscriptionTierEnterprise}, domain.SubscriptionTierProfessional},
		{"stripe tier wins", stripeUser, &fakeBilling{tier: domain.SubscriptionTierEnterprise}, domain.SubscriptionTierEnterprise},
		{"stripe failure falls back to stored", stripeUser, &fakeBilling{err: errors.New("stripe down")}, domain.SubscriptionTierProfessional},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := TierResolverConfig{Subscriptions: subs}
			if tt.billing != nil {
				cfg.Billing = tt.billing
			}
			r := NewTierResolver(cfg, discardLogger())

			tier, err := r.Tier(t.Context(), tt.userID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tier)
		})
	}
}

func TestTierResolver_DefaultTierForUnknownUsers(t *testing.T) {
	r := NewTierResolver(TierResolverConfig{
		Subscriptions: &fakeSubscriptions{},
		DefaultTier:   domain.SubscriptionTierProfessional,
	}, discardLogger())

	tier, err := r.Tier(t.Context(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierProfessional, tier)
}

func TestTierResolver_CachesStripeAnswer(t *testing.T) {
	userID := uuid.New()
	subs := &fakeSubscriptions{subs: map[uuid.UUID]*domain.Subscription{
		userID: {UserID: userID, Tier: domain.SubscriptionTierFree, StripeSubscriptionID: "sub_abc"},
	}}
	billing := &fakeBilling{tier: domain.SubscriptionTierProfessional}
	r := NewTierResolver(TierResolverConfig{Subscriptions: subs, Billing: billing}, discardLogger())

	for i := 0; i < 3; i++ {
		tier, err := r.Tier(t.Context(), userID)
		require.NoError(t, err)
		assert.Equal(t, domain.SubscriptionTierProfessional, tier)
	}
	assert.Equal(t, 1, billing.calls)
}

func TestTierResolver_GatewayClaim(t *testing.T) {
	userID := uuid.New()
	subs := &fakeSubscriptions{subs: map[uuid.UUID]*domain.Subscription{}}
	ctx := auth.SetIdentity(t.Context(), &auth.Identity{UserID: userID, Tier: domain.SubscriptionTierEnterprise})

	trusting := NewTierResolver(TierResolverConfig{Subscriptions: subs, TrustGatewayTier: true}, discardLogger())
	tier, err := trusting.Tier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierEnterprise, tier)

	// A claim for a different user is ignored.
	tier, err = trusting.Tier(ctx, uuid.New())
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierFree, tier)

	untrusting := NewTierResolver(TierResolverConfig{Subscriptions: subs}, discardLogger())
	tier, err = untrusting.Tier(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierFree, tier)
}

func TestTierResolver_StoreError(t *testing.T) {
	r := NewTierResolver(TierResolverConfig{Subscriptions: &fakeSubscriptions{err: errors.New("db down")}}, discardLogger())

	_, err := r.Tier(t.Context(), uuid.New())
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}
