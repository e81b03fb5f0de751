package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/service"
	"github.com/google/uuid"
)

// SubscriptionRepository reads stored subscription state from users.
type SubscriptionRepository struct {
	queries *Queries
}

var _ service.SubscriptionReader = (*SubscriptionRepository)(nil)

// NewSubscriptionRepository creates a SubscriptionRepository.
func NewSubscriptionRepository(db DBTX) *SubscriptionRepository {
	return &SubscriptionRepository{queries: New(db)}
}

// GetSubscription returns the user's stored tier and Stripe subscription.
func (r *SubscriptionRepository) GetSubscription(ctx context.Context, userID uuid.UUID) (*domain.Subscription, error) {
	const op = "subscription.get"

	row, err := r.queries.GetUserSubscription(ctx, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "user", userID.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load subscription")
	}

	return &domain.Subscription{
		UserID:               row.ID,
		Tier:                 domain.ParseSubscriptionTier(row.SubscriptionTier),
		StripeSubscriptionID: row.StripeSubscriptionID.String,
	}, nil
}
