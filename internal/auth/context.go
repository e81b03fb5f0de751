// Package auth provides caller identity context helpers.
//
// Authentication itself happens upstream; the gateway forwards the caller's
// user ID (and optionally a subscription tier). This package is imported by
// middleware, handler and service packages without causing import cycles.
package auth

import (
	"context"
	"net/http"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const (
	// identityContextKey is the key used to store the caller identity in context.
	identityContextKey contextKey = "identity"
)

// Identity is the authenticated caller as forwarded by the gateway.
type Identity struct {
	UserID uuid.UUID
	// Tier is the gateway's tier claim; empty when the gateway sent none.
	Tier domain.SubscriptionTier
}

// GetIdentity retrieves the caller identity from the context.
//
// Returns nil if no identity is present.
//
// Usage:
//
//	id := auth.GetIdentity(r.Context())
//	if id == nil {
//	    // Handle unauthenticated request
//	}
func GetIdentity(ctx context.Context) *Identity {
	id, ok := ctx.Value(identityContextKey).(*Identity)
	if !ok {
		return nil
	}
	return id
}

// GetIdentityFromRequest retrieves the caller identity from the request context.
func GetIdentityFromRequest(r *http.Request) *Identity {
	return GetIdentity(r.Context())
}

// SetIdentity stores an identity in the context.
func SetIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}
