package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

// Headers set by the gateway after it authenticates the caller.
const (
	HeaderUserID           = "X-User-ID"
	HeaderSubscriptionTier = "X-Subscription-Tier"
)

// IdentityMiddleware reads the caller identity forwarded by the gateway.
type IdentityMiddleware struct {
	logger *slog.Logger
}

// NewIdentityMiddleware creates a new identity middleware.
func NewIdentityMiddleware(logger *slog.Logger) *IdentityMiddleware {
	return &IdentityMiddleware{logger: logger}
}

// WithIdentity loads the identity into the context when the headers carry
// one. It never rejects a request.
//
// A malformed user ID is treated as absent. An unknown tier claim is
// dropped so the resolver falls back to stored subscription state.
func (m *IdentityMiddleware) WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if raw == "" {
			next.ServeHTTP(w, r)
			return
		}

		userID, err := uuid.Parse(raw)
		if err != nil {
			m.logger.Debug("ignoring malformed user id header", "value", raw)
			next.ServeHTTP(w, r)
			return
		}

		id := &auth.Identity{UserID: userID}
		if claim := strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderSubscriptionTier))); claim != "" {
			if tier := domain.SubscriptionTier(claim); tier.Valid() {
				id.Tier = tier
			}
		}

		next.ServeHTTP(w, r.WithContext(auth.SetIdentity(r.Context(), id)))
	})
}

// RequireIdentity rejects requests without an identity with a JSON 401.
// Must run after WithIdentity.
func (m *IdentityMiddleware) RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth.GetIdentityFromRequest(r) == nil {
			writeJSONError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// =============================================================================
// Middleware Stack Helpers
// =============================================================================

// Stack composes multiple middleware functions into a single middleware.
//
// The first middleware is the outermost (runs first on request, last on
// response):
//
//	stack := Stack(identity.WithIdentity, identity.RequireIdentity)
//	mux.Handle("POST /api/v1/estimates", stack(estimateHandler))
func Stack(middlewares ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middlewares) - 1; i >= 0; i-- {
			final = middlewares[i](final)
		}
		return final
	}
}
