package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/service"
)

// UsageHandler reports quota usage and feature entitlements.
type UsageHandler struct {
	usage  service.UsageService
	tiers  service.TierResolver
	logger *slog.Logger
}

// NewUsageHandler creates a new UsageHandler.
func NewUsageHandler(usage service.UsageService, tiers service.TierResolver, logger *slog.Logger) *UsageHandler {
	return &UsageHandler{
		usage:  usage,
		tiers:  tiers,
		logger: logger,
	}
}

// RegisterRoutes registers usage routes.
//
// Routes:
// - GET  /api/v1/usage                -> Summary
// - GET  /api/v1/features/{feature}   -> Feature
// - POST /api/v1/admin/usage/reset    -> ResetPeriod (operator only)
func (h *UsageHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity, requireOperator func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/usage", requireIdentity(http.HandlerFunc(h.Summary)))
	mux.Handle("GET /api/v1/features/{feature}", requireIdentity(http.HandlerFunc(h.Feature)))
	mux.Handle("POST /api/v1/admin/usage/reset", requireOperator(http.HandlerFunc(h.ResetPeriod)))
}

// Summary handles GET /api/v1/usage.
func (h *UsageHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	tier, err := h.tiers.Tier(r.Context(), id.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	usage, err := h.usage.Summary(r.Context(), id.UserID, tier)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}

// Feature handles GET /api/v1/features/{feature}. Both allowing and denying
// decisions are answered with 200; the decision says which.
func (h *UsageHandler) Feature(w http.ResponseWriter, r *http.Request) {
	const op = "feature.check"

	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	name := r.PathValue("feature")
	feature := domain.FeatureKind(strings.ToLower(name))
	if !feature.Valid() {
		ErrorResponse(w, r, h.logger, domain.NotFound(op, "feature", name))
		return
	}

	tier, err := h.tiers.Tier(r.Context(), id.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	decision, err := h.usage.Check(r.Context(), id.UserID, tier, feature)
	if err != nil {
		var ee *domain.EntitlementError
		if !errors.As(err, &ee) {
			ErrorResponse(w, r, h.logger, err)
			return
		}
		decision = ee.Decision
	}
	writeJSON(w, http.StatusOK, decision)
}

// ResetPeriod handles POST /api/v1/admin/usage/reset?period=YYYY-MM.
func (h *UsageHandler) ResetPeriod(w http.ResponseWriter, r *http.Request) {
	period := r.URL.Query().Get("period")
	if err := h.usage.ResetPeriod(r.Context(), period); err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"period": period, "status": "reset"})
}
