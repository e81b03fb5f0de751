package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
)

// ModelHandler checks that the configured AI credentials reach a model.
type ModelHandler struct {
	generator ai.Generator
	selector  fallback.Selector
	chains    fallback.Chains
	logger    *slog.Logger
}

// NewModelHandler creates a new ModelHandler.
func NewModelHandler(generator ai.Generator, selector fallback.Selector, chains fallback.Chains, logger *slog.Logger) *ModelHandler {
	return &ModelHandler{
		generator: generator,
		selector:  selector,
		chains:    chains,
		logger:    logger,
	}
}

// RegisterRoutes registers model routes.
//
// Routes:
// - POST /api/v1/models/validate -> Validate
func (h *ModelHandler) RegisterRoutes(mux *http.ServeMux, requireOperator func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/models/validate", requireOperator(http.HandlerFunc(h.Validate)))
}

type validateRequest struct {
	// Chain is "validate" (default), "estimate" or "image".
	Chain string `json:"chain"`
	// Models overrides the configured chain.
	Models []string `json:"models"`
}

// ValidateResponse reports the first model that answered a probe.
type ValidateResponse struct {
	Model    string   `json:"model"`
	Attempts int      `json:"attempts"`
	Failures []string `json:"failures"`
}

// Validate handles POST /api/v1/models/validate. It walks the chain with
// cheap probes instead of generation calls.
func (h *ModelHandler) Validate(w http.ResponseWriter, r *http.Request) {
	const op = "models.validate"

	var req validateRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Request body must be a JSON object"))
		return
	}

	var candidates fallback.Candidates
	switch {
	case len(req.Models) > 0:
		c, err := fallback.NewCandidates(req.Models...)
		if err != nil {
			ErrorResponse(w, r, h.logger, domain.Invalid(op, "Models must be a non-empty list of names"))
			return
		}
		candidates = c
	case req.Chain == "" || req.Chain == "validate":
		candidates = h.chains.Validate
		if len(candidates) == 0 {
			candidates = h.chains.Estimate
		}
	case req.Chain == "estimate":
		candidates = h.chains.Estimate
	case req.Chain == "image":
		candidates = h.chains.Image
	default:
		ErrorResponse(w, r, h.logger, domain.Invalid(op, `Chain must be "validate", "estimate" or "image"`))
		return
	}
	if len(candidates) == 0 {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "No models are configured for this chain"))
		return
	}

	sel, err := h.selector.Select(r.Context(), candidates, h.generator.Probe)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.GenerationFailed(err, op))
		return
	}

	resp := ValidateResponse{Model: sel.Model, Attempts: sel.Attempts, Failures: []string{}}
	for _, f := range sel.Failures {
		resp.Failures = append(resp.Failures, f.Reason())
	}
	writeJSON(w, http.StatusOK, resp)
}
