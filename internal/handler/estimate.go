package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/pipeline"
	"github.com/DukeRupert/renova/internal/service"
	"github.com/google/uuid"
)

// DefaultMaxUploadBytes bounds a multipart request body.
const DefaultMaxUploadBytes = 64 << 20

// multipartMemory is how much of a multipart body is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// =============================================================================
// Collaborators
// =============================================================================

// Runner executes one generation request. It validates params before
// resolving the caller's tier.
type Runner interface {
	Run(ctx context.Context, params domain.EstimateParams, tiers service.TierResolver, progress pipeline.ProgressFunc) (*domain.GenerationResult, error)
}

// EstimateReader loads stored results.
type EstimateReader interface {
	Get(ctx context.Context, id, userID uuid.UUID) (*domain.GenerationResult, error)
}

// =============================================================================
// Handler Configuration
// =============================================================================

// EstimateHandler handles estimate and visualization requests.
type EstimateHandler struct {
	runner         Runner
	tiers          service.TierResolver
	estimates      EstimateReader
	maxUploadBytes int64
	logger         *slog.Logger
}

// NewEstimateHandler creates a new EstimateHandler. estimates may be nil
// when results are not persisted.
func NewEstimateHandler(runner Runner, tiers service.TierResolver, estimates EstimateReader, maxUploadBytes int64, logger *slog.Logger) *EstimateHandler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &EstimateHandler{
		runner:         runner,
		tiers:          tiers,
		estimates:      estimates,
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

// =============================================================================
// Route Registration
// =============================================================================

// RegisterRoutes registers estimate routes with the provided mux.
//
// Routes:
// - POST /api/v1/estimates       -> CreateEstimate
// - POST /api/v1/visualizations  -> CreateVisualization
// - GET  /api/v1/estimates/{id}  -> Get
func (h *EstimateHandler) RegisterRoutes(mux *http.ServeMux, requireIdentity func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/estimates", requireIdentity(http.HandlerFunc(h.CreateEstimate)))
	mux.Handle("POST /api/v1/visualizations", requireIdentity(http.HandlerFunc(h.CreateVisualization)))
	mux.Handle("GET /api/v1/estimates/{id}", requireIdentity(http.HandlerFunc(h.Get)))
}

// =============================================================================
// Request Decoding
// =============================================================================

// estimateRequest is the JSON request body. Square footage is accepted as a
// number or a string; validation happens in the domain.
type estimateRequest struct {
	RoomType      string      `json:"room_type"`
	SquareFootage json.Number `json:"square_footage"`
	ZIPCode       string      `json:"zip_code"`
	QualityTier   string      `json:"quality_tier"`
	Materials     []string    `json:"materials"`
	Description   string      `json:"description"`
	ImageCount    int         `json:"image_count"`
}

func (h *EstimateHandler) decode(w http.ResponseWriter, r *http.Request, kind domain.RequestKind, userID uuid.UUID) (domain.EstimateParams, error) {
	const op = "estimate.decode"

	params := domain.EstimateParams{Kind: kind, UserID: userID}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				return params, domain.Errorf(domain.ETOOLARGE, op, "Upload must be at most %d MB", h.maxUploadBytes>>20)
			}
			return params, domain.Invalid(op, "Malformed multipart form")
		}
		return decodeMultipart(r, params)

	case "application/json", "":
		r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
		var body estimateRequest
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return params, domain.Invalid(op, "Request body must be a JSON object")
		}
		params.RoomType = body.RoomType
		params.SquareFootage = body.SquareFootage.String()
		params.ZIPCode = body.ZIPCode
		params.QualityTier = body.QualityTier
		params.Materials = body.Materials
		params.Description = body.Description
		params.ImageCount = body.ImageCount
		return params, nil

	default:
		return params, domain.Errorf(domain.EINVALID, op, "Unsupported content type %q", mediaType)
	}
}

func decodeMultipart(r *http.Request, params domain.EstimateParams) (domain.EstimateParams, error) {
	const op = "estimate.decode"

	form := r.MultipartForm
	value := func(name string) string {
		if v := form.Value[name]; len(v) > 0 {
			return v[0]
		}
		return ""
	}

	params.RoomType = value("room_type")
	params.SquareFootage = value("square_footage")
	params.ZIPCode = value("zip_code")
	params.QualityTier = value("quality_tier")
	params.Description = value("description")
	for _, m := range form.Value["materials"] {
		params.Materials = append(params.Materials, strings.Split(m, ",")...)
	}
	if raw := value("image_count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			ve := domain.NewValidationError(op, "image_count", "Image count must be a number")
			return params, domain.Wrap(ve, domain.EINVALID, op, "Please check the highlighted fields and try again.")
		}
		params.ImageCount = n
	}

	for i, fh := range form.File["photos"] {
		f, err := fh.Open()
		if err != nil {
			return params, domain.Internal(err, op, "failed to open uploaded photo")
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			return params, domain.Internal(err, op, fmt.Sprintf("failed to read photo %d", i))
		}

		contentType := fh.Header.Get("Content-Type")
		if contentType == "" || contentType == "application/octet-stream" {
			contentType = http.DetectContentType(data)
		}
		params.Photos = append(params.Photos, domain.Photo{
			Filename:    fh.Filename,
			ContentType: contentType,
			Data:        data,
		})
	}

	return params, nil
}

// =============================================================================
// Handlers
// =============================================================================

// CreateEstimate handles POST /api/v1/estimates.
func (h *EstimateHandler) CreateEstimate(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, domain.RequestKindEstimate)
}

// CreateVisualization handles POST /api/v1/visualizations.
func (h *EstimateHandler) CreateVisualization(w http.ResponseWriter, r *http.Request) {
	h.create(w, r, domain.RequestKindVisualization)
}

func (h *EstimateHandler) create(w http.ResponseWriter, r *http.Request, kind domain.RequestKind) {
	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	params, err := h.decode(w, r, kind, id.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	if wantsEventStream(r) {
		h.stream(w, r, params)
		return
	}

	result, err := h.runner.Run(r.Context(), params, h.tiers, nil)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// stream runs the pipeline and relays progress as server-sent events:
// "progress" for each snapshot, then one "result" or "error" event.
func (h *EstimateHandler) stream(w http.ResponseWriter, r *http.Request, params domain.EstimateParams) {
	ctx := r.Context()
	rc := http.NewResponseController(w)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	progressFn, progress, closeProgress := pipeline.ProgressChannel(ctx, 8)

	type outcome struct {
		result *domain.GenerationResult
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		result, err := h.runner.Run(ctx, params, h.tiers, progressFn)
		closeProgress()
		done <- outcome{result: result, err: err}
	}()

	for p := range progress {
		writeEvent(w, "progress", p)
		_ = rc.Flush()
	}

	out := <-done
	if out.err != nil {
		body := NewErrorBody(out.err)
		logError(h.logger, r, out.err, body.Code, domain.ErrorOp(out.err), ErrorCodeToHTTPStatus(body.Code))
		writeEvent(w, "error", map[string]ErrorBody{"error": body})
	} else {
		writeEvent(w, "result", out.result)
	}
	_ = rc.Flush()
}

// Get handles GET /api/v1/estimates/{id}.
func (h *EstimateHandler) Get(w http.ResponseWriter, r *http.Request) {
	const op = "estimate.get"

	id := auth.GetIdentityFromRequest(r)
	if id == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}
	if h.estimates == nil {
		NotFoundResponse(w, r, h.logger)
		return
	}

	estimateID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "Estimate ID must be a UUID"))
		return
	}

	result, err := h.estimates.Get(r.Context(), estimateID, id.UserID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// Helpers
// =============================================================================

func wantsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeEvent(w io.Writer, event string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		data = []byte(`{}`)
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}
