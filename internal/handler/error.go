// Package handler contains the HTTP handlers of the Renova API.
//
// Every response is JSON, except estimate and visualization runs, which
// stream server-sent events when the client asks for text/event-stream.
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/pipeline"
)

// StatusClientClosedRequest is reported when the caller went away before a
// run finished. The client never sees it, but logs and metrics do.
const StatusClientClosedRequest = 499

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	Remedy   string            `json:"remedy,omitempty"`
	Stage    pipeline.State    `json:"stage,omitempty"`
	Fields   map[string]string `json:"fields,omitempty"`
	Decision *domain.Decision  `json:"decision,omitempty"`
	Reasons  []string          `json:"reasons,omitempty"`
}

// ErrorResponse writes a JSON error response. It maps domain error codes to
// HTTP status codes and never exposes internal error text.
func ErrorResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	body := NewErrorBody(err)
	status := ErrorCodeToHTTPStatus(body.Code)

	logError(logger, r, err, body.Code, domain.ErrorOp(err), status)

	writeJSON(w, status, map[string]ErrorBody{"error": body})
}

// NewErrorBody extracts the user-facing parts of err.
func NewErrorBody(err error) ErrorBody {
	code := domain.ErrorCode(err)
	body := ErrorBody{
		Code:    code,
		Message: domain.ErrorMessage(err),
		Remedy:  domain.ErrorRemedy(code),
	}

	var pe *pipeline.Error
	if errors.As(err, &pe) {
		body.Stage = pe.Stage
		if pe.Remedy != "" {
			body.Remedy = pe.Remedy
		}
		if len(pe.Failures) > 0 {
			body.Reasons = pe.Reasons()
		}
	}

	var ve *domain.ValidationError
	if errors.As(err, &ve) {
		body.Message = "Validation failed"
		body.Fields = ve.Fields
	}

	var ee *domain.EntitlementError
	if errors.As(err, &ee) {
		d := ee.Decision
		body.Decision = &d
	}

	var af *fallback.AllFailedError
	if body.Reasons == nil && errors.As(err, &af) {
		body.Reasons = make([]string, len(af.Failures))
		for i, f := range af.Failures {
			body.Reasons[i] = f.Reason()
		}
	}

	return body
}

// ErrorCodeToHTTPStatus maps domain error codes to HTTP status codes.
func ErrorCodeToHTTPStatus(code string) int {
	switch code {
	case domain.EINVALID:
		return http.StatusBadRequest // 400
	case domain.EUNAUTHORIZED:
		return http.StatusUnauthorized // 401
	case domain.ENOTENTITLED:
		return http.StatusPaymentRequired // 402
	case domain.EFORBIDDEN:
		return http.StatusForbidden // 403
	case domain.ENOTFOUND:
		return http.StatusNotFound // 404
	case domain.ETOOLARGE:
		return http.StatusRequestEntityTooLarge // 413
	case domain.ERATELIMIT:
		return http.StatusTooManyRequests // 429
	case domain.ECANCELED:
		return StatusClientClosedRequest // 499
	case domain.EGENERATION, domain.EMALFORMED:
		return http.StatusBadGateway // 502
	default:
		return http.StatusInternalServerError // 500
	}
}

// NotFoundResponse is a convenience wrapper for 404 errors.
func NotFoundResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	err := domain.Errorf(domain.ENOTFOUND, "", "The requested resource was not found")
	ErrorResponse(w, r, logger, err)
}

// UnauthorizedResponse is a convenience wrapper for 401 errors.
func UnauthorizedResponse(w http.ResponseWriter, r *http.Request, logger *slog.Logger) {
	err := domain.Errorf(domain.EUNAUTHORIZED, "", "Authentication required")
	ErrorResponse(w, r, logger, err)
}

// logError logs the error with appropriate level based on status code.
func logError(logger *slog.Logger, r *http.Request, err error, code, op string, status int) {
	attrs := []any{
		"error", err.Error(),
		"code", code,
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
	}
	if op != "" {
		attrs = append(attrs, "op", op)
	}

	// 5xx are server-side issues; 4xx are expected client errors.
	if status >= 500 {
		logger.Error("server error", attrs...)
	} else {
		logger.Info("client error", attrs...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
