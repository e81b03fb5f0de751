package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/ai/fallback"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var body struct {
		Error ErrorBody `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body.Error
}

func TestErrorCodeToHTTPStatus(t *testing.T) {
	tests := []struct {
		code string
		want int
	}{
		{domain.EINVALID, http.StatusBadRequest},
		{domain.EUNAUTHORIZED, http.StatusUnauthorized},
		{domain.ENOTENTITLED, http.StatusPaymentRequired},
		{domain.ENOTFOUND, http.StatusNotFound},
		{domain.ETOOLARGE, http.StatusRequestEntityTooLarge},
		{domain.ERATELIMIT, http.StatusTooManyRequests},
		{domain.ECANCELED, StatusClientClosedRequest},
		{domain.EGENERATION, http.StatusBadGateway},
		{domain.EMALFORMED, http.StatusBadGateway},
		{domain.EINTERNAL, http.StatusInternalServerError},
		{"something_else", http.StatusInternalServerError},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, ErrorCodeToHTTPStatus(tc.code), tc.code)
	}
}

func TestErrorResponse_Validation(t *testing.T) {
	_, err := domain.NewEstimateRequest(domain.EstimateParams{RoomType: "kitchen", SquareFootage: "0"})
	require.Error(t, err)

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/v1/estimates", nil), discardLogger(), err)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.EINVALID, body.Code)
	assert.Equal(t, "Validation failed", body.Message)
	assert.Equal(t, domain.RemedyFixInput, body.Remedy)
	assert.Contains(t, body.Fields, "square_footage")
	assert.NotContains(t, rec.Body.String(), "estimate.validate")
}

func TestErrorResponse_NotEntitledCarriesDecision(t *testing.T) {
	d := domain.Deny(domain.DenialQuotaExceeded, domain.SubscriptionTierFree, domain.FeatureEstimateGeneration, 5, 5)
	err := domain.NotEntitled("usage.check", d)

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/v1/estimates", nil), discardLogger(), err)

	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, domain.RemedyUpgrade, body.Remedy)
	require.NotNil(t, body.Decision)
	assert.Equal(t, domain.DenialQuotaExceeded, body.Decision.Reason)
	assert.Equal(t, int64(5), body.Decision.Used)
}

func TestErrorResponse_GenerationFailedListsReasons(t *testing.T) {
	failures := []fallback.CandidateFailure{
		{Model: "primary", Kind: fallback.KindOf(ai.EAIUnavailable), Err: ai.EAIUnavailable},
		{Model: "secondary", Kind: fallback.KindOf(ai.EAITimeout), Err: ai.EAITimeout},
	}
	err := &pipeline.Error{
		Kind:     pipeline.KindGenerationFailed,
		Stage:    pipeline.StateGeneratingContent,
		Remedy:   domain.RemedyRetryLater,
		Failures: failures,
		Err:      domain.GenerationFailed(&fallback.AllFailedError{Failures: failures}, "pipeline.generate"),
	}

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/v1/estimates", nil), discardLogger(), err)

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, pipeline.StateGeneratingContent, body.Stage)
	assert.Len(t, body.Reasons, 2)
	assert.True(t, strings.HasPrefix(body.Reasons[0], "primary: "))
}

func TestErrorResponse_InternalHidesDetails(t *testing.T) {
	err := domain.Internal(errors.New("pq: connection refused on 10.0.0.5"), "estimate.record", "failed to save estimate")

	rec := httptest.NewRecorder()
	ErrorResponse(rec, httptest.NewRequest("POST", "/api/v1/estimates", nil), discardLogger(), err)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	assert.NotContains(t, rec.Body.String(), "failed to save")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
