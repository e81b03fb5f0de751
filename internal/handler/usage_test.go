package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DukeRupert/renova/internal/auth"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/quota"
	"github.com/DukeRupert/renova/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var usageNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

func newUsageServer(t *testing.T, tier domain.SubscriptionTier) (*http.ServeMux, *quota.MemoryStore) {
	t.Helper()
	store := quota.NewMemoryStore()
	usage := service.NewUsageService(store, discardLogger(), service.WithClock(func() time.Time { return usageNow }))
	mux := http.NewServeMux()
	NewUsageHandler(usage, service.StaticTierResolver(tier), discardLogger()).RegisterRoutes(mux, passThrough, passThrough)
	return mux, store
}

func serveAs(mux *http.ServeMux, userID uuid.UUID, req *http.Request) *httptest.ResponseRecorder {
	req = req.WithContext(auth.SetIdentity(req.Context(), &auth.Identity{UserID: userID}))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestUsageHandler_Summary(t *testing.T) {
	mux, store := newUsageServer(t, domain.SubscriptionTierFree)
	userID := uuid.New()
	for i := 0; i < 2; i++ {
		_, err := store.Increment(t.Context(), userID, domain.FeatureEstimateGeneration, "2026-03")
		require.NoError(t, err)
	}

	rec := serveAs(mux, userID, httptest.NewRequest("GET", "/api/v1/usage", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var usage domain.QuotaUsage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usage))
	assert.Equal(t, "2026-03", usage.Period)
	assert.Equal(t, time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC), usage.ResetsAt.UTC())
	require.Len(t, usage.Features, 2)
	assert.Equal(t, domain.NewFeatureUsage(domain.FeatureEstimateGeneration, 2, 5), usage.Features[0])
}

func TestUsageHandler_Feature(t *testing.T) {
	tests := []struct {
		name        string
		tier        domain.SubscriptionTier
		feature     string
		wantStatus  int
		wantAllowed bool
		wantReason  domain.DenialReason
	}{
		{"free cannot export", domain.SubscriptionTierFree, "pdf_export", http.StatusOK, false, domain.DenialTierInsufficient},
		{"professional can export", domain.SubscriptionTierProfessional, "pdf_export", http.StatusOK, true, ""},
		{"counted feature", domain.SubscriptionTierFree, "estimate_generation", http.StatusOK, true, ""},
		{"enterprise api access", domain.SubscriptionTierEnterprise, "api_access", http.StatusOK, true, ""},
		{"unknown feature", domain.SubscriptionTierFree, "teleportation", http.StatusNotFound, false, ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			mux, _ := newUsageServer(t, tc.tier)
			rec := serveAs(mux, uuid.New(), httptest.NewRequest("GET", "/api/v1/features/"+tc.feature, nil))

			require.Equal(t, tc.wantStatus, rec.Code, rec.Body.String())
			if tc.wantStatus != http.StatusOK {
				return
			}
			var d domain.Decision
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &d))
			assert.Equal(t, tc.wantAllowed, d.Allowed)
			assert.Equal(t, tc.wantReason, d.Reason)
		})
	}
}

func TestUsageHandler_ResetPeriod(t *testing.T) {
	mux, store := newUsageServer(t, domain.SubscriptionTierFree)
	userID := uuid.New()
	_, err := store.Increment(t.Context(), userID, domain.FeatureImageGeneration, "2026-03")
	require.NoError(t, err)

	rec := serveAs(mux, userID, httptest.NewRequest("POST", "/api/v1/admin/usage/reset?period=March", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serveAs(mux, userID, httptest.NewRequest("POST", "/api/v1/admin/usage/reset?period=2026-03", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := store.Read(t.Context(), userID, domain.FeatureImageGeneration, "2026-03")
	require.NoError(t, err)
	assert.Zero(t, n)
}
