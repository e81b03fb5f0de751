package repository

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRepo(t *testing.T) (*EstimateRepository, sqlmock.Sqlmock, *storage.LocalStorage) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	objects, err := storage.NewLocalStorage(storage.LocalConfig{BasePath: t.TempDir(), BaseURL: "http://files.test"}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { objects.Close() })

	return NewEstimateRepository(db, objects, time.Hour, testLogger()), mock, objects
}

func newRequest(t *testing.T, kind domain.RequestKind) *domain.EstimateRequest {
	t.Helper()
	req, err := domain.NewEstimateRequest(domain.EstimateParams{
		Kind:          kind,
		UserID:        uuid.New(),
		RoomType:      "bathroom",
		SquareFootage: "80",
		ZIPCode:       "97201",
		QualityTier:   "premium",
		Materials:     []string{"tile"},
	})
	require.NoError(t, err)
	return req
}

func anyArgs(n int) []driver.Value {
	args := make([]driver.Value, n)
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	return args
}

func TestEstimateRepository_RecordVisualization(t *testing.T) {
	repo, mock, objects := newTestRepo(t)
	req := newRequest(t, domain.RequestKindVisualization)
	result := &domain.GenerationResult{
		ID:       req.ID(),
		Kind:     domain.RequestKindVisualization,
		Model:    "image-model",
		Attempts: 1,
		Images: []domain.RenderedImage{
			{ContentType: "image/png", Width: 64, Height: 48, Prompt: "bright bathroom", Data: []byte("png")},
		},
		GeneratedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO estimates")).
		WithArgs(anyArgs(21)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO estimate_images")).
		WithArgs(sqlmock.AnyArg(), req.ID().String(), int32(0), storage.RenderKey(req.ID(), 0, "image/png"), "image/png", int32(64), int32(48), "bright bathroom").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(t.Context(), req, result))
	assert.NoError(t, mock.ExpectationsWereMet())

	key := storage.RenderKey(req.ID(), 0, "image/png")
	assert.Equal(t, key, result.Images[0].StorageKey)
	assert.Equal(t, "http://files.test/"+key, result.Images[0].URL)

	rc, _, err := objects.Get(t.Context(), key)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	rc.Close()
	assert.Equal(t, "png", string(data))
}

func TestEstimateRepository_RecordFailureRemovesImages(t *testing.T) {
	repo, mock, objects := newTestRepo(t)
	req := newRequest(t, domain.RequestKindVisualization)
	result := &domain.GenerationResult{
		ID:     req.ID(),
		Kind:   domain.RequestKindVisualization,
		Images: []domain.RenderedImage{{ContentType: "image/png", Data: []byte("png")}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO estimates")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.Record(t.Context(), req, result)
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
	assert.NoError(t, mock.ExpectationsWereMet())

	_, _, err = objects.Get(t.Context(), storage.RenderKey(req.ID(), 0, "image/png"))
	assert.True(t, storage.IsNotFound(err))

	assert.Empty(t, result.Images[0].StorageKey)
	assert.Empty(t, result.Images[0].URL)
}

func TestEstimateRepository_RecordEstimate(t *testing.T) {
	repo, mock, _ := newTestRepo(t)
	req := newRequest(t, domain.RequestKindEstimate)
	result := &domain.GenerationResult{
		ID:    req.ID(),
		Kind:  domain.RequestKindEstimate,
		Model: "primary",
		Estimate: &domain.Estimate{
			TotalCost:  domain.CostRange{Low: 12000, High: 18000},
			Confidence: 0.8,
			Timeline:   domain.TimelineRange{MinWeeks: 2, MaxWeeks: 4},
			LineItems:  []domain.LineItem{{Category: "Labor", Description: "Tile work", Cost: domain.CostRange{Low: 5000, High: 7000}}},
		},
		Pricing: &domain.PricingBundle{ZIPCode: "97201"},
	}

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO estimates")).
		WithArgs(anyArgs(21)...).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Record(t.Context(), req, result))
	assert.NoError(t, mock.ExpectationsWereMet())
}

var estimateColumns = []string{
	"id", "user_id", "kind", "room_type", "square_footage", "zip_code", "quality_tier",
	"materials", "description", "model", "attempts", "total_low", "total_high",
	"confidence", "timeline_min_weeks", "timeline_max_weeks", "line_items",
	"warnings", "recommendations", "pricing", "generated_at", "created_at",
}

func TestEstimateRepository_Get(t *testing.T) {
	repo, mock, _ := newTestRepo(t)
	id, userID := uuid.New(), uuid.New()
	generated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta("FROM estimates")).
		WithArgs(id.String(), userID.String()).
		WillReturnRows(sqlmock.NewRows(estimateColumns).AddRow(
			id.String(), userID.String(), "estimate", "kitchen", 200.0, "97201", "standard",
			[]byte("{granite,oak}"), nil, "primary", int64(2), 30000.0, 45000.0,
			0.7, int64(4), int64(8), []byte(`[{"category":"Labor","description":"Cabinets","cost":{"low":9000,"high":12000}}]`),
			[]byte(`{"Check permits"}`), []byte("{}"), []byte(`{"zip_code":"97201","sections":[{"source":"regional_index","status":"ok","index":1.1}]}`),
			generated, generated,
		))

	result, err := repo.Get(t.Context(), id, userID)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())

	assert.Equal(t, id, result.ID)
	assert.Equal(t, "primary", result.Model)
	assert.Equal(t, 2, result.Attempts)
	require.NotNil(t, result.Estimate)
	assert.Equal(t, domain.CostRange{Low: 30000, High: 45000}, result.Estimate.TotalCost)
	assert.Equal(t, domain.TimelineRange{MinWeeks: 4, MaxWeeks: 8}, result.Estimate.Timeline)
	require.Len(t, result.Estimate.LineItems, 1)
	assert.Equal(t, "Cabinets", result.Estimate.LineItems[0].Description)
	assert.Equal(t, []string{"Check permits"}, result.Estimate.Warnings)
	assert.Equal(t, []string{}, result.Estimate.Recommendations)
	require.NotNil(t, result.Pricing)
	assert.Equal(t, 1.1, result.Pricing.Sections[0].Index)
}

func TestEstimateRepository_GetNotFound(t *testing.T) {
	repo, mock, _ := newTestRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM estimates")).WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(t.Context(), uuid.New(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))
}

func TestSubscriptionRepository_GetSubscription(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	repo := NewSubscriptionRepository(db)
	userID := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).
		WithArgs(userID.String()).
		WillReturnRows(sqlmock.NewRows([]string{"id", "subscription_tier", "stripe_subscription_id"}).
			AddRow(userID.String(), "professional", "sub_123"))

	sub, err := repo.GetSubscription(t.Context(), userID)
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionTierProfessional, sub.Tier)
	assert.Equal(t, "sub_123", sub.StripeSubscriptionID)

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).WillReturnError(sql.ErrNoRows)
	_, err = repo.GetSubscription(t.Context(), uuid.New())
	assert.Equal(t, domain.ENOTFOUND, domain.ErrorCode(err))

	mock.ExpectQuery(regexp.QuoteMeta("FROM users")).WillReturnError(errors.New("conn refused"))
	_, err = repo.GetSubscription(t.Context(), uuid.New())
	assert.Equal(t, domain.EINTERNAL, domain.ErrorCode(err))
}
