package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/DukeRupert/renova/internal/pipeline"
	"github.com/DukeRupert/renova/internal/storage"
	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"
)

// DefaultImageURLExpiry is how long image links returned by Get stay valid.
const DefaultImageURLExpiry = time.Hour

// EstimateRepository stores completed generation results. Rendered images
// go to object storage; everything else goes to Postgres.
type EstimateRepository struct {
	db        *sql.DB
	queries   *Queries
	objects   storage.Storage
	urlExpiry time.Duration
	logger    *slog.Logger
}

var _ pipeline.Recorder = (*EstimateRepository)(nil)

// NewEstimateRepository creates an EstimateRepository.
func NewEstimateRepository(db *sql.DB, objects storage.Storage, urlExpiry time.Duration, logger *slog.Logger) *EstimateRepository {
	if urlExpiry <= 0 {
		urlExpiry = DefaultImageURLExpiry
	}
	return &EstimateRepository{
		db:        db,
		queries:   New(db),
		objects:   objects,
		urlExpiry: urlExpiry,
		logger:    logger,
	}
}

// =============================================================================
// Record
// =============================================================================

// Record uploads rendered images and writes the estimate and image rows in
// one transaction. It fills in StorageKey and URL of each image.
func (r *EstimateRepository) Record(ctx context.Context, req *domain.EstimateRequest, result *domain.GenerationResult) error {
	const op = "estimate.record"

	uploaded, err := r.uploadImages(ctx, result)
	if err != nil {
		r.discardImages(result, uploaded)
		return domain.Internal(err, op, "failed to store rendered images")
	}

	params, err := createParams(req, result)
	if err != nil {
		r.discardImages(result, uploaded)
		return domain.Internal(err, op, "failed to encode estimate")
	}

	if err := r.insert(ctx, params, result); err != nil {
		r.discardImages(result, uploaded)
		return domain.Internal(err, op, "failed to save estimate")
	}

	r.logger.Debug("Estimate recorded", "estimate_id", result.ID, "images", len(result.Images))
	return nil
}

func (r *EstimateRepository) uploadImages(ctx context.Context, result *domain.GenerationResult) ([]string, error) {
	var keys []string
	for i := range result.Images {
		img := &result.Images[i]
		key := storage.RenderKey(result.ID, i, img.ContentType)
		if err := r.objects.Put(ctx, key, bytes.NewReader(img.Data), storage.PutOptions{ContentType: img.ContentType}); err != nil {
			return keys, err
		}
		keys = append(keys, key)
		img.StorageKey = key

		url, err := r.objects.URL(ctx, key, r.urlExpiry)
		if err != nil {
			r.logger.Warn("Failed to build image URL", "key", key, "error", err)
			continue
		}
		img.URL = url
	}
	return keys, nil
}

func (r *EstimateRepository) insert(ctx context.Context, params CreateEstimateParams, result *domain.GenerationResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	if err := q.CreateEstimate(ctx, params); err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}
	for i, img := range result.Images {
		err := q.CreateEstimateImage(ctx, CreateEstimateImageParams{
			ID:          uuid.New(),
			EstimateID:  result.ID,
			Position:    int32(i),
			StorageKey:  img.StorageKey,
			ContentType: img.ContentType,
			Width:       int32(img.Width),
			Height:      int32(img.Height),
			Prompt:      nullString(img.Prompt),
		})
		if err != nil {
			return fmt.Errorf("insert image %d: %w", i, err)
		}
	}
	return tx.Commit()
}

// deleteObjects removes uploads of a failed Record. It runs detached from
// the request context, which may already be canceled.
// discardImages deletes uploaded objects and clears the references that
// would otherwise point at them.
func (r *EstimateRepository) discardImages(result *domain.GenerationResult, keys []string) {
	for i := range result.Images {
		result.Images[i].StorageKey = ""
		result.Images[i].URL = ""
	}
	r.deleteObjects(keys)
}

func (r *EstimateRepository) deleteObjects(keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, key := range keys {
		if err := r.objects.Delete(ctx, key); err != nil {
			r.logger.Warn("Failed to delete orphaned image", "key", key, "error", err)
		}
	}
}

func createParams(req *domain.EstimateRequest, result *domain.GenerationResult) (CreateEstimateParams, error) {
	p := CreateEstimateParams{
		ID:              result.ID,
		UserID:          req.UserID(),
		Kind:            string(result.Kind),
		RoomType:        string(req.RoomType()),
		SquareFootage:   req.SquareFootage(),
		ZipCode:         nullString(req.ZIPCode()),
		QualityTier:     string(req.QualityTier()),
		Materials:       req.Materials(),
		Description:     nullString(req.Description()),
		Model:           result.Model,
		Attempts:        int32(result.Attempts),
		Warnings:        []string{},
		Recommendations: []string{},
		GeneratedAt:     result.GeneratedAt,
	}

	if est := result.Estimate; est != nil {
		p.TotalLow = sql.NullFloat64{Float64: est.TotalCost.Low, Valid: true}
		p.TotalHigh = sql.NullFloat64{Float64: est.TotalCost.High, Valid: true}
		p.Confidence = sql.NullFloat64{Float64: est.Confidence, Valid: true}
		p.TimelineMinWeeks = sql.NullInt32{Int32: int32(est.Timeline.MinWeeks), Valid: true}
		p.TimelineMaxWeeks = sql.NullInt32{Int32: int32(est.Timeline.MaxWeeks), Valid: true}
		p.Warnings = est.Warnings
		p.Recommendations = est.Recommendations

		items, err := json.Marshal(est.LineItems)
		if err != nil {
			return p, err
		}
		p.LineItems = pqtype.NullRawMessage{RawMessage: items, Valid: true}
	}

	if result.Pricing != nil {
		pricing, err := json.Marshal(result.Pricing)
		if err != nil {
			return p, err
		}
		p.Pricing = pqtype.NullRawMessage{RawMessage: pricing, Valid: true}
	}

	return p, nil
}

// =============================================================================
// Get
// =============================================================================

// Get loads a stored result owned by userID. Image URLs are regenerated.
func (r *EstimateRepository) Get(ctx context.Context, id, userID uuid.UUID) (*domain.GenerationResult, error) {
	const op = "estimate.get"

	row, err := r.queries.GetEstimateByIDAndUserID(ctx, GetEstimateByIDAndUserIDParams{ID: id, UserID: userID})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFound(op, "estimate", id.String())
	}
	if err != nil {
		return nil, domain.Internal(err, op, "failed to load estimate")
	}

	result := &domain.GenerationResult{
		ID:          row.ID,
		Kind:        domain.RequestKind(row.Kind),
		Model:       row.Model,
		Attempts:    int(row.Attempts),
		GeneratedAt: row.GeneratedAt,
	}

	if row.TotalLow.Valid && row.TotalHigh.Valid {
		est := &domain.Estimate{
			TotalCost:       domain.CostRange{Low: row.TotalLow.Float64, High: row.TotalHigh.Float64},
			Confidence:      row.Confidence.Float64,
			Timeline:        domain.TimelineRange{MinWeeks: int(row.TimelineMinWeeks.Int32), MaxWeeks: int(row.TimelineMaxWeeks.Int32)},
			LineItems:       []domain.LineItem{},
			Warnings:        nonNil(row.Warnings),
			Recommendations: nonNil(row.Recommendations),
		}
		if row.LineItems.Valid {
			if err := json.Unmarshal(row.LineItems.RawMessage, &est.LineItems); err != nil {
				return nil, domain.Internal(err, op, "failed to decode line items")
			}
		}
		result.Estimate = est
	}

	if row.Pricing.Valid {
		var bundle domain.PricingBundle
		if err := json.Unmarshal(row.Pricing.RawMessage, &bundle); err != nil {
			return nil, domain.Internal(err, op, "failed to decode pricing")
		}
		result.Pricing = &bundle
	}

	if result.Kind == domain.RequestKindVisualization {
		images, err := r.queries.ListEstimateImages(ctx, id)
		if err != nil {
			return nil, domain.Internal(err, op, "failed to load images")
		}
		for _, img := range images {
			rendered := domain.RenderedImage{
				ContentType: img.ContentType,
				Width:       int(img.Width),
				Height:      int(img.Height),
				Prompt:      img.Prompt.String,
				StorageKey:  img.StorageKey,
			}
			if url, err := r.objects.URL(ctx, img.StorageKey, r.urlExpiry); err == nil {
				rendered.URL = url
			} else {
				r.logger.Warn("Failed to build image URL", "key", img.StorageKey, "error", err)
			}
			result.Images = append(result.Images, rendered)
		}
	}

	return result, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
