package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

const createEstimate = `-- name: CreateEstimate :exec
INSERT INTO estimates (
    id, user_id, kind, room_type, square_footage, zip_code, quality_tier,
    materials, description, model, attempts, total_low, total_high,
    confidence, timeline_min_weeks, timeline_max_weeks, line_items,
    warnings, recommendations, pricing, generated_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
    $17, $18, $19, $20, $21
)`

// CreateEstimateParams holds the columns written by CreateEstimate.
type CreateEstimateParams struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Kind             string
	RoomType         string
	SquareFootage    float64
	ZipCode          sql.NullString
	QualityTier      string
	Materials        []string
	Description      sql.NullString
	Model            string
	Attempts         int32
	TotalLow         sql.NullFloat64
	TotalHigh        sql.NullFloat64
	Confidence       sql.NullFloat64
	TimelineMinWeeks sql.NullInt32
	TimelineMaxWeeks sql.NullInt32
	LineItems        pqtype.NullRawMessage
	Warnings         []string
	Recommendations  []string
	Pricing          pqtype.NullRawMessage
	GeneratedAt      time.Time
}

func (q *Queries) CreateEstimate(ctx context.Context, arg CreateEstimateParams) error {
	_, err := q.db.ExecContext(ctx, createEstimate,
		arg.ID,
		arg.UserID,
		arg.Kind,
		arg.RoomType,
		arg.SquareFootage,
		arg.ZipCode,
		arg.QualityTier,
		pq.Array(arg.Materials),
		arg.Description,
		arg.Model,
		arg.Attempts,
		arg.TotalLow,
		arg.TotalHigh,
		arg.Confidence,
		arg.TimelineMinWeeks,
		arg.TimelineMaxWeeks,
		arg.LineItems,
		pq.Array(arg.Warnings),
		pq.Array(arg.Recommendations),
		arg.Pricing,
		arg.GeneratedAt,
	)
	return err
}

const getEstimateByIDAndUserID = `-- name: GetEstimateByIDAndUserID :one
SELECT id, user_id, kind, room_type, square_footage, zip_code, quality_tier,
       materials, description, model, attempts, total_low, total_high,
       confidence, timeline_min_weeks, timeline_max_weeks, line_items,
       warnings, recommendations, pricing, generated_at, created_at
FROM estimates
WHERE id = $1 AND user_id = $2`

type GetEstimateByIDAndUserIDParams struct {
	ID     uuid.UUID
	UserID uuid.UUID
}

func (q *Queries) GetEstimateByIDAndUserID(ctx context.Context, arg GetEstimateByIDAndUserIDParams) (Estimate, error) {
	row := q.db.QueryRowContext(ctx, getEstimateByIDAndUserID, arg.ID, arg.UserID)
	var i Estimate
	err := row.Scan(
		&i.ID,
		&i.UserID,
		&i.Kind,
		&i.RoomType,
		&i.SquareFootage,
		&i.ZipCode,
		&i.QualityTier,
		&i.Materials,
		&i.Description,
		&i.Model,
		&i.Attempts,
		&i.TotalLow,
		&i.TotalHigh,
		&i.Confidence,
		&i.TimelineMinWeeks,
		&i.TimelineMaxWeeks,
		&i.LineItems,
		&i.Warnings,
		&i.Recommendations,
		&i.Pricing,
		&i.GeneratedAt,
		&i.CreatedAt,
	)
	return i, err
}

const createEstimateImage = `-- name: CreateEstimateImage :exec
INSERT INTO estimate_images (
    id, estimate_id, position, storage_key, content_type, width, height, prompt
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

type CreateEstimateImageParams struct {
	ID          uuid.UUID
	EstimateID  uuid.UUID
	Position    int32
	StorageKey  string
	ContentType string
	Width       int32
	Height      int32
	Prompt      sql.NullString
}

func (q *Queries) CreateEstimateImage(ctx context.Context, arg CreateEstimateImageParams) error {
	_, err := q.db.ExecContext(ctx, createEstimateImage,
		arg.ID,
		arg.EstimateID,
		arg.Position,
		arg.StorageKey,
		arg.ContentType,
		arg.Width,
		arg.Height,
		arg.Prompt,
	)
	return err
}

const listEstimateImages = `-- name: ListEstimateImages :many
SELECT id, estimate_id, position, storage_key, content_type, width, height, prompt, created_at
FROM estimate_images
WHERE estimate_id = $1
ORDER BY position`

func (q *Queries) ListEstimateImages(ctx context.Context, estimateID uuid.UUID) ([]EstimateImage, error) {
	rows, err := q.db.QueryContext(ctx, listEstimateImages, estimateID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []EstimateImage
	for rows.Next() {
		var i EstimateImage
		if err := rows.Scan(
			&i.ID,
			&i.EstimateID,
			&i.Position,
			&i.StorageKey,
			&i.ContentType,
			&i.Width,
			&i.Height,
			&i.Prompt,
			&i.CreatedAt,
		); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getUserSubscription = `-- name: GetUserSubscription :one
SELECT id, subscription_tier, stripe_subscription_id
FROM users
WHERE id = $1`

func (q *Queries) GetUserSubscription(ctx context.Context, id uuid.UUID) (UserSubscription, error) {
	row := q.db.QueryRowContext(ctx, getUserSubscription, id)
	var i UserSubscription
	err := row.Scan(&i.ID, &i.SubscriptionTier, &i.StripeSubscriptionID)
	return i, err
}
