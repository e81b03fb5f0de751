package repository

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sqlc-dev/pqtype"
)

// Estimate is a row of the estimates table.
type Estimate struct {
	ID               uuid.UUID
	UserID           uuid.UUID
	Kind             string
	RoomType         string
	SquareFootage    float64
	ZipCode          sql.NullString
	QualityTier      string
	Materials        pq.StringArray
	Description      sql.NullString
	Model            string
	Attempts         int32
	TotalLow         sql.NullFloat64
	TotalHigh        sql.NullFloat64
	Confidence       sql.NullFloat64
	TimelineMinWeeks sql.NullInt32
	TimelineMaxWeeks sql.NullInt32
	LineItems        pqtype.NullRawMessage
	Warnings         pq.StringArray
	Recommendations  pq.StringArray
	Pricing          pqtype.NullRawMessage
	GeneratedAt      time.Time
	CreatedAt        time.Time
}

// EstimateImage is a row of the estimate_images table.
type EstimateImage struct {
	ID          uuid.UUID
	EstimateID  uuid.UUID
	Position    int32
	StorageKey  string
	ContentType string
	Width       int32
	Height      int32
	Prompt      sql.NullString
	CreatedAt   time.Time
}

// UserSubscription is the subscription part of a users row.
type UserSubscription struct {
	ID                   uuid.UUID
	SubscriptionTier     string
	StripeSubscriptionID sql.NullString
}
