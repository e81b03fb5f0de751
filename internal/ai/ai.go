// Package ai defines the contract for AI content generation providers.
//
// Providers are addressed per call by model identifier so the fallback
// selector can walk an ordered candidate chain against one provider.
package ai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/google/uuid"
)

// Generator produces renovation estimates and "after" images.
type Generator interface {
	// GenerateEstimate asks the model for a cost estimate. When params carries
	// photos the vision variant of the call is used.
	GenerateEstimate(ctx context.Context, model string, params EstimateParams) (*RawEstimate, error)

	// GenerateImages asks the model for rendered "after" images.
	GenerateImages(ctx context.Context, model string, params ImageParams) (*RawImages, error)

	// Probe verifies that the model is reachable with the configured
	// credentials without generating content.
	Probe(ctx context.Context, model string) error
}

// EstimateParams contains everything a provider needs for an estimate call.
type EstimateParams struct {
	RequestID     uuid.UUID
	UserID        uuid.UUID
	RoomType      domain.RoomType
	SquareFootage float64
	ZIPCode       string
	QualityTier   domain.QualityTier
	Materials     []string
	Description   string
	Photos        []domain.Photo        // Already downscaled for the vision model
	Baseline      domain.CostRange      // Lookup-table range for room, size and quality
	Pricing       *domain.PricingBundle // Advisory, possibly partial or nil
}

// ImageParams contains parameters for image generation.
type ImageParams struct {
	RequestID   uuid.UUID
	UserID      uuid.UUID
	RoomType    domain.RoomType
	QualityTier domain.QualityTier
	Materials   []string
	Description string
	Photos      []domain.Photo
	Count       int
}

// RawEstimate is the model's estimate as parsed from its JSON reply.
// Pointer fields are nil when the model omitted them.
type RawEstimate struct {
	TotalCost       *RawRange     `json:"total_cost"`
	LineItems       []RawLineItem `json:"line_items"`
	Confidence      *float64      `json:"confidence"`
	TimelineWeeks   *RawRange     `json:"timeline_weeks"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
	Usage           UsageInfo     `json:"-"`
}

// RawRange is an unvalidated low/high pair.
type RawRange struct {
	Low  *float64 `json:"low"`
	High *float64 `json:"high"`
}

// RawLineItem is an unvalidated estimate line.
type RawLineItem struct {
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Low         float64 `json:"low"`
	High        float64 `json:"high"`
}

// RawImages is the model's image output.
type RawImages struct {
	Images []RawImage
	Prompt string
	Usage  UsageInfo
}

// RawImage is one encoded image as returned by the model.
type RawImage struct {
	ContentType string
	Data        []byte
}

// UsageInfo tracks API usage for monitoring
type UsageInfo struct {
	Model        string        // AI model used
	InputTokens  int           // Tokens in the request
	OutputTokens int           // Tokens in the response
	Duration     time.Duration // Request duration
}

// ProviderConfig contains common configuration for AI providers
type ProviderConfig struct {
	MaxRetries     int           // Attempts per model for transient errors
	RetryBaseDelay time.Duration // Base delay for exponential backoff
	RequestTimeout time.Duration // Timeout for individual requests
}

// Error codes for AI provider operations
var (
	// EAIRateLimit indicates the API rate limit has been exceeded
	EAIRateLimit = errors.New("ai provider rate limit exceeded")

	// EAITimeout indicates the request timed out
	EAITimeout = errors.New("ai request timed out")

	// EAIUnavailable indicates the model or service is unavailable
	EAIUnavailable = errors.New("ai service temporarily unavailable")

	// EAIUnauthorized indicates invalid API credentials
	EAIUnauthorized = errors.New("ai provider authentication failed")

	// EAIMalformed indicates the model replied with content that could not be parsed
	EAIMalformed = errors.New("ai response malformed")
)

// IsRetryable returns true if the error is a transient error that can be retried
func IsRetryable(err error) bool {
	return errors.Is(err, EAIRateLimit) ||
		errors.Is(err, EAITimeout) ||
		errors.Is(err, EAIUnavailable)
}

// IsFatal returns true if no other model behind the same credentials can succeed.
func IsFatal(err error) bool {
	return errors.Is(err, EAIUnauthorized)
}

// Classify maps an error to one of the EAI sentinels. Context deadlines
// become EAITimeout; unknown errors are treated as EAIUnavailable.
func Classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, EAIUnauthorized):
		return EAIUnauthorized
	case errors.Is(err, EAIRateLimit):
		return EAIRateLimit
	case errors.Is(err, EAITimeout), errors.Is(err, context.DeadlineExceeded):
		return EAITimeout
	case errors.Is(err, EAIMalformed):
		return EAIMalformed
	default:
		return EAIUnavailable
	}
}

// WrapError wraps an error with context about the AI operation
func WrapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("ai %s: %w", operation, err)
}
