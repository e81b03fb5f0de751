// Package domain contains core business types and interfaces.
//
// This file defines the EstimateRequest value submitted to the generation
// pipeline and the lookup tables used to sanity-check estimates.
package domain

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Validation limits for estimate requests.
const (
	MaxSquareFootage  = 100000
	MaxDescriptionLen = 2000
	MaxPhotos         = 4
	MaxPhotoSize      = 20 * 1024 * 1024
	MaxMaterials      = 25
	MaxImageCount     = 4
)

// RequestKind distinguishes cost estimates from "after" visualizations.
type RequestKind string

const (
	RequestKindEstimate      RequestKind = "estimate"
	RequestKindVisualization RequestKind = "visualization"
)

// Feature returns the metered feature a request of this kind consumes.
func (k RequestKind) Feature() FeatureKind {
	if k == RequestKindVisualization {
		return FeatureImageGeneration
	}
	return FeatureEstimateGeneration
}

// RoomType identifies the space being renovated.
type RoomType string

const (
	RoomKitchen    RoomType = "kitchen"
	RoomBathroom   RoomType = "bathroom"
	RoomBedroom    RoomType = "bedroom"
	RoomLivingRoom RoomType = "living_room"
	RoomBasement   RoomType = "basement"
	RoomExterior   RoomType = "exterior"
	RoomWholeHouse RoomType = "whole_house"
	RoomOther      RoomType = "other"
)

// Valid checks if the room type is known.
func (r RoomType) Valid() bool {
	_, ok := RoomCostRanges[r]
	return ok
}

// DisplayName returns a human-readable room name.
func (r RoomType) DisplayName() string {
	return strings.ReplaceAll(string(r), "_", " ")
}

// QualityTier is the finish level the estimate should assume.
type QualityTier string

const (
	QualityBudget   QualityTier = "budget"
	QualityStandard QualityTier = "standard"
	QualityPremium  QualityTier = "premium"
	QualityLuxury   QualityTier = "luxury"
)

// Valid checks if the quality tier is known.
func (q QualityTier) Valid() bool {
	_, ok := QualityMultipliers[q]
	return ok
}

// RoomCostRanges holds baseline per-square-foot costs (USD) at standard quality.
var RoomCostRanges = map[RoomType]CostRange{
	RoomKitchen:    {Low: 150, High: 350},
	RoomBathroom:   {Low: 200, High: 450},
	RoomBedroom:    {Low: 40, High: 100},
	RoomLivingRoom: {Low: 40, High: 110},
	RoomBasement:   {Low: 50, High: 120},
	RoomExterior:   {Low: 20, High: 60},
	RoomWholeHouse: {Low: 100, High: 250},
	RoomOther:      {Low: 50, High: 150},
}

// QualityMultipliers scales baseline costs by finish level.
var QualityMultipliers = map[QualityTier]float64{
	QualityBudget:   0.75,
	QualityStandard: 1.0,
	QualityPremium:  1.5,
	QualityLuxury:   2.25,
}

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// ValidZIP reports whether s is a US ZIP or ZIP+4 code.
func ValidZIP(s string) bool {
	return zipPattern.MatchString(s)
}

// Photo is an uploaded reference photo.
type Photo struct {
	Filename    string
	ContentType string
	Data        []byte
}

// allowedPhotoTypes are the photo formats accepted by the vision models.
var allowedPhotoTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// =============================================================================
// EstimateRequest
// =============================================================================

// EstimateParams holds raw user input for an estimate or visualization.
type EstimateParams struct {
	Kind          RequestKind
	UserID        uuid.UUID
	RoomType      string
	SquareFootage string
	ZIPCode       string
	QualityTier   string
	Materials     []string
	Photos        []Photo
	Description   string
	ImageCount    int
}

// EstimateRequest is an immutable, validated generation request.
// Build it with NewEstimateRequest; it is never modified after submission.
type EstimateRequest struct {
	id            uuid.UUID
	kind          RequestKind
	userID        uuid.UUID
	roomType      RoomType
	squareFootage float64
	zipCode       string
	quality       QualityTier
	materials     []string
	photos        []Photo
	description   string
	imageCount    int
}

// NewEstimateRequest validates params and returns an immutable request.
// Validation failures are returned as an EINVALID error wrapping a
// ValidationError with one entry per offending field.
func NewEstimateRequest(params EstimateParams) (*EstimateRequest, error) {
	const op = "estimate.validate"

	var ve *ValidationError
	fail := func(field, msg string) {
		if ve == nil {
			ve = NewValidationError(op, field, msg)
			return
		}
		ve.Fields[field] = msg
	}

	kind := params.Kind
	if kind == "" {
		kind = RequestKindEstimate
	}
	if kind != RequestKindEstimate && kind != RequestKindVisualization {
		fail("kind", "Unknown request kind")
	}

	room := RoomType(strings.ToLower(strings.TrimSpace(params.RoomType)))
	if room == "" {
		fail("room_type", "Room type is required")
	} else if !room.Valid() {
		fail("room_type", fmt.Sprintf("Unknown room type %q", params.RoomType))
	}

	sqft, err := strconv.ParseFloat(strings.TrimSpace(params.SquareFootage), 64)
	switch {
	case strings.TrimSpace(params.SquareFootage) == "":
		fail("square_footage", "Square footage is required")
	case err != nil, math.IsNaN(sqft), math.IsInf(sqft, 0):
		fail("square_footage", "Square footage must be a number")
	case sqft <= 0 || sqft >= MaxSquareFootage:
		fail("square_footage", fmt.Sprintf("Square footage must be greater than 0 and less than %d", MaxSquareFootage))
	}

	zip := strings.TrimSpace(params.ZIPCode)
	if zip != "" && !ValidZIP(zip) {
		fail("zip_code", "ZIP code must be 5 digits")
	}

	quality := QualityTier(strings.ToLower(strings.TrimSpace(params.QualityTier)))
	if quality == "" {
		quality = QualityStandard
	}
	if !quality.Valid() {
		fail("quality_tier", fmt.Sprintf("Unknown quality tier %q", params.QualityTier))
	}

	materials := normalizeMaterials(params.Materials)
	if len(materials) > MaxMaterials {
		fail("materials", fmt.Sprintf("At most %d materials may be selected", MaxMaterials))
	}

	if len(params.Photos) > MaxPhotos {
		fail("photos", fmt.Sprintf("At most %d photos may be attached", MaxPhotos))
	}
	photos := make([]Photo, 0, len(params.Photos))
	for i, p := range params.Photos {
		field := fmt.Sprintf("photos[%d]", i)
		ct := strings.ToLower(strings.TrimSpace(strings.Split(p.ContentType, ";")[0]))
		switch {
		case len(p.Data) == 0:
			fail(field, "Photo is empty")
		case len(p.Data) > MaxPhotoSize:
			fail(field, "Photo exceeds 20MB")
		case !allowedPhotoTypes[ct]:
			fail(field, "Photo must be JPEG, PNG, WebP or GIF")
		}
		data := make([]byte, len(p.Data))
		copy(data, p.Data)
		photos = append(photos, Photo{Filename: p.Filename, ContentType: ct, Data: data})
	}

	description := strings.TrimSpace(params.Description)
	if utf8.RuneCountInString(description) > MaxDescriptionLen {
		fail("description", fmt.Sprintf("Description must be at most %d characters", MaxDescriptionLen))
	}

	imageCount := 0
	if kind == RequestKindVisualization {
		imageCount = params.ImageCount
		if imageCount == 0 {
			imageCount = 1
		}
		if imageCount < 1 || imageCount > MaxImageCount {
			fail("image_count", fmt.Sprintf("Image count must be between 1 and %d", MaxImageCount))
		}
	}

	if ve != nil {
		return nil, &Error{Code: EINVALID, Op: op, Message: "Please check the highlighted fields and try again.", Err: ve}
	}

	return &EstimateRequest{
		id:            uuid.New(),
		kind:          kind,
		userID:        params.UserID,
		roomType:      room,
		squareFootage: sqft,
		zipCode:       zip,
		quality:       quality,
		materials:     materials,
		photos:        photos,
		description:   description,
		imageCount:    imageCount,
	}, nil
}

// normalizeMaterials lower-cases, trims, dedupes and sorts material names.
func normalizeMaterials(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, m := range in {
		m = strings.ToLower(strings.TrimSpace(m))
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (r *EstimateRequest) ID() uuid.UUID            { return r.id }
func (r *EstimateRequest) Kind() RequestKind        { return r.kind }
func (r *EstimateRequest) Feature() FeatureKind     { return r.kind.Feature() }
func (r *EstimateRequest) UserID() uuid.UUID        { return r.userID }
func (r *EstimateRequest) RoomType() RoomType       { return r.roomType }
func (r *EstimateRequest) SquareFootage() float64   { return r.squareFootage }
func (r *EstimateRequest) ZIPCode() string          { return r.zipCode }
func (r *EstimateRequest) HasZIP() bool             { return r.zipCode != "" }
func (r *EstimateRequest) QualityTier() QualityTier { return r.quality }
func (r *EstimateRequest) Description() string      { return r.description }
func (r *EstimateRequest) ImageCount() int          { return r.imageCount }
func (r *EstimateRequest) HasPhotos() bool          { return len(r.photos) > 0 }

// Materials returns a copy of the selected materials, sorted.
func (r *EstimateRequest) Materials() []string {
	out := make([]string, len(r.materials))
	copy(out, r.materials)
	return out
}

// Photos returns a copy of the attached photos.
func (r *EstimateRequest) Photos() []Photo {
	out := make([]Photo, len(r.photos))
	copy(out, r.photos)
	return out
}

// BaselineRange returns the lookup-table cost range for the request's room,
// size and quality. It anchors prompts and bounds normalized estimates.
func (r *EstimateRequest) BaselineRange() CostRange {
	base := RoomCostRanges[r.roomType]
	mult := QualityMultipliers[r.quality]
	return CostRange{
		Low:  base.Low * r.squareFootage * mult,
		High: base.High * r.squareFootage * mult,
	}
}
