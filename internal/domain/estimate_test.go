package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validParams() EstimateParams {
	return EstimateParams{
		RoomType:      "kitchen",
		SquareFootage: "200",
		QualityTier:   "standard",
		Materials:     []string{"Quartz", "oak", "quartz "},
	}
}

func TestNewEstimateRequest_Valid(t *testing.T) {
	req, err := NewEstimateRequest(validParams())
	require.NoError(t, err)

	assert.Equal(t, RequestKindEstimate, req.Kind())
	assert.Equal(t, FeatureEstimateGeneration, req.Feature())
	assert.Equal(t, RoomKitchen, req.RoomType())
	assert.Equal(t, 200.0, req.SquareFootage())
	assert.False(t, req.HasZIP())
	assert.Equal(t, []string{"oak", "quartz"}, req.Materials())
	assert.Equal(t, 0, req.ImageCount())
}

func TestNewEstimateRequest_SquareFootageBounds(t *testing.T) {
	tests := []struct {
		sqft    string
		wantErr bool
	}{
		{"0", true},
		{"-5", true},
		{"", true},
		{"abc", true},
		{"100000", true},
		{"NaN", true},
		{"nan", true},
		{"Inf", true},
		{"-Inf", true},
		{"0.5", false},
		{"99999", false},
	}

	for _, tt := range tests {
		t.Run(tt.sqft, func(t *testing.T) {
			p := validParams()
			p.SquareFootage = tt.sqft
			_, err := NewEstimateRequest(p)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, EINVALID, ErrorCode(err))

			var ve *ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Contains(t, ve.Fields, "square_footage")
		})
	}
}

func TestNewEstimateRequest_DescriptionCountsCharacters(t *testing.T) {
	p := validParams()
	p.Description = strings.Repeat("é", MaxDescriptionLen)
	_, err := NewEstimateRequest(p)
	require.NoError(t, err)

	p.Description += "é"
	_, err = NewEstimateRequest(p)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "description")
}

func TestNewEstimateRequest_CollectsAllFieldErrors(t *testing.T) {
	_, err := NewEstimateRequest(EstimateParams{
		RoomType:      "garage",
		SquareFootage: "0",
		ZIPCode:       "9021",
		QualityTier:   "gold",
	})
	require.Error(t, err)

	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Len(t, ve.Fields, 4)
	for _, f := range []string{"room_type", "square_footage", "zip_code", "quality_tier"} {
		assert.Contains(t, ve.Fields, f)
	}
}

func TestNewEstimateRequest_Photos(t *testing.T) {
	p := validParams()
	p.Photos = []Photo{
		{Filename: "a.jpg", ContentType: "image/jpeg; charset=binary", Data: []byte{1, 2, 3}},
		{Filename: "b.heic", ContentType: "image/heic", Data: []byte{1}},
	}
	_, err := NewEstimateRequest(p)
	var ve *ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Contains(t, ve.Fields, "photos[1]")
	assert.NotContains(t, ve.Fields, "photos[0]")

	p.Photos = p.Photos[:1]
	req, err := NewEstimateRequest(p)
	require.NoError(t, err)
	assert.True(t, req.HasPhotos())
	assert.Equal(t, "image/jpeg", req.Photos()[0].ContentType)

	// Mutating the caller's buffer must not change the request.
	p.Photos[0].Data[0] = 9
	assert.Equal(t, byte(1), req.Photos()[0].Data[0])
}

func TestNewEstimateRequest_Visualization(t *testing.T) {
	p := validParams()
	p.Kind = RequestKindVisualization
	req, err := NewEstimateRequest(p)
	require.NoError(t, err)
	assert.Equal(t, 1, req.ImageCount())
	assert.Equal(t, FeatureImageGeneration, req.Feature())

	p.ImageCount = MaxImageCount + 1
	_, err = NewEstimateRequest(p)
	assert.Equal(t, EINVALID, ErrorCode(err))
}

func TestEstimateRequest_BaselineRange(t *testing.T) {
	p := validParams()
	p.QualityTier = "premium"
	req, err := NewEstimateRequest(p)
	require.NoError(t, err)

	r := req.BaselineRange()
	assert.InDelta(t, 150*200*1.5, r.Low, 0.001)
	assert.InDelta(t, 350*200*1.5, r.High, 0.001)
}

func TestValidZIP(t *testing.T) {
	assert.True(t, ValidZIP("90210"))
	assert.True(t, ValidZIP("90210-1234"))
	assert.False(t, ValidZIP("9021"))
	assert.False(t, ValidZIP("abcde"))
	assert.False(t, ValidZIP(""))
}

func TestCostRange_String(t *testing.T) {
	assert.Equal(t, "$12,000 - $18,500", CostRange{Low: 12000, High: 18500}.String())
}

func TestPeriodKey(t *testing.T) {
	ts := time.Date(2026, time.March, 31, 23, 30, 0, 0, time.FixedZone("PDT", -7*3600))
	assert.Equal(t, "2026-04", PeriodKey(ts))

	start, end := PeriodBounds(ts)
	assert.Equal(t, time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, time.May, 1, 0, 0, 0, 0, time.UTC), end)

	_, err := ParsePeriodKey("2026-13")
	assert.Error(t, err)
}

func TestNotEntitled(t *testing.T) {
	d := Deny(DenialQuotaExceeded, SubscriptionTierFree, FeatureEstimateGeneration, 5, 5)
	err := NotEntitled("usage.check", d)

	assert.Equal(t, ENOTENTITLED, ErrorCode(err))
	assert.Equal(t, RemedyUpgrade, ErrorRemedy(ErrorCode(err)))

	var ee *EntitlementError
	require.True(t, errors.As(err, &ee))
	assert.Equal(t, DenialQuotaExceeded, ee.Decision.Reason)
	assert.Contains(t, err.Message, "5 of 5")
}
