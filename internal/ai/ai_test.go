package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/DukeRupert/renova/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"nil", nil, nil},
		{"wrapped unauthorized", WrapError("probe", EAIUnauthorized), EAIUnauthorized},
		{"rate limit", EAIRateLimit, EAIRateLimit},
		{"deadline", context.DeadlineExceeded, EAITimeout},
		{"wrapped deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), EAITimeout},
		{"malformed", fmt.Errorf("%w: bad json", EAIMalformed), EAIMalformed},
		{"unknown", errors.New("boom"), EAIUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.err))
		})
	}
}

func TestRetryableAndFatal(t *testing.T) {
	assert.True(t, IsRetryable(EAIRateLimit))
	assert.True(t, IsRetryable(WrapError("x", EAITimeout)))
	assert.True(t, IsRetryable(EAIUnavailable))
	assert.False(t, IsRetryable(EAIUnauthorized))
	assert.False(t, IsRetryable(EAIMalformed))

	assert.True(t, IsFatal(WrapError("x", EAIUnauthorized)))
	assert.False(t, IsFatal(EAIRateLimit))
}

func TestParseEstimateJSON(t *testing.T) {
	t.Run("fenced", func(t *testing.T) {
		raw, err := ParseEstimateJSON("Sure!\n```json\n{\"total_cost\":{\"low\":1,\"high\":2},\"warnings\":[\"a\"]}\n```")
		require.NoError(t, err)
		require.NotNil(t, raw.TotalCost)
		assert.Equal(t, 2.0, *raw.TotalCost.High)
		assert.Nil(t, raw.Confidence)
		assert.Equal(t, []string{"a"}, raw.Warnings)
	})

	t.Run("no object", func(t *testing.T) {
		_, err := ParseEstimateJSON("no json here")
		assert.ErrorIs(t, err, EAIMalformed)
	})

	t.Run("invalid json", func(t *testing.T) {
		_, err := ParseEstimateJSON("{\"total_cost\": }")
		assert.ErrorIs(t, err, EAIMalformed)
	})
}

func TestBuildEstimatePrompt_IncludesPricingContext(t *testing.T) {
	prompt := BuildEstimatePrompt(EstimateParams{
		RoomType:      domain.RoomLivingRoom,
		SquareFootage: 300,
		QualityTier:   domain.QualityStandard,
		ZIPCode:       "97201",
		Materials:     []string{"hardwood"},
		Baseline:      domain.CostRange{Low: 12000, High: 33000},
		Pricing: &domain.PricingBundle{
			ZIPCode: "97201",
			Sections: []domain.PricingSection{
				{Source: domain.PricingRegionalIndex, Status: domain.SectionOK, Index: 1.12},
				{Source: domain.PricingLocalSellers, Status: domain.SectionMissing, Error: "timeout"},
			},
		},
	})

	assert.Contains(t, prompt, "living room")
	assert.Contains(t, prompt, "ZIP 97201")
	assert.Contains(t, prompt, "$12,000 - $33,000")
	assert.Contains(t, prompt, "regional cost index 1.12")
	assert.Contains(t, prompt, "local_sellers: unavailable")
	assert.False(t, strings.Contains(prompt, "timeout"))
}
