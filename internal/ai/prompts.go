package ai

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/DukeRupert/renova/internal/domain"
)

// BuildEstimatePrompt creates the prompt for a renovation cost estimate.
func BuildEstimatePrompt(params EstimateParams) string {
	var b strings.Builder

	b.WriteString(`You are an experienced residential renovation estimator. Estimate the cost of the project described below for a homeowner in the United States.

**Project:**
`)
	fmt.Fprintf(&b, "- Room: %s\n", params.RoomType.DisplayName())
	fmt.Fprintf(&b, "- Size: %.0f sq ft\n", params.SquareFootage)
	fmt.Fprintf(&b, "- Finish quality: %s\n", params.QualityTier)
	if len(params.Materials) > 0 {
		fmt.Fprintf(&b, "- Materials: %s\n", strings.Join(params.Materials, ", "))
	}
	if params.ZIPCode != "" {
		fmt.Fprintf(&b, "- Location: ZIP %s\n", params.ZIPCode)
	}
	if params.Baseline.Valid() {
		fmt.Fprintf(&b, "- Typical range for this room, size and quality: %s\n", params.Baseline)
	}

	if params.Description != "" {
		fmt.Fprintf(&b, "\n**Homeowner notes:**\n%s\n", params.Description)
	}

	if len(params.Photos) > 0 {
		fmt.Fprintf(&b, "\n%d photo(s) of the current space are attached. Use them to judge scope, condition and demolition needs.\n", len(params.Photos))
	}

	writePricingContext(&b, params.Pricing)

	b.WriteString(`
**Response Format:**
Return your estimate as a JSON object with this exact structure:

{
  "total_cost": {"low": 0, "high": 0},
  "line_items": [
    {"category": "Labor|Materials|Permits|Demolition|Other", "description": "What this covers", "low": 0, "high": 0}
  ],
  "confidence": 0.0,
  "timeline_weeks": {"low": 0, "high": 0},
  "warnings": ["Risks or unknowns that could change the price"],
  "recommendations": ["Ways to save money or reduce risk"]
}

Costs are in US dollars. Confidence is between 0 and 1.

**Important:** Return ONLY the JSON object, no additional text or explanation.`)

	return b.String()
}

// writePricingContext appends the sections that loaded. Missing sections are
// named so the model widens its range instead of guessing local prices.
func writePricingContext(b *strings.Builder, bundle *domain.PricingBundle) {
	if bundle == nil || len(bundle.Sections) == 0 {
		return
	}

	b.WriteString("\n**Local pricing data (advisory):**\n")
	for _, s := range bundle.Sections {
		switch s.Status {
		case domain.SectionOK:
			if s.Index > 0 {
				fmt.Fprintf(b, "- %s: regional cost index %.2f\n", s.Source, s.Index)
			}
			for _, q := range s.Quotes {
				if q.Vendor != "" {
					fmt.Fprintf(b, "- %s: %s from %s at $%.2f", s.Source, q.Item, q.Vendor, q.PriceUSD)
				} else {
					fmt.Fprintf(b, "- %s: %s at $%.2f", s.Source, q.Item, q.PriceUSD)
				}
				if q.Unit != "" {
					fmt.Fprintf(b, " per %s", q.Unit)
				}
				b.WriteString("\n")
			}
		case domain.SectionMissing:
			fmt.Fprintf(b, "- %s: unavailable\n", s.Source)
		}
	}
}

// BuildImagePrompt creates the prompt for an "after" visualization.
func BuildImagePrompt(params ImageParams) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Photorealistic interior design rendering of a renovated %s with a %s finish level.",
		strings.ToLower(params.RoomType.DisplayName()), params.QualityTier)
	if len(params.Materials) > 0 {
		fmt.Fprintf(&b, " Featured materials: %s.", strings.Join(params.Materials, ", "))
	}
	if params.Description != "" {
		fmt.Fprintf(&b, " %s", params.Description)
	}
	if len(params.Photos) > 0 {
		b.WriteString(" Keep the layout, windows and camera angle of the attached photo.")
	}
	b.WriteString(" Natural daylight, wide angle, no people, no text.")

	return b.String()
}

// ParseEstimateJSON extracts the estimate object from a model reply.
// Markdown code fences and text around the object are tolerated.
func ParseEstimateJSON(text string) (*RawEstimate, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON object in reply", EAIMalformed)
	}

	var out RawEstimate
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("%w: %v", EAIMalformed, err)
	}
	return &out, nil
}
