package pipeline

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/DukeRupert/renova/internal/ai"
	"github.com/DukeRupert/renova/internal/domain"
)

// errMissingField marks raw output that lacks a required field.
var errMissingField = errors.New("missing required field")

// Estimates further than this factor outside the baseline range get a warning.
const baselineTolerance = 3.0

// normalizeEstimate converts raw model output into a domain estimate.
// Total cost, confidence and timeline are required.
func normalizeEstimate(raw *ai.RawEstimate, baseline domain.CostRange, pricing *domain.PricingBundle) (*domain.Estimate, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: estimate", errMissingField)
	}

	total, err := costRange("total_cost", raw.TotalCost)
	if err != nil {
		return nil, err
	}
	if raw.Confidence == nil {
		return nil, fmt.Errorf("%w: confidence", errMissingField)
	}
	timeline, err := timelineRange(raw.TimelineWeeks)
	if err != nil {
		return nil, err
	}

	est := &domain.Estimate{
		TotalCost:       total,
		Confidence:      clamp(*raw.Confidence, 0, 1),
		Timeline:        timeline,
		LineItems:       make([]domain.LineItem, 0, len(raw.LineItems)),
		Warnings:        cleanStrings(raw.Warnings),
		Recommendations: cleanStrings(raw.Recommendations),
	}

	for _, li := range raw.LineItems {
		low, high := li.Low, li.High
		if low > high {
			low, high = high, low
		}
		if strings.TrimSpace(li.Description) == "" || low < 0 || high <= 0 {
			continue
		}
		est.LineItems = append(est.LineItems, domain.LineItem{
			Category:    strings.TrimSpace(li.Category),
			Description: strings.TrimSpace(li.Description),
			Cost:        domain.CostRange{Low: low, High: high},
		})
	}

	if baseline.Valid() && (total.High < baseline.Low/baselineTolerance || total.Low > baseline.High*baselineTolerance) {
		est.Warnings = append(est.Warnings,
			fmt.Sprintf("This estimate is well outside the typical range of %s for similar projects. Confirm scope with a contractor.", baseline))
	}

	if missing := pricing.Missing(); len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = strings.ReplaceAll(string(m), "_", " ")
		}
		est.Warnings = append(est.Warnings,
			fmt.Sprintf("Local pricing was unavailable (%s); the range may be less precise.", strings.Join(names, ", ")))
	}

	if est.Warnings == nil {
		est.Warnings = []string{}
	}
	if est.Recommendations == nil {
		est.Recommendations = []string{}
	}
	return est, nil
}

func costRange(field string, r *ai.RawRange) (domain.CostRange, error) {
	if r == nil || r.Low == nil || r.High == nil {
		return domain.CostRange{}, fmt.Errorf("%w: %s", errMissingField, field)
	}
	c := domain.CostRange{Low: *r.Low, High: *r.High}
	if c.Low > c.High {
		c.Low, c.High = c.High, c.Low
	}
	if !c.Valid() {
		return domain.CostRange{}, fmt.Errorf("invalid %s %v-%v", field, *r.Low, *r.High)
	}
	return c, nil
}

func timelineRange(r *ai.RawRange) (domain.TimelineRange, error) {
	if r == nil || r.Low == nil || r.High == nil {
		return domain.TimelineRange{}, fmt.Errorf("%w: timeline_weeks", errMissingField)
	}
	t := domain.TimelineRange{
		MinWeeks: int(math.Max(1, math.Round(*r.Low))),
		MaxWeeks: int(math.Max(1, math.Ceil(*r.High))),
	}
	if t.MinWeeks > t.MaxWeeks {
		t.MinWeeks, t.MaxWeeks = t.MaxWeeks, t.MinWeeks
	}
	return t, nil
}

// imageMeasurer reads encoded image dimensions.
type imageMeasurer interface {
	Dimensions(data []byte) (int, int, error)
}

// normalizeImages keeps at most want decodable images.
func normalizeImages(raw *ai.RawImages, want int, m imageMeasurer) ([]domain.RenderedImage, error) {
	if raw == nil || len(raw.Images) == 0 {
		return nil, fmt.Errorf("%w: images", errMissingField)
	}

	out := make([]domain.RenderedImage, 0, len(raw.Images))
	for i, img := range raw.Images {
		if len(out) == want {
			break
		}
		if len(img.Data) == 0 {
			return nil, fmt.Errorf("%w: image %d data", errMissingField, i)
		}
		w, h, err := m.Dimensions(img.Data)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		contentType := img.ContentType
		if !strings.HasPrefix(contentType, "image/") {
			contentType = http.DetectContentType(img.Data)
		}
		out = append(out, domain.RenderedImage{
			ContentType: contentType,
			Width:       w,
			Height:      h,
			Prompt:      raw.Prompt,
			Data:        img.Data,
		})
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}

func cleanStrings(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
