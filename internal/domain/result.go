// Package domain contains core business types and interfaces.
//
// This file defines the normalized output of the generation pipeline.
package domain

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// CostRange is a low/high USD amount.
type CostRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// Valid reports whether the range is non-negative and ordered.
func (c CostRange) Valid() bool {
	return c.Low >= 0 && c.High > 0 && c.Low <= c.High
}

// Midpoint returns the centre of the range.
func (c CostRange) Midpoint() float64 {
	return (c.Low + c.High) / 2
}

// String formats the range in US dollars, e.g. "$12,000 - $18,500".
func (c CostRange) String() string {
	p := message.NewPrinter(language.AmericanEnglish)
	return p.Sprintf("$%.0f - $%.0f", c.Low, c.High)
}

// TimelineRange is a project duration in weeks.
type TimelineRange struct {
	MinWeeks int `json:"min_weeks"`
	MaxWeeks int `json:"max_weeks"`
}

// Valid reports whether the timeline is positive and ordered.
func (t TimelineRange) Valid() bool {
	return t.MinWeeks > 0 && t.MinWeeks <= t.MaxWeeks
}

// LineItem is one priced component of an estimate.
type LineItem struct {
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Cost        CostRange `json:"cost"`
}

// Estimate is a normalized AI cost estimate.
type Estimate struct {
	TotalCost       CostRange     `json:"total_cost"`
	LineItems       []LineItem    `json:"line_items"`
	Confidence      float64       `json:"confidence"`
	Timeline        TimelineRange `json:"timeline"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
}

// RenderedImage is a normalized AI-generated "after" image.
type RenderedImage struct {
	ContentType string `json:"content_type"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	Prompt      string `json:"prompt,omitempty"`
	Data        []byte `json:"-"`
	StorageKey  string `json:"storage_key,omitempty"`
	URL         string `json:"url,omitempty"`
	// Embedded carries the image bytes (base64 in JSON) when it was not
	// stored.
	Embedded    []byte `json:"data,omitempty"`
}

// GenerationResult is the pipeline's output. Exactly one of Estimate or
// Images is set, according to Kind.
type GenerationResult struct {
	ID          uuid.UUID       `json:"id"`
	Kind        RequestKind     `json:"kind"`
	Model       string          `json:"model"`
	Attempts    int             `json:"attempts"`
	Estimate    *Estimate       `json:"estimate,omitempty"`
	Images      []RenderedImage `json:"images,omitempty"`
	Pricing     *PricingBundle  `json:"pricing,omitempty"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// EmbedImages puts image bytes inline and drops storage references, for
// results that could not be persisted.
func (g *GenerationResult) EmbedImages() {
	for i := range g.Images {
		img := &g.Images[i]
		img.Embedded = img.Data
		img.StorageKey = ""
		img.URL = ""
	}
}

// MissingPricing lists pricing sections that could not be fetched.
func (g *GenerationResult) MissingPricing() []PricingSource {
	if g.Pricing == nil {
		return nil
	}
	return g.Pricing.Missing()
}
