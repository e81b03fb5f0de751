package domain

import "time"

// PricingSource identifies one upstream pricing feed.
type PricingSource string

const (
	PricingLocalSellers   PricingSource = "local_sellers"
	PricingRegionalIndex  PricingSource = "regional_index"
	PricingMaterialQuotes PricingSource = "material_quotes"
)

// PricingSources lists every pricing source in bundle order.
var PricingSources = []PricingSource{
	PricingLocalSellers,
	PricingRegionalIndex,
	PricingMaterialQuotes,
}

// SectionStatus reports whether a pricing section was populated.
type SectionStatus string

const (
	SectionOK      SectionStatus = "ok"
	SectionMissing SectionStatus = "missing"
	SectionSkipped SectionStatus = "skipped"
)

// PriceQuote is a single advisory price from a pricing source.
type PriceQuote struct {
	Item     string  `json:"item"`
	Vendor   string  `json:"vendor,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	PriceUSD float64 `json:"price_usd"`
}

// PricingSection is the result of one pricing source.
type PricingSection struct {
	Source PricingSource `json:"source"`
	Status SectionStatus `json:"status"`
	// Index is the regional cost multiplier relative to the national average.
	Index     float64      `json:"index,omitempty"`
	Quotes    []PriceQuote `json:"quotes,omitempty"`
	Error     string       `json:"error,omitempty"`
	FetchedAt time.Time    `json:"fetched_at,omitempty"`
}

// PricingBundle joins every pricing section for one ZIP code.
type PricingBundle struct {
	ZIPCode  string           `json:"zip_code,omitempty"`
	Sections []PricingSection `json:"sections"`
}

// Section returns the section for a source, if present.
func (b *PricingBundle) Section(src PricingSource) (PricingSection, bool) {
	if b == nil {
		return PricingSection{}, false
	}
	for _, s := range b.Sections {
		if s.Source == src {
			return s, true
		}
	}
	return PricingSection{}, false
}

// Missing lists sections that failed to load.
func (b *PricingBundle) Missing() []PricingSource {
	if b == nil {
		return nil
	}
	var out []PricingSource
	for _, s := range b.Sections {
		if s.Status == SectionMissing {
			out = append(out, s.Source)
		}
	}
	return out
}

// Partial reports whether at least one section failed to load.
func (b *PricingBundle) Partial() bool {
	return len(b.Missing()) > 0
}

// Empty reports whether no section carries data.
func (b *PricingBundle) Empty() bool {
	if b == nil {
		return true
	}
	for _, s := range b.Sections {
		if s.Status == SectionOK {
			return false
		}
	}
	return true
}
