package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/domain"
	"golang.org/x/time/rate"
)

// ErrSourceStatus is returned when a pricing endpoint answers non-2xx.
var ErrSourceStatus = errors.New("pricing: unexpected upstream status")

// HTTPSource fetches a section as JSON from a pricing endpoint:
//
//	GET {endpoint}?zip=97201&room=kitchen&materials=granite,oak
//
// The response body is {"index": 1.08, "quotes": [{"item": "...", "vendor": "...", "unit": "sq ft", "price_usd": 4.5}]}.
type HTTPSource struct {
	name     domain.PricingSource
	endpoint string
	apiKey   string
	client   *http.Client
	limiter  *rate.Limiter
}

var _ Source = (*HTTPSource)(nil)

// HTTPOption configures an HTTPSource.
type HTTPOption func(*HTTPSource)

// WithAPIKey sends key as a bearer token.
func WithAPIKey(key string) HTTPOption {
	return func(s *HTTPSource) { s.apiKey = key }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(s *HTTPSource) { s.client = c }
}

// WithRateLimit caps requests to the endpoint at perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) HTTPOption {
	return func(s *HTTPSource) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// NewHTTPSource creates a JSON pricing source.
func NewHTTPSource(name domain.PricingSource, endpoint string, opts ...HTTPOption) *HTTPSource {
	s := &HTTPSource{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Name returns the section this source fills.
func (s *HTTPSource) Name() domain.PricingSource { return s.name }

type sourceResponse struct {
	Index  float64             `json:"index"`
	Quotes []domain.PriceQuote `json:"quotes"`
}

// Fetch waits for the rate limiter and requests the section.
func (s *HTTPSource) Fetch(ctx context.Context, q Query) (domain.PricingSection, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return domain.PricingSection{}, fmt.Errorf("pricing %s: rate limit wait: %w", s.name, err)
	}

	u, err := url.Parse(s.endpoint)
	if err != nil {
		return domain.PricingSection{}, fmt.Errorf("pricing %s: parse endpoint: %w", s.name, err)
	}
	params := u.Query()
	params.Set("zip", q.ZIPCode)
	if q.RoomType != "" {
		params.Set("room", string(q.RoomType))
	}
	if len(q.Materials) > 0 {
		params.Set("materials", strings.Join(q.Materials, ","))
	}
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return domain.PricingSection{}, fmt.Errorf("pricing %s: create request: %w", s.name, err)
	}
	req.Header.Set("Accept", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return domain.PricingSection{}, fmt.Errorf("pricing %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))
		return domain.PricingSection{}, fmt.Errorf("pricing %s: %w: %d", s.name, ErrSourceStatus, resp.StatusCode)
	}

	var body sourceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return domain.PricingSection{}, fmt.Errorf("pricing %s: decode response: %w", s.name, err)
	}

	return domain.PricingSection{
		Source: s.name,
		Index:  body.Index,
		Quotes: body.Quotes,
	}, nil
}
