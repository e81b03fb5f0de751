package anthropic

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DukeRupert/renova/internal/ai"
)

const (
	// DefaultBaseURL is the base URL for the Anthropic API
	DefaultBaseURL = "https://api.anthropic.com/v1"

	// APIVersion is the Anthropic API version
	APIVersion = "2023-06-01"

	// MaxImageSize is the maximum image size in bytes (20MB)
	MaxImageSize = 20 * 1024 * 1024

	maxEstimateTokens = 4096
)

// Config contains configuration for the Anthropic provider
type Config struct {
	APIKey         string
	BaseURL        string
	ProviderConfig ai.ProviderConfig
}

// Provider implements ai.Generator using Anthropic's Messages API.
// Claude models do not produce images; GenerateImages reports the model
// as unavailable so the fallback chain moves on.
type Provider struct {
	config Config
	client *http.Client
	logger *slog.Logger
}

var _ ai.Generator = (*Provider)(nil)

// New creates a new Anthropic AI provider
func New(config Config, logger *slog.Logger) (*Provider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}

	// Set defaults
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.ProviderConfig.MaxRetries == 0 {
		config.ProviderConfig.MaxRetries = 1
	}
	if config.ProviderConfig.RetryBaseDelay == 0 {
		config.ProviderConfig.RetryBaseDelay = 1 * time.Second
	}
	if config.ProviderConfig.RequestTimeout == 0 {
		config.ProviderConfig.RequestTimeout = 60 * time.Second
	}

	return &Provider{
		config: config,
		client: &http.Client{
			Timeout: config.ProviderConfig.RequestTimeout,
		},
		logger: logger,
	}, nil
}

// GenerateEstimate asks Claude for a cost estimate, attaching photos when present.
func (p *Provider) GenerateEstimate(ctx context.Context, model string, params ai.EstimateParams) (*ai.RawEstimate, error) {
	startTime := time.Now()

	if err := validatePhotos(params); err != nil {
		return nil, ai.WrapError("generate estimate", err)
	}

	content := make([]apiContent, 0, len(params.Photos)+1)
	for _, photo := range params.Photos {
		content = append(content, apiContent{
			Type: "image",
			Source: &apiImageSource{
				Type:      "base64",
				MediaType: photo.ContentType,
				Data:      base64.StdEncoding.EncodeToString(photo.Data),
			},
		})
	}
	content = append(content, apiContent{Type: "text", Text: ai.BuildEstimatePrompt(params)})

	body, err := json.Marshal(apiRequest{
		Model:     model,
		MaxTokens: maxEstimateTokens,
		Messages:  []apiMessage{{Role: "user", Content: content}},
	})
	if err != nil {
		return nil, ai.WrapError("build request", fmt.Errorf("marshal request: %w", err))
	}

	resp, err := p.executeWithRetry(ctx, http.MethodPost, p.config.BaseURL+"/messages", body)
	if err != nil {
		return nil, ai.WrapError("execute request", err)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(resp, &apiResp); err != nil {
		return nil, ai.WrapError("parse response", fmt.Errorf("%w: %v", ai.EAIMalformed, err))
	}

	result, err := parseEstimateResponse(&apiResp)
	if err != nil {
		return nil, ai.WrapError("parse response", err)
	}

	result.Usage = ai.UsageInfo{
		Model:        model,
		InputTokens:  apiResp.Usage.InputTokens,
		OutputTokens: apiResp.Usage.OutputTokens,
		Duration:     time.Since(startTime),
	}

	p.logger.Debug("Anthropic estimate generated",
		"model", model,
		"photos", len(params.Photos),
		"input_tokens", apiResp.Usage.InputTokens,
		"output_tokens", apiResp.Usage.OutputTokens,
		"duration", result.Usage.Duration,
	)

	return result, nil
}

// GenerateImages is not supported by Claude models.
func (p *Provider) GenerateImages(ctx context.Context, model string, params ai.ImageParams) (*ai.RawImages, error) {
	return nil, ai.WrapError("generate images", fmt.Errorf("%w: model %s cannot generate images", ai.EAIUnavailable, model))
}

// Probe looks the model up in the models API.
func (p *Provider) Probe(ctx context.Context, model string) error {
	_, err := p.executeWithRetry(ctx, http.MethodGet, p.config.BaseURL+"/models/"+url.PathEscape(model), nil)
	if err != nil {
		return ai.WrapError("probe", err)
	}
	return nil
}

// validatePhotos validates the attached photos
func validatePhotos(params ai.EstimateParams) error {
	for _, photo := range params.Photos {
		if len(photo.Data) == 0 {
			return fmt.Errorf("%w: empty photo %q", ai.EAIMalformed, photo.Filename)
		}
		if len(photo.Data) > MaxImageSize {
			return fmt.Errorf("%w: photo size %d exceeds maximum %d", ai.EAIMalformed, len(photo.Data), MaxImageSize)
		}
	}
	return nil
}

// executeWithRetry executes an HTTP request with exponential backoff retry
func (p *Provider) executeWithRetry(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= p.config.ProviderConfig.MaxRetries; attempt++ {
		resp, err := p.executeRequest(ctx, method, endpoint, body)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		// Only retry on retryable errors
		if !ai.IsRetryable(err) {
			return nil, err
		}

		// Don't retry if we've exhausted attempts
		if attempt >= p.config.ProviderConfig.MaxRetries {
			break
		}

		// Calculate backoff delay (exponential: base * 2^(attempt-1))
		delay := p.config.ProviderConfig.RetryBaseDelay * time.Duration(1<<(attempt-1))
		p.logger.Info("Retrying AI request", "attempt", attempt, "delay", delay, "error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ai.Classify(ctx.Err())
		}
	}

	return nil, lastErr
}

// executeRequest executes a single HTTP request
func (p *Provider) executeRequest(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("x-api-key", p.config.APIKey)
	req.Header.Set("anthropic-version", APIVersion)

	resp, err := p.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			return nil, ai.EAITimeout
		}
		// Network errors are typically retryable
		return nil, ai.EAIUnavailable
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ai.EAIUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, mapHTTPError(resp.StatusCode, bodyBytes)
	}

	return bodyBytes, nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}

// mapHTTPError maps HTTP status codes to AI errors
func mapHTTPError(statusCode int, body []byte) error {
	var errResp apiErrorResponse
	_ = json.Unmarshal(body, &errResp)

	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusNotFound:
		return fmt.Errorf("%w: model not found", ai.EAIUnavailable)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: bad request: %s", ai.EAIUnavailable, errResp.Error.Message)
	default:
		// 500, 502, 503 and Anthropic's 529 overloaded
		return fmt.Errorf("%w: status %d: %s", ai.EAIUnavailable, statusCode, errResp.Error.Message)
	}
}

// parseEstimateResponse extracts the JSON estimate from the text content
func parseEstimateResponse(resp *apiResponse) (*ai.RawEstimate, error) {
	var textContent string
	for _, content := range resp.Content {
		if content.Type == "text" {
			textContent = content.Text
			break
		}
	}

	if textContent == "" {
		return nil, fmt.Errorf("%w: no text content in response", ai.EAIMalformed)
	}

	return ai.ParseEstimateJSON(textContent)
}

// API request/response types

type apiRequest struct {
	Model     string       `json:"model"`
	MaxTokens int          `json:"max_tokens"`
	Messages  []apiMessage `json:"messages"`
}

type apiMessage struct {
	Role    string       `json:"role"`
	Content []apiContent `json:"content"`
}

type apiContent struct {
	Type   string          `json:"type"`
	Text   string          `json:"text,omitempty"`
	Source *apiImageSource `json:"source,omitempty"`
}

type apiImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type apiResponse struct {
	ID      string             `json:"id"`
	Type    string             `json:"type"`
	Role    string             `json:"role"`
	Content []apiContentOutput `json:"content"`
	Model   string             `json:"model"`
	Usage   apiUsage           `json:"usage"`
}

type apiContentOutput struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type apiErrorResponse struct {
	Type  string   `json:"type"`
	Error apiError `json:"error"`
}

type apiError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}
