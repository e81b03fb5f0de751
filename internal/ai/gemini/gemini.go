// Package gemini implements ai.Generator against the Google Gemini API.
// Gemini image models return rendered "after" images as inline data.
package gemini

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

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Provider is the Gemini API adapter.
type Provider struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ ai.Generator = (*Provider)(nil)

// Option configures the provider.
type Option func(*Provider)

// WithBaseURL sets a custom base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.httpClient = c }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New creates a new Gemini provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	p := &Provider{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 90 * time.Second},
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Gemini API types.
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string        `json:"text,omitempty"`
	InlineData *geminiInline `json:"inlineData,omitempty"`
}

type geminiInline struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiGenerationConfig struct {
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
	CandidateCount     int      `json:"candidateCount,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata"`
}

// GenerateEstimate requests a JSON estimate, sending photos as inline data.
func (p *Provider) GenerateEstimate(ctx context.Context, model string, params ai.EstimateParams) (*ai.RawEstimate, error) {
	start := time.Now()

	parts := make([]geminiPart, 0, len(params.Photos)+1)
	for _, photo := range params.Photos {
		parts = append(parts, inlinePart(photo.ContentType, photo.Data))
	}
	parts = append(parts, geminiPart{Text: ai.BuildEstimatePrompt(params)})

	resp, err := p.generate(ctx, model, geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{ResponseMimeType: "application/json"},
	})
	if err != nil {
		return nil, ai.WrapError("generate estimate", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, ai.WrapError("generate estimate", fmt.Errorf("%w: empty candidates in gemini response", ai.EAIMalformed))
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}

	raw, err := ai.ParseEstimateJSON(text.String())
	if err != nil {
		return nil, ai.WrapError("generate estimate", err)
	}
	raw.Usage = ai.UsageInfo{
		Model:        model,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
		Duration:     time.Since(start),
	}
	return raw, nil
}

// GenerateImages requests rendered images. Gemini returns at most one image
// per call, so Count calls are made sequentially.
func (p *Provider) GenerateImages(ctx context.Context, model string, params ai.ImageParams) (*ai.RawImages, error) {
	start := time.Now()
	prompt := ai.BuildImagePrompt(params)

	parts := []geminiPart{{Text: prompt}}
	for _, photo := range params.Photos {
		parts = append(parts, inlinePart(photo.ContentType, photo.Data))
	}
	req := geminiRequest{
		Contents:         []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{ResponseModalities: []string{"TEXT", "IMAGE"}},
	}

	count := params.Count
	if count <= 0 {
		count = 1
	}

	out := &ai.RawImages{Prompt: prompt}
	for i := 0; i < count; i++ {
		resp, err := p.generate(ctx, model, req)
		if err != nil {
			return nil, ai.WrapError("generate images", err)
		}
		out.Usage.InputTokens += resp.UsageMetadata.PromptTokenCount
		out.Usage.OutputTokens += resp.UsageMetadata.CandidatesTokenCount

		img, err := firstImage(resp)
		if err != nil {
			return nil, ai.WrapError("generate images", err)
		}
		out.Images = append(out.Images, img)
	}

	out.Usage.Model = model
	out.Usage.Duration = time.Since(start)
	return out, nil
}

// Probe fetches the model's metadata.
func (p *Provider) Probe(ctx context.Context, model string) error {
	endpoint := fmt.Sprintf("%s/models/%s?key=%s", p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return ai.WrapError("probe", fmt.Errorf("create gemini request: %w", err))
	}

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return ai.WrapError("probe", transportError(err))
	}
	defer resp.Body.Close()

	if err := mapHTTPError(resp); err != nil {
		return ai.WrapError("probe", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (p *Provider) generate(ctx context.Context, model string, body geminiRequest) (*geminiResponse, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent?key=%s", p.baseURL, url.PathEscape(model), url.QueryEscape(p.apiKey))

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create gemini request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer httpResp.Body.Close()

	if err := mapHTTPError(httpResp); err != nil {
		p.logger.Debug("Gemini request failed", "model", model, "status", httpResp.StatusCode, "error", err)
		return nil, err
	}

	var resp geminiResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("%w: decode gemini response: %v", ai.EAIMalformed, err)
	}
	return &resp, nil
}

func inlinePart(contentType string, data []byte) geminiPart {
	return geminiPart{InlineData: &geminiInline{
		MimeType: contentType,
		Data:     base64.StdEncoding.EncodeToString(data),
	}}
}

func firstImage(resp *geminiResponse) (ai.RawImage, error) {
	for _, c := range resp.Candidates {
		for _, part := range c.Content.Parts {
			if part.InlineData == nil || !strings.HasPrefix(part.InlineData.MimeType, "image/") {
				continue
			}
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return ai.RawImage{}, fmt.Errorf("%w: decode image data: %v", ai.EAIMalformed, err)
			}
			return ai.RawImage{ContentType: part.InlineData.MimeType, Data: data}, nil
		}
	}
	return ai.RawImage{}, fmt.Errorf("%w: no image in gemini response", ai.EAIMalformed)
}

func transportError(err error) error {
	var t interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &t) && t.Timeout()) {
		return ai.EAITimeout
	}
	return ai.EAIUnavailable
}

func mapHTTPError(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	switch resp.StatusCode {
	case http.StatusTooManyRequests:
		return ai.EAIRateLimit
	case http.StatusUnauthorized, http.StatusForbidden:
		return ai.EAIUnauthorized
	case http.StatusGatewayTimeout:
		return ai.EAITimeout
	case http.StatusBadRequest:
		// Gemini reports bad keys as 400 INVALID_ARGUMENT.
		if bytes.Contains(body, []byte("API_KEY_INVALID")) {
			return ai.EAIUnauthorized
		}
		return fmt.Errorf("%w: status %d: %s", ai.EAIUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	default:
		// 400 (unsupported model/modality), 404 (unknown model), 5xx
		return fmt.Errorf("%w: status %d: %s", ai.EAIUnavailable, resp.StatusCode, strings.TrimSpace(string(body)))
	}
}
