package prompt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gateway/internal/domain"
)

type GeminiOptions struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	OnFallback FallbackFunc
}

// GeminiRefiner rewrites prompts with a single generateContent call.
type GeminiRefiner struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	onFallback FallbackFunc
}

const geminiDefaultTimeout = 120 * time.Second

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text string `json:"text,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
}

func NewGeminiRefiner(opts GeminiOptions) (*GeminiRefiner, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "gemini-1.5-pro"
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: geminiDefaultTimeout}
	}
	return &GeminiRefiner{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		onFallback: opts.OnFallback,
	}, nil
}

func (g *GeminiRefiner) Refine(ctx context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	if g.apiKey == "" {
		return g.useFallback(text, target, "missing_api_key", nil)
	}
	payload := geminiRequest{
		Contents: []geminiContent{{
			Parts: []geminiPart{{Text: composeInput(text, target)}},
		}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return g.useFallback(text, target, "marshal_request", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint(), &buf)
	if err != nil {
		return g.useFallback(text, target, "build_request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := g.client.Do(httpReq)
	if err != nil {
		return g.useFallback(text, target, "http_request", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return g.useFallback(text, target, "http_status", fmt.Errorf("status %d: %s", resp.StatusCode, domain.BodyDigest(raw)))
	}
	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return g.useFallback(text, target, "decode_response", err)
	}
	refined := extractText(out)
	if refined == "" {
		return g.useFallback(text, target, "empty_response", nil)
	}
	return llmPrompt(text, refined, target, geminiProviderName)
}

func (g *GeminiRefiner) endpoint() string {
	model := url.PathEscape(g.model)
	return fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, url.QueryEscape(g.apiKey))
}

// extractText joins every text part of the first candidate.
func extractText(resp geminiResponse) string {
	if len(resp.Candidates) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	return strings.TrimSpace(sb.String())
}

func (g *GeminiRefiner) useFallback(text string, target domain.Modality, reason string, err error) domain.RefinedPrompt {
	if g.onFallback != nil {
		g.onFallback(reason, err)
	}
	return fallbackPrompt(text, target)
}

var _ Refiner = (*GeminiRefiner)(nil)
