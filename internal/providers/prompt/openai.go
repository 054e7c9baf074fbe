package prompt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"gateway/internal/domain"
)

type OpenAIOptions struct {
	APIKey       string
	Model        string
	BaseURL      string
	Organization string
	HTTPClient   *http.Client
	OnFallback   FallbackFunc
	OnWarning    func(reason, detail string)
}

// OpenAIRefiner rewrites prompts through a chat completion.
type OpenAIRefiner struct {
	apiKey     string
	model      string
	client     *openai.Client
	onFallback FallbackFunc
}

const openAIDefaultTimeout = 120 * time.Second

const defaultOpenAIModel = "gpt-4o-mini"

var openAIModelCanonical = map[string]string{
	"gpt-3.5-turbo": "gpt-3.5-turbo",
	"gpt-4o":        "gpt-4o",
	"gpt-4o-mini":   "gpt-4o-mini",
	"gpt-4.1-mini":  "gpt-4.1-mini",
}

var openAIModelAliases = map[string]string{
	"gpt-3.5":                "gpt-3.5-turbo",
	"gpt3.5":                 "gpt-3.5-turbo",
	"gpt-35-turbo":           "gpt-3.5-turbo",
	"gpt4o":                  "gpt-4o",
	"gpt4o-mini":             "gpt-4o-mini",
	"gpt4omini":              "gpt-4o-mini",
	"gpt-4o-mini-2024-07-18": "gpt-4o-mini",
	"gpt4.1-mini":            "gpt-4.1-mini",
}

func NewOpenAIRefiner(opts OpenAIOptions) (*OpenAIRefiner, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai api key is required")
	}
	modelInput := strings.TrimSpace(opts.Model)
	normalizedModel, normalizationReason := normalizeOpenAIModel(modelInput)
	if normalizationReason != "" && opts.OnWarning != nil {
		requested := modelInput
		if requested == "" {
			requested = defaultOpenAIModel
		}
		opts.OnWarning("model_"+normalizationReason, fmt.Sprintf("requested=%s resolved=%s", requested, normalizedModel))
	}

	cfg := openai.DefaultConfig(apiKey)
	if baseURL := strings.TrimRight(opts.BaseURL, "/"); baseURL != "" {
		cfg.BaseURL = baseURL
	}
	cfg.OrgID = strings.TrimSpace(opts.Organization)
	if opts.HTTPClient != nil {
		cfg.HTTPClient = opts.HTTPClient
	} else {
		cfg.HTTPClient = &http.Client{Timeout: openAIDefaultTimeout}
	}

	return &OpenAIRefiner{
		apiKey:     apiKey,
		model:      normalizedModel,
		client:     openai.NewClientWithConfig(cfg),
		onFallback: opts.OnFallback,
	}, nil
}

func (o *OpenAIRefiner) Refine(ctx context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	if o.apiKey == "" {
		return o.useFallback(text, target, "missing_api_key", nil)
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       o.model,
		Temperature: 0.6,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: instructionFor(target)},
			{Role: openai.ChatMessageRoleUser, Content: "User input:\n" + text},
		},
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return o.useFallback(text, target, fmt.Sprintf("http_%d", apiErr.HTTPStatusCode), err)
		}
		return o.useFallback(text, target, "http_request", err)
	}
	if len(resp.Choices) == 0 {
		return o.useFallback(text, target, "empty_choices", errors.New("no choices"))
	}
	refined := strings.TrimSpace(resp.Choices[0].Message.Content)
	if refined == "" {
		return o.useFallback(text, target, "empty_response", errors.New("empty response"))
	}
	return llmPrompt(text, refined, target, openAIProviderName)
}

func (o *OpenAIRefiner) useFallback(text string, target domain.Modality, reason string, err error) domain.RefinedPrompt {
	if o.onFallback != nil {
		o.onFallback(reason, err)
	}
	return fallbackPrompt(text, target)
}

var _ Refiner = (*OpenAIRefiner)(nil)

func normalizeOpenAIModel(name string) (string, string) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultOpenAIModel, ""
	}
	normalized := strings.ToLower(trimmed)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	if canonical, ok := openAIModelCanonical[normalized]; ok {
		return canonical, ""
	}
	if alias, ok := openAIModelAliases[normalized]; ok {
		return alias, "alias"
	}
	return defaultOpenAIModel, "defaulted"
}
