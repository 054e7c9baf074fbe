package prompt

import (
	"gateway/internal/infra"
)

// NewFromConfig selects the refiner for the configured provider. Without a
// credential for that provider the static refiner is used. Model-backed
// refiners are wrapped in a CachedRefiner.
func NewFromConfig(cfg *infra.Config, logger *infra.Logger) (Refiner, error) {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	onFallback := func(reason string, err error) {
		logger.Warn().Err(err).Str("reason", reason).Msg("prompt: refinement fell back to static")
	}

	var refiner Refiner
	switch {
	case cfg.PromptProvider == openAIProviderName && cfg.OpenAIAPIKey != "":
		r, err := NewOpenAIRefiner(OpenAIOptions{
			APIKey:     cfg.OpenAIAPIKey,
			Model:      cfg.OpenAIModel,
			BaseURL:    cfg.OpenAIBaseURL,
			OnFallback: onFallback,
			OnWarning: func(reason, detail string) {
				logger.Warn().Str("reason", reason).Str("detail", detail).Msg("prompt: openai model adjusted")
			},
		})
		if err != nil {
			return nil, err
		}
		refiner = r
	case cfg.PromptProvider == geminiProviderName && cfg.GeminiAPIKey != "":
		r, err := NewGeminiRefiner(GeminiOptions{
			APIKey:     cfg.GeminiAPIKey,
			Model:      cfg.GeminiModel,
			BaseURL:    cfg.GeminiBaseURL,
			OnFallback: onFallback,
		})
		if err != nil {
			return nil, err
		}
		refiner = r
	default:
		logger.Info().Str("provider", cfg.PromptProvider).Msg("prompt: no credential, using static refiner")
		return NewStaticRefiner(), nil
	}
	return NewCachedRefiner(refiner, cfg.RefineCacheSize, cfg.RefineCacheTTL), nil
}
