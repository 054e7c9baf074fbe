package prompt

import (
	"context"
	"fmt"

	"gateway/internal/domain"
)

const (
	staticProviderName = "static"
	geminiProviderName = "gemini"
	openAIProviderName = "openai"
)

const (
	imageInstruction = "You are a cinematic image prompt engineer. Rewrite the user's intent into a concise, high-quality prompt suitable for image generation. Return plain text only."
	audioInstruction = "You are a music prompt engineer. Rewrite the user's intent into concise tags and style descriptions suitable for AI music generation. Return plain text only."
)

// Refiner turns free-text intent into a provider-ready prompt. Implementations
// never fail: any upstream problem degrades to the deterministic fallback.
type Refiner interface {
	Refine(ctx context.Context, text string, target domain.Modality) domain.RefinedPrompt
}

// FallbackFunc observes degradations to the static refinement.
type FallbackFunc func(reason string, err error)

// StaticRefiner is used when no language model is configured.
type StaticRefiner struct{}

func NewStaticRefiner() *StaticRefiner {
	return &StaticRefiner{}
}

func (s *StaticRefiner) Refine(_ context.Context, text string, target domain.Modality) domain.RefinedPrompt {
	return fallbackPrompt(text, target)
}

func fallbackPrompt(text string, target domain.Modality) domain.RefinedPrompt {
	return domain.RefinedPrompt{
		Original: text,
		Refined:  fmt.Sprintf("[fallback refined %s] %s", target, text),
		Target:   target,
		Source:   domain.RefineSourceFallback,
		Provider: staticProviderName,
	}
}

func llmPrompt(text, refined string, target domain.Modality, provider string) domain.RefinedPrompt {
	return domain.RefinedPrompt{
		Original: text,
		Refined:  refined,
		Target:   target,
		Source:   domain.RefineSourceLLM,
		Provider: provider,
	}
}

// instructionFor picks the system instruction for target. Anything that is not
// audio is refined as an image prompt.
func instructionFor(target domain.Modality) string {
	if target == domain.ModalityAudio {
		return audioInstruction
	}
	return imageInstruction
}

func composeInput(text string, target domain.Modality) string {
	return instructionFor(target) + "\n\nUser input:\n" + text
}

var _ Refiner = (*StaticRefiner)(nil)
