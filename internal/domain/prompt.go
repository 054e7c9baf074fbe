package domain

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// RefineSource records where a refined prompt came from.
type RefineSource string

const (
	RefineSourceLLM      RefineSource = "llm"
	RefineSourceFallback RefineSource = "fallback"
)

// RefinedPrompt is the provider-ready form of a user's free-text intent.
type RefinedPrompt struct {
	Original string       `json:"original"`
	Refined  string       `json:"prompt"`
	Target   Modality     `json:"target"`
	Source   RefineSource `json:"source"`
	Provider string       `json:"-"`
}

// DefaultAudioDuration is used when an audio request omits the duration.
const DefaultAudioDuration = 30

// GenerationRequest is an accepted client request. Values are normalized by
// NormalizeText before validation and never mutated afterwards.
type GenerationRequest struct {
	Modality Modality
	Provider string
	Prompt   string
	Duration int
}

// NormalizeText trims s and folds it to NFC so the same intent typed on
// different platforms reaches providers byte-identical.
func NormalizeText(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

// ParseModality maps a target onto a Modality. A blank target means image;
// anything other than image or audio is reported as not ok.
func ParseModality(s string) (Modality, bool) {
	s = strings.TrimSpace(s)
	switch {
	case s == "", strings.EqualFold(s, string(ModalityImage)):
		return ModalityImage, true
	case strings.EqualFold(s, string(ModalityAudio)):
		return ModalityAudio, true
	default:
		return "", false
	}
}
