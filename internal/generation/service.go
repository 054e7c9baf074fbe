package generation

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/cases"

	"gateway/internal/domain"
	"gateway/internal/infra"
	"gateway/internal/providers/prompt"
)

const (
	ProviderSD   = "sd"
	ProviderMJ   = "mj"
	ProviderSuno = "suno"

	defaultImageProvider = ProviderMJ
	defaultAudioProvider = ProviderSuno
)

// ImageGenerator produces one image artifact from a prompt.
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (domain.Artifact, error)
}

// AsyncImageGenerator is an image generator backed by a remote task queue.
type AsyncImageGenerator interface {
	ImageGenerator
	CheckConfigured() error
}

// AudioGenerator produces one audio artifact from a prompt.
type AudioGenerator interface {
	CheckConfigured() error
	Generate(ctx context.Context, prompt string, duration int) (domain.Artifact, error)
}

// BackgroundRemover strips the background from an encoded image.
type BackgroundRemover interface {
	Remove(ctx context.Context, image []byte) ([]byte, error)
}

// Saver persists bytes in the artifact store.
type Saver interface {
	Save(ctx context.Context, data []byte, suffix string) (string, error)
}

// Options wires the service's collaborators.
type Options struct {
	Refiner prompt.Refiner
	SD      ImageGenerator
	MJ      AsyncImageGenerator
	Suno    AudioGenerator
	Remover BackgroundRemover
	Store   Saver
	Logger  *infra.Logger
}

// Result is what a generation endpoint returns. Prompt is only set when the
// request went through refinement.
type Result struct {
	domain.Artifact
	Prompt string `json:"prompt,omitempty"`
}

// Service validates requests, routes them to a provider and returns the
// stored artifact. It holds no per-request state.
type Service struct {
	refiner prompt.Refiner
	sd      ImageGenerator
	mj      AsyncImageGenerator
	suno    AudioGenerator
	remover BackgroundRemover
	store   Saver
	logger  *infra.Logger
}

func NewService(opts Options) (*Service, error) {
	if opts.Refiner == nil {
		return nil, errors.New("generation: refiner is required")
	}
	if opts.SD == nil || opts.MJ == nil || opts.Suno == nil {
		return nil, errors.New("generation: sd, mj and suno drivers are required")
	}
	if opts.Remover == nil || opts.Store == nil {
		return nil, errors.New("generation: remover and store are required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return &Service{
		refiner: opts.Refiner,
		sd:      opts.SD,
		mj:      opts.MJ,
		suno:    opts.Suno,
		remover: opts.Remover,
		store:   opts.Store,
		logger:  logger,
	}, nil
}

// RefinePrompt rewrites text for target. A blank target means image.
func (s *Service) RefinePrompt(ctx context.Context, text, target string) (domain.RefinedPrompt, error) {
	text = domain.NormalizeText(text)
	if text == "" {
		return domain.RefinedPrompt{}, domain.NewValidationError("text", "text is required")
	}
	modality, ok := domain.ParseModality(target)
	if !ok {
		return domain.RefinedPrompt{}, domain.NewValidationError("target", "target must be image or audio")
	}
	refined := s.refiner.Refine(ctx, text, modality)
	s.log(ctx).Debug().
		Str("target", string(modality)).
		Str("source", string(refined.Source)).
		Msg("generation: prompt refined")
	return refined, nil
}

// GenerateImage dispatches an image request to sd or mj. The prompt is used
// verbatim.
func (s *Service) GenerateImage(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	req.Modality = domain.ModalityImage
	req.Prompt = domain.NormalizeText(req.Prompt)
	if req.Prompt == "" {
		return Result{}, domain.NewValidationError("prompt", "prompt is required")
	}
	req.Provider = normalizeProvider(req.Provider, defaultImageProvider)

	var (
		art domain.Artifact
		err error
	)
	started := time.Now()
	switch req.Provider {
	case ProviderSD:
		art, err = s.sd.Generate(ctx, req.Prompt)
	case ProviderMJ:
		if err = s.mj.CheckConfigured(); err == nil {
			art, err = s.runDetached(ctx, func(runCtx context.Context) (domain.Artifact, error) {
				return s.mj.Generate(runCtx, req.Prompt)
			})
		}
	default:
		err = &domain.UnsupportedProviderError{Modality: domain.ModalityImage, Provider: req.Provider}
	}
	if err != nil {
		return Result{}, s.fail(ctx, req, err)
	}
	s.succeed(ctx, req, art, started)
	return Result{Artifact: art}, nil
}

// GenerateAudio refines the prompt and dispatches it to the audio proxy. The
// proxy configuration is checked before refinement so a misconfigured gateway
// makes no network calls.
func (s *Service) GenerateAudio(ctx context.Context, req domain.GenerationRequest) (Result, error) {
	req.Modality = domain.ModalityAudio
	req.Prompt = domain.NormalizeText(req.Prompt)
	if req.Prompt == "" {
		return Result{}, domain.NewValidationError("prompt", "prompt is required")
	}
	req.Provider = normalizeProvider(req.Provider, defaultAudioProvider)
	if req.Provider != ProviderSuno {
		return Result{}, s.fail(ctx, req, &domain.UnsupportedProviderError{Modality: domain.ModalityAudio, Provider: req.Provider})
	}
	if req.Duration <= 0 {
		req.Duration = domain.DefaultAudioDuration
	}
	if err := s.suno.CheckConfigured(); err != nil {
		return Result{}, s.fail(ctx, req, err)
	}

	started := time.Now()
	refined := s.refiner.Refine(ctx, req.Prompt, domain.ModalityAudio)
	art, err := s.runDetached(ctx, func(runCtx context.Context) (domain.Artifact, error) {
		return s.suno.Generate(runCtx, refined.Refined, req.Duration)
	})
	if err != nil {
		return Result{}, s.fail(ctx, req, err)
	}
	s.succeed(ctx, req, art, started)
	return Result{Artifact: art, Prompt: refined.Refined}, nil
}

// RemoveBackground decodes a base64 image or data URL, strips its background
// and stores the result as PNG.
func (s *Service) RemoveBackground(ctx context.Context, imageBase64 string) (domain.Artifact, error) {
	imageBase64 = strings.TrimSpace(imageBase64)
	if imageBase64 == "" {
		return domain.Artifact{}, domain.NewValidationError("image_base64", "image_base64 is required")
	}
	input, err := DecodeDataURLOrBase64(imageBase64)
	if err != nil {
		return domain.Artifact{}, domain.NewValidationError("image_base64", "image_base64 is not valid base64")
	}
	output, err := s.remover.Remove(ctx, input)
	if err != nil {
		s.log(ctx).Error().Err(err).Msg("generation: remove background failed")
		return domain.Artifact{}, err
	}
	path, err := s.store.Save(ctx, output, ".png")
	if err != nil {
		s.log(ctx).Error().Err(err).Msg("generation: store cut-out failed")
		return domain.Artifact{}, fmt.Errorf("generation: save cut-out: %w", err)
	}
	return domain.Artifact{LocalPath: path, PreviewURL: domain.FileURL(path)}, nil
}

// runDetached drives a remote task on a context that survives the caller
// going away, so a submitted task is always brought to a terminal status.
// The driver's poll budget bounds how long that can take.
func (s *Service) runDetached(ctx context.Context, run func(context.Context) (domain.Artifact, error)) (domain.Artifact, error) {
	art, err := run(context.WithoutCancel(ctx))
	if ctx.Err() != nil {
		s.log(ctx).Warn().
			Err(ctx.Err()).
			Str("local_path", art.LocalPath).
			Msg("generation: caller left before the task finished")
	}
	return art, err
}

func (s *Service) succeed(ctx context.Context, req domain.GenerationRequest, art domain.Artifact, started time.Time) {
	s.log(ctx).Info().
		Str("modality", string(req.Modality)).
		Str("provider", req.Provider).
		Str("local_path", art.LocalPath).
		Dur("elapsed", time.Since(started)).
		Msg("generation: artifact ready")
}

func (s *Service) fail(ctx context.Context, req domain.GenerationRequest, err error) error {
	event := s.log(ctx).Error()
	if domain.IsClientError(err) {
		event = s.log(ctx).Warn()
	}
	event.Err(err).
		Str("modality", string(req.Modality)).
		Str("provider", req.Provider).
		Msg("generation: request failed")
	return err
}

// log prefers the request-scoped logger carried by ctx.
func (s *Service) log(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return s.logger
}

func normalizeProvider(provider, fallback string) string {
	provider = cases.Fold().String(strings.TrimSpace(provider))
	if provider == "" {
		return fallback
	}
	return provider
}

// DecodeDataURLOrBase64 accepts "data:<mime>;base64,<payload>" or a bare
// base64 payload, padded or not.
func DecodeDataURLOrBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if strings.HasPrefix(value, "data:") {
		idx := strings.Index(value, ",")
		if idx < 0 {
			return nil, errors.New("data url has no payload")
		}
		value = value[idx+1:]
	}
	value = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\r' || r == ' ' || r == '\t' {
			return -1
		}
		return r
	}, value)
	data, err := base64.StdEncoding.DecodeString(value)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
	}
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload")
	}
	return data, nil
}
