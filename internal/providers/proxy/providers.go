package proxy

import (
	"context"
	"time"

	"gateway/internal/domain"
)

// ImageProxyConfig is the Midjourney-style image proxy.
func ImageProxyConfig(interval time.Duration) Config {
	return Config{
		Name:           "mj",
		Kind:           domain.ModalityImage,
		BaseURLSetting: "MJ_PROXY_BASE_URL",
		SubmitPath:     "/imagine",
		StatusPath:     "/tasks/{id}",
		TaskIDFields:   []string{"task_id", "id"},
		ResultFields:   []string{"image_url", "url"},
		Interval:       interval,
		MaxPolls:       60,
		FallbackSuffix: ".png",
		PreviewRemote:  true,
	}
}

// AudioProxyConfig is the Suno-style audio proxy.
func AudioProxyConfig(interval time.Duration) Config {
	return Config{
		Name:           "suno",
		Kind:           domain.ModalityAudio,
		BaseURLSetting: "SUNO_PROXY_BASE_URL",
		SubmitPath:     "/generate",
		StatusPath:     "/tasks/{id}",
		TaskIDFields:   []string{"task_id", "id"},
		ResultFields:   []string{"audio_url", "url"},
		Interval:       interval,
		MaxPolls:       90,
		FallbackSuffix: ".mp3",
	}
}

// ImageDriver submits text prompts to the image proxy.
type ImageDriver struct {
	*Driver
}

func NewImageDriver(cfg Config, opts Options) (*ImageDriver, error) {
	d, err := NewDriver(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &ImageDriver{Driver: d}, nil
}

// Generate runs one image task end to end.
func (d *ImageDriver) Generate(ctx context.Context, prompt string) (domain.Artifact, error) {
	return d.Run(ctx, map[string]any{"prompt": prompt})
}

// AudioDriver submits prompts with a target duration to the audio proxy.
type AudioDriver struct {
	*Driver
}

func NewAudioDriver(cfg Config, opts Options) (*AudioDriver, error) {
	d, err := NewDriver(cfg, opts)
	if err != nil {
		return nil, err
	}
	return &AudioDriver{Driver: d}, nil
}

// Generate runs one audio task end to end. duration is in seconds.
func (d *AudioDriver) Generate(ctx context.Context, prompt string, duration int) (domain.Artifact, error) {
	return d.Run(ctx, map[string]any{"prompt": prompt, "duration": duration})
}
