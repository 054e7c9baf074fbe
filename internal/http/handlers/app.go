package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"gateway/internal/domain"
	"gateway/internal/generation"
	"gateway/internal/infra"
	"gateway/internal/providers/sd"
)

// Generator is the orchestration surface the generation endpoints call.
type Generator interface {
	RefinePrompt(ctx context.Context, text, target string) (domain.RefinedPrompt, error)
	GenerateImage(ctx context.Context, req domain.GenerationRequest) (generation.Result, error)
	GenerateAudio(ctx context.Context, req domain.GenerationRequest) (generation.Result, error)
	RemoveBackground(ctx context.Context, imageBase64 string) (domain.Artifact, error)
}

// SDBackend exposes the local image backend's admin calls.
type SDBackend interface {
	Models(ctx context.Context) (json.RawMessage, error)
	SwapModel(ctx context.Context, options json.RawMessage) (json.RawMessage, error)
	ControlNetModels(ctx context.Context) (json.RawMessage, error)
	ControlNetModules(ctx context.Context) (json.RawMessage, error)
	Txt2Img(ctx context.Context, payload json.RawMessage) (sd.Render, error)
	Img2Img(ctx context.Context, payload json.RawMessage) (sd.Render, error)
}

type App struct {
	Generator Generator
	SD        SDBackend
	Backend   *infra.BackendURL
	Logger    *infra.Logger

	schemas map[string]*gojsonschema.Schema
}

func NewApp(gen Generator, backendSD SDBackend, backend *infra.BackendURL, logger *infra.Logger) (*App, error) {
	if gen == nil || backendSD == nil || backend == nil {
		return nil, errors.New("handlers: generator, sd backend and backend url are required")
	}
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	schemas, err := loadSchemas()
	if err != nil {
		return nil, err
	}
	return &App{Generator: gen, SD: backendSD, Backend: backend, Logger: logger, schemas: schemas}, nil
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) raw(w http.ResponseWriter, code int, body json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

// error renders err as the single {"error": message} body the panel expects.
func (a *App) error(w http.ResponseWriter, r *http.Request, err error) {
	status := domain.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		a.log(r).Error().Err(err).Int("status", status).Str("path", r.URL.Path).Msg("request failed")
	}
	a.json(w, status, map[string]string{"error": err.Error()})
}

func (a *App) log(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return a.Logger
}
