package handlers

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"gateway/internal/domain"
	"gateway/internal/providers/sd"
)

type changeURLRequest struct {
	SDURL *string `json:"sd_url"`
}

// ChangeURL swaps the local image backend address at runtime.
func (a *App) ChangeURL(w http.ResponseWriter, r *http.Request) {
	var req changeURLRequest
	if err := a.decodeBody(r, "change_url", &req); err != nil {
		a.error(w, r, err)
		return
	}
	if req.SDURL == nil || strings.TrimSpace(*req.SDURL) == "" {
		a.error(w, r, domain.NewValidationError("sd_url", "'sd_url' not found in the request payload"))
		return
	}
	previous := a.Backend.Get()
	if err := a.Backend.Set(*req.SDURL); err != nil {
		a.error(w, r, domain.NewValidationError("sd_url", err.Error()))
		return
	}
	a.log(r).Info().Str("from", previous).Str("to", a.Backend.Get()).Msg("sd url changed")
	a.json(w, http.StatusOK, map[string]any{"ok": true, "message": "sd_url changed successfully", "sd_url": a.Backend.Get()})
}

// SwapModel forwards the request body to the backend's options endpoint.
func (a *App) SwapModel(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		a.error(w, r, domain.NewValidationError("body", "could not read request body"))
		return
	}
	if trimmed := strings.TrimSpace(string(body)); trimmed != "" && !json.Valid(body) {
		a.error(w, r, domain.NewValidationError("body", "request body must be valid JSON"))
		return
	}
	a.relay(w, r, func(ctx context.Context) (json.RawMessage, error) {
		return a.SD.SwapModel(ctx, body)
	})
}

func (a *App) SDModels(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, a.SD.Models)
}

func (a *App) ControlNetModels(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, a.SD.ControlNetModels)
}

func (a *App) ControlNetModules(w http.ResponseWriter, r *http.Request) {
	a.relay(w, r, a.SD.ControlNetModules)
}

// Text2Image forwards a full txt2img payload and answers {imagePath, seed}.
func (a *App) Text2Image(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, "text2image", a.SD.Txt2Img)
}

// Image2Image forwards an img2img payload whose init image and mask are
// given as local paths.
func (a *App) Image2Image(w http.ResponseWriter, r *http.Request) {
	a.render(w, r, "image2image", a.SD.Img2Img)
}

func (a *App) render(w http.ResponseWriter, r *http.Request, schemaName string, call func(context.Context, json.RawMessage) (sd.Render, error)) {
	body, err := a.readBody(r, schemaName)
	if err != nil {
		a.error(w, r, err)
		return
	}
	res, err := call(r.Context(), body)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) relay(w http.ResponseWriter, r *http.Request, call func(context.Context) (json.RawMessage, error)) {
	body, err := call(r.Context())
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.raw(w, http.StatusOK, body)
}
