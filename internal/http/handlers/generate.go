package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"gateway/internal/domain"
)

type refinePromptRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type refinePromptResponse struct {
	Prompt string          `json:"prompt"`
	Target domain.Modality `json:"target"`
	Source string          `json:"source"`
}

type generateRequest struct {
	Prompt   string  `json:"prompt"`
	Provider string  `json:"provider"`
	Duration seconds `json:"duration"`
}

// seconds accepts a JSON integer or a numeric string such as "30". Null and
// blank strings leave it at zero.
type seconds int

func (s *seconds) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var text string
		if err := json.Unmarshal(data, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			*s = 0
			return nil
		}
		data = []byte(text)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return err
	}
	*s = seconds(n)
	return nil
}

type removeBackgroundRequest struct {
	ImageBase64 string `json:"image_base64"`
}

func (a *App) RefinePrompt(w http.ResponseWriter, r *http.Request) {
	var req refinePromptRequest
	if err := a.decodeBody(r, "refine_prompt", &req); err != nil {
		a.error(w, r, err)
		return
	}
	res, err := a.Generator.RefinePrompt(r.Context(), req.Text, req.Target)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, refinePromptResponse{Prompt: res.Refined, Target: res.Target, Source: string(res.Source)})
}

func (a *App) GenerateImage(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := a.decodeBody(r, "generate_image", &req); err != nil {
		a.error(w, r, err)
		return
	}
	res, err := a.Generator.GenerateImage(r.Context(), domain.GenerationRequest{
		Modality: domain.ModalityImage,
		Provider: req.Provider,
		Prompt:   req.Prompt,
	})
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) GenerateAudio(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := a.decodeBody(r, "generate_audio", &req); err != nil {
		a.error(w, r, err)
		return
	}
	res, err := a.Generator.GenerateAudio(r.Context(), domain.GenerationRequest{
		Modality: domain.ModalityAudio,
		Provider: req.Provider,
		Prompt:   req.Prompt,
		Duration: int(req.Duration),
	})
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

func (a *App) RemoveBackground(w http.ResponseWriter, r *http.Request) {
	var req removeBackgroundRequest
	if err := a.decodeBody(r, "remove_bg", &req); err != nil {
		a.error(w, r, err)
		return
	}
	art, err := a.Generator.RemoveBackground(r.Context(), req.ImageBase64)
	if err != nil {
		a.error(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]string{"local_path": art.LocalPath, "preview_url": art.PreviewURL})
}
