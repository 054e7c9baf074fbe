package handlers

import (
	"net/http"
)

var publicRoutes = []string{
	"/ai/refine_prompt",
	"/generate/image",
	"/generate/audio",
	"/api/remove-bg",
}

func (a *App) Index(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{
		"ok":      true,
		"service": "After-AI local gateway",
		"health":  "/health",
		"routes":  publicRoutes,
	})
}

func (a *App) Favicon(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) Health(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, map[string]any{"ok": true, "sd_url": a.Backend.Get()})
}
