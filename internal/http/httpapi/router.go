package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"gateway/internal/http/handlers"
	"gateway/internal/middleware"
)

// RouterOptions carries the cross-cutting settings of the HTTP surface.
type RouterOptions struct {
	Logger      zerolog.Logger
	CORSOrigins []string
}

func NewRouter(app *handlers.App, opts RouterOptions) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		middleware.Logger(opts.Logger),
		app.Recoverer,
		middleware.CORS(opts.CORSOrigins),
	)

	r.NotFound(app.NotFound)
	r.MethodNotAllowed(app.MethodNotAllowed)

	r.Get("/", app.Index)
	r.Get("/favicon.ico", app.Favicon)
	r.Get("/health", app.Health)

	r.Post("/ai/refine_prompt", app.RefinePrompt)
	r.Route("/generate", func(r chi.Router) {
		r.Post("/image", app.GenerateImage)
		r.Post("/audio", app.GenerateAudio)
	})
	r.Post("/api/remove-bg", app.RemoveBackground)

	// Local image backend administration.
	r.Group(func(r chi.Router) {
		r.Use(chimw.Timeout(5 * time.Minute))
		r.Post("/change_url", app.ChangeURL)
		r.Post("/text2image", app.Text2Image)
		r.Post("/image2image", app.Image2Image)
		r.Post("/swapModel", app.SwapModel)
		r.Post("/get_sd_models", app.SDModels)
		r.Get("/get_sd_models", app.SDModels)
		r.Post("/controlnet/model_list", app.ControlNetModels)
		r.Post("/controlnet/module_list", app.ControlNetModules)
	})

	return r
}
