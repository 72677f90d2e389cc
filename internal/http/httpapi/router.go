package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"shotforge/internal/http/handlers"
	"shotforge/internal/infra"
	"shotforge/internal/middleware"
)

// NewRouter mounts the batch and job API.
func NewRouter(app *handlers.App, cfg *infra.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(*app.Logger),
	)
	if cfg != nil {
		r.Use(middleware.CORS(cfg.CORSAllowedOrigins))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Get("/healthz", app.Health)

		r.Group(func(r chi.Router) {
			if cfg != nil {
				r.Use(middleware.RateLimit(cfg.RateLimitPerMin, time.Minute))
			}
			r.Get("/models", app.Models)

			r.Route("/batches", func(r chi.Router) {
				r.Post("/", app.CreateBatch)
				r.Get("/{id}", app.GetBatch)
				r.Delete("/{id}", app.CancelBatch)
				r.Get("/{id}/events", app.BatchEvents)
			})

			r.Route("/jobs", func(r chi.Router) {
				r.Get("/{id}", app.GetJob)
				r.Post("/{id}/retry", app.RetryJob)
			})
		})
	})

	return r
}
