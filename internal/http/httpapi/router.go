package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/http/handlers"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/infra"
	"github.com/junpengpanchina-ai/Sora-2Ai-sub003/internal/middleware"
)

// Deps are the pieces the router mounts.
type Deps struct {
	App     *handlers.App
	Keys    middleware.KeyStore
	Stripe  http.Handler
	Metrics http.Handler
	Logger  infra.Logger

	JWTSecret       string
	AllowedOrigins  []string
	RateLimitPerMin int
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.Logger(d.Logger),
		chimw.Recoverer,
		middleware.CORS(d.AllowedOrigins),
	)

	// Health
	r.Get("/v1/healthz", d.App.Health)
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if d.Stripe != nil {
			r.Method(http.MethodPost, "/stripe/webhook", d.Stripe)
		}

		r.Route("/video/batch", func(r chi.Router) {
			r.Use(
				middleware.RateLimit(d.RateLimitPerMin, time.Minute),
				middleware.Authenticate(d.JWTSecret, d.Keys, d.Logger),
				middleware.RequireOrigin(d.AllowedOrigins),
			)
			r.Post("/", d.App.SubmitBatch)
			r.Get("/", d.App.GetBatch)
		})
	})

	return r
}
