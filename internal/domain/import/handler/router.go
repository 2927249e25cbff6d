package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/cors"
)

// HealthCheck reports whether a dependency is usable
type HealthCheck func(ctx context.Context) error

// RouterConfig configures the HTTP surface
type RouterConfig struct {
	AllowedOrigins []string
	RateLimit      float64 // requests per second per client, 0 disables limiting
	RateBurst      int
	RequestTimeout time.Duration
	Metrics        http.Handler // served at /metrics when set
	Health         HealthCheck  // consulted by /healthz when set
}

// NewRouter builds the chi router serving the import API under /api
func NewRouter(h *ImportHandler, config RouterConfig, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders:   []string{"Content-Disposition", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if config.Health != nil {
			ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
			defer cancel()
			if err := config.Health(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()}, logger)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"}, logger)
	})
	if config.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", config.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		if config.RateLimit > 0 {
			burst := config.RateBurst
			if burst <= 0 {
				burst = int(config.RateLimit) + 1
			}
			r.Use(NewRateLimiter(config.RateLimit, burst, 10*time.Minute).Middleware)
		}
		if config.RequestTimeout > 0 {
			r.Use(middleware.Timeout(config.RequestTimeout))
		}
		h.Routes(r)
	})

	return r
}
