package http

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smoosense/smoosense/internal/service"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	// Prefix mounts every route below a path, e.g. "/smoosense"
	Prefix string

	// CORSOrigins enables CORS for the listed origins
	CORSOrigins []string

	// RateLimit is requests per second per client IP on /api; 0 disables it
	RateLimit float64
	RateBurst int

	Version string

	// Middleware runs outside every other middleware
	Middleware []func(http.Handler) http.Handler
}

// NewRouter builds the HTTP API for svc. ctx bounds background work such
// as rate limiter sweeps.
func NewRouter(ctx context.Context, svc *service.Service, cfg RouterConfig) http.Handler {
	h := NewHandler(svc, cfg.Version)

	r := chi.NewRouter()
	r.Use(cfg.Middleware...)
	r.Use(
		RequestIDMiddleware,
		CorrelationIDMiddleware,
		LoggingMiddleware,
		RecoveryMiddleware,
	)
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "X-Correlation-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "X-Correlation-ID"},
			AllowCredentials: false,
			MaxAge:           300,
		}))
	}

	routes := func(r chi.Router) {
		r.Get("/health", h.Health)
		r.Method(http.MethodGet, "/metrics", promhttp.Handler())

		r.Route("/api", func(r chi.Router) {
			if cfg.RateLimit > 0 {
				r.Use(RateLimiter(ctx, RateLimitConfig{RequestsPerSecond: cfg.RateLimit, Burst: cfg.RateBurst}))
			}

			// Raw file bytes; ServeContent picks the content type.
			r.Get("/file", h.File)

			r.Group(func(r chi.Router) {
				r.Use(ContentTypeMiddleware)

				r.Post("/sessions", h.CreateSession)
				r.Get("/sessions/{token}", h.GetSession)
				r.Delete("/sessions/{token}", h.DeleteSession)
				r.Post("/sessions/{token}/cancel", h.CancelQuery)

				r.Post("/query", h.Query)
				r.Get("/schema", h.Schema)
				r.Get("/ls", h.Browse)
				r.Get("/datasets", h.Datasets)
				r.Get("/info", h.Info)
				r.Get("/preview", h.Preview)
				r.Get("/history", h.History)
				r.Get("/stats", h.Stats)
			})
		})
	}

	if prefix := NormalizePrefix(cfg.Prefix); prefix != "" {
		r.Route(prefix, routes)
	} else {
		routes(r)
	}
	return r
}

// NormalizePrefix returns prefix with one leading slash and no trailing
// slash, or "" for the root.
func NormalizePrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return "/" + prefix
}
