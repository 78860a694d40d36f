// Package server assembles the HTTP router shared by cmd/server and the
// end-to-end tests.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/metadata"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/request"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/requesttime"
)

const readinessTimeout = 2 * time.Second

// Module mounts its routes on the shared router.
type Module interface {
	Register(r chi.Router)
}

// Check is one readiness dependency.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Config lists what the router serves. Metrics and RateLimit are optional;
// RateLimit wraps module routes only. A nil ClientIP ignores forwarding
// headers.
type Config struct {
	Logger    *slog.Logger
	Modules   []Module
	Checks    []Check
	Metrics   http.Handler
	RateLimit func(http.Handler) http.Handler
	ClientIP  *metadata.Resolver
}

type statusResponse struct {
	Status string `json:"status"`
}

// NewRouter builds the chi router with the common middleware stack.
func NewRouter(cfg Config) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	clientIP := cfg.ClientIP
	if clientIP == nil {
		clientIP = metadata.NewResolver(nil)
	}

	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(requesttime.Middleware)
	r.Use(clientIP.ClientMetadata)
	r.Use(chimw.Recoverer)
	r.Use(request.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Status: httputil.StatusSuccess})
	})
	r.Get("/readyz", readiness(cfg.Checks, logger))
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(api chi.Router) {
		if cfg.RateLimit != nil {
			api.Use(cfg.RateLimit)
		}
		for _, m := range cfg.Modules {
			if m != nil {
				m.Register(api)
			}
		}
	})
	return r
}

func readiness(checks []Check, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				logger.WarnContext(ctx, "readiness check failed", "check", c.Name, "error", err)
				httputil.WriteJSON(w, http.StatusServiceUnavailable, httputil.ErrorResponse{
					Status:  httputil.StatusError,
					Message: c.Name + " unavailable",
				})
				return
			}
		}
		httputil.WriteJSON(w, http.StatusOK, statusResponse{Status: httputil.StatusSuccess})
	}
}
