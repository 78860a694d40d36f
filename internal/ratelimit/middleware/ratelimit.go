package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/metrics"
	"github.com/grupoexnihilo/nexus-ecclesia/internal/ratelimit/models"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/httputil"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/platform/middleware/metadata"
	"github.com/grupoexnihilo/nexus-ecclesia/pkg/requestcontext"
)

// MessageTooManyRequests is returned with 429.
const MessageTooManyRequests = "Too many requests. Please try again later."

type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.RateLimitResult, error)
}

type Middleware struct {
	store    BucketStore
	limit    int
	window   time.Duration
	logger   *slog.Logger
	metrics  *metrics.Metrics
	clientIP *metadata.Resolver
	disabled bool
}

type Option func(*Middleware)

// WithDisabled turns the middleware into a pass-through.
func WithDisabled(disabled bool) Option {
	return func(m *Middleware) {
		m.disabled = disabled
	}
}

func WithMetrics(metrics *metrics.Metrics) Option {
	return func(m *Middleware) {
		m.metrics = metrics
	}
}

// WithClientIP resolves the client when no upstream middleware recorded it.
func WithClientIP(resolver *metadata.Resolver) Option {
	return func(m *Middleware) {
		if resolver != nil {
			m.clientIP = resolver
		}
	}
}

// New limits each client IP to limit requests per window.
func New(store BucketStore, limit int, window time.Duration, logger *slog.Logger, opts ...Option) *Middleware {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Middleware{
		store:    store,
		limit:    limit,
		window:   window,
		logger:   logger,
		clientIP: metadata.NewResolver(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.disabled {
		logger.Info("rate limiting disabled")
	}
	return m
}

// RateLimit rejects requests over the per-IP budget with 429. A store
// failure lets the request through.
func (m *Middleware) RateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.disabled {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		ip := requestcontext.Client(ctx).IP
		if ip == "" {
			ip = m.clientIP.ClientIP(r)
		}

		result, err := m.store.Allow(ctx, models.IPKey(ip), m.limit, m.window)
		if err != nil {
			m.logger.ErrorContext(ctx, "failed to check IP rate limit", "error", err)
			m.record(metrics.DecisionError)
			next.ServeHTTP(w, r)
			return
		}

		// Add headers regardless of outcome
		addRateLimitHeaders(w, result)

		if !result.Allowed {
			m.logger.WarnContext(ctx, "rate limit exceeded",
				"path", r.URL.Path,
				"retry_after", result.RetryAfter,
			)
			m.record(metrics.DecisionRejected)
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			httputil.WriteJSON(w, http.StatusTooManyRequests, httputil.ErrorResponse{
				Status:  httputil.StatusError,
				Message: MessageTooManyRequests,
			})
			return
		}

		m.record(metrics.DecisionAllowed)
		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) record(decision string) {
	if m.metrics != nil {
		m.metrics.IncrementDecision(decision)
	}
}

func addRateLimitHeaders(w http.ResponseWriter, result *models.RateLimitResult) {
	if result == nil {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
}
