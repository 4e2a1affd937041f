// Package http provides the HTTP surface of a hoplite application: the chi
// router that wraps the dispatcher, health and debug endpoints, and the
// server that runs it.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/rsesek/hoplite/adapters/metrics"
	"github.com/rsesek/hoplite/app"
	"github.com/rsesek/hoplite/domain/route"
)

// DefaultTimeout bounds the time a request may spend in the dispatcher.
const DefaultTimeout = 60 * time.Second

// VersionResponse is the body of the /version endpoint.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// HealthChecker reports whether a dependency can serve traffic.
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// HealthHandler provides health check endpoints.
type HealthHandler struct {
	db HealthChecker
}

// NewHealthHandler creates a health handler. db may be nil.
func NewHealthHandler(db HealthChecker) *HealthHandler {
	return &HealthHandler{db: db}
}

// Liveness returns a simple liveness check.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks that the database answers.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.db != nil {
		if err := h.db.PingContext(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// QueryDebugger renders the statements recorded for the debug page.
type QueryDebugger interface {
	DebugHTML() string
}

// TemplateStats reports which templates have been rendered.
type TemplateStats interface {
	Usage() []app.TemplateUsage
}

// RouterConfig holds optional configuration for the router.
type RouterConfig struct {
	Metrics   *metrics.Collector
	Gatherer  prometheus.Gatherer // Source for /metrics; the default registry when nil
	Health    *HealthHandler
	Version   string
	Timeout   time.Duration
	Debug     bool          // Mounts /debug/*
	Queries   QueryDebugger // Served at /debug/queries when Debug is set
	Templates TemplateStats // Served at /debug/templates when Debug is set
}

// NewRouter creates the main HTTP router. Every path not claimed by an
// operational endpoint goes to the dispatcher.
func NewRouter(dispatcher *app.Dispatcher, logger zerolog.Logger, cfg RouterConfig) chi.Router {
	if cfg.Health == nil {
		cfg.Health = NewHealthHandler(nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.Timeout))

	if cfg.Metrics != nil {
		r.Use(NewMetricsMiddleware(cfg.Metrics))
	}

	r.Get("/health", cfg.Health.Liveness)
	r.Get("/health/live", cfg.Health.Liveness)
	r.Get("/health/ready", cfg.Health.Readiness)

	if cfg.Metrics != nil {
		if cfg.Gatherer != nil {
			r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
		} else {
			r.Handle("/metrics", promhttp.Handler())
		}
	}

	r.Get("/version", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, VersionResponse{Version: cfg.Version, Service: "hoplite"})
	})

	if cfg.Debug {
		r.Route("/debug", func(r chi.Router) {
			r.Get("/routes", func(w http.ResponseWriter, _ *http.Request) {
				rules := dispatcher.Routes().Rules()
				if rules == nil {
					rules = []route.Rule{}
				}
				writeJSON(w, http.StatusOK, rules)
			})
			if cfg.Templates != nil {
				r.Get("/templates", func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusOK, cfg.Templates.Usage())
				})
			}
			if cfg.Queries != nil {
				r.Get("/queries", func(w http.ResponseWriter, _ *http.Request) {
					w.Header().Set("Content-Type", "text/html; charset=utf-8")
					w.Write([]byte(cfg.Queries.DebugHTML()))
				})
			}
		})
		logger.Info().Msg("debug endpoints enabled")
	}

	r.NotFound(dispatcher.ServeHTTP)
	r.MethodNotAllowed(dispatcher.ServeHTTP)

	return r
}

// NewMetricsMiddleware creates middleware that records request metrics.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if internalPath(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			status := statusLabel(ww.Status())
			path := metrics.NormalizePath(r.URL.Path)

			m.RequestsTotal.WithLabelValues(r.Method, path, status).Inc()
			m.RequestDuration.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
		})
	}
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "other"
	}
}

// NewLoggingMiddleware creates a new logging middleware.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if internalPath(r.URL.Path) {
				return
			}

			ev := logger.Debug()
			if ww.Status() >= 500 {
				ev = logger.Warn()
			}
			ev.Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func internalPath(p string) bool {
	return strings.HasPrefix(p, "/health") || p == "/metrics" || strings.HasPrefix(p, "/debug/")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
