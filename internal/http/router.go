// Package httpapi serves the device ingest endpoint and the dashboard queries.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// HealthCheck reports an unhealthy dependency
type HealthCheck func(ctx context.Context) error

// Router chi mux with the shared middleware stack
type Router struct {
	mux    chi.Router
	logger *zap.Logger
}

func NewRouter(logger *zap.Logger) *Router {
	mux := chi.NewRouter()
	mux.Use(RequestID)
	mux.Use(middleware.Recoverer)
	mux.Use(Instrument(logger))
	mux.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, Fail("NOT_FOUND", "route not found"))
	})
	return &Router{mux: mux, logger: logger}
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// RegisterIngestRoutes device ingest, limited to perMinute requests per client IP
func (r *Router) RegisterIngestRoutes(h *IngestHandler, perMinute int) {
	r.mux.Group(func(g chi.Router) {
		if perMinute > 0 {
			g.Use(httprate.Limit(perMinute, time.Minute,
				httprate.WithKeyFuncs(httprate.KeyByIP),
				httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
					writeJSON(w, http.StatusTooManyRequests, Fail(CodeRateLimited, "too many requests"))
				}),
			))
		}
		g.Post("/api/v1/iot/detections", h.Create)
	})
}

// RegisterBusinessRoutes summary, daily history, export and rollup trigger
func (r *Router) RegisterBusinessRoutes(h *BusinessHandler) {
	r.mux.Get("/api/v1/businesses/{businessID}/summary", h.Summary)
	r.mux.Get("/api/v1/businesses/{businessID}/daily", h.Daily)
	r.mux.Get("/api/v1/businesses/{businessID}/daily/export", h.Export)
	r.mux.Post("/api/v1/businesses/{businessID}/rollup", h.Rollup)
}

// RegisterDeviceRoutes per-device views, scoped to the owning business
func (r *Router) RegisterDeviceRoutes(h *DeviceHandler) {
	r.mux.Get("/api/v1/businesses/{businessID}/devices/{deviceID}/occupancy", h.Occupancy)
	r.mux.Get("/api/v1/businesses/{businessID}/devices/{deviceID}/history", h.History)
	r.mux.Get("/api/v1/businesses/{businessID}/devices/{deviceID}/status", h.Status)
}

// RegisterOpsRoutes /healthz and /metrics
func (r *Router) RegisterOpsRoutes(checks map[string]HealthCheck) {
	r.mux.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 2*time.Second)
		defer cancel()

		failed := map[string]string{}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				failed[name] = err.Error()
			}
		}
		if len(failed) > 0 {
			r.logger.Warn("Health check failed", zap.Any("failed", failed))
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "unavailable", "failed": failed})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	})
	r.mux.Method(http.MethodGet, "/metrics", promhttp.Handler())
}
