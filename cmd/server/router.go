package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"provenance/pkg/platform/httputil"
	"provenance/pkg/platform/middleware/metadata"
	"provenance/pkg/platform/middleware/request"
	"provenance/pkg/platform/middleware/requesttime"
)

const healthTimeout = 2 * time.Second

// routeRegistrar mounts a module's routes.
type routeRegistrar interface {
	Register(r chi.Router)
}

func newRouter(
	log *slog.Logger,
	observer request.Observer,
	gatherer prometheus.Gatherer,
	h routeRegistrar,
	checks map[string]func(context.Context) error,
) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(request.Recovery(log))
	r.Use(request.Logger(log))
	r.Use(request.Metrics(observer))

	r.Get("/healthz", healthHandler(checks))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	h.Register(r)
	return r
}

// healthHandler reports each dependency; any failure turns the response 503.
func healthHandler(checks map[string]func(context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()

		status := http.StatusOK
		components := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				components[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			components[name] = "ok"
		}
		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		httputil.WriteJSON(w, status, map[string]any{
			"status":     state,
			"components": components,
		})
	}
}
