// Package httptransport assembles the HTTP surface: middleware chain, health
// and metrics endpoints, and the per-module route registrations.
package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fiscus/pkg/platform/httputil"
	"fiscus/pkg/platform/middleware/auth"
	"fiscus/pkg/platform/middleware/logging"
	"fiscus/pkg/platform/middleware/requestid"
	"fiscus/pkg/platform/middleware/requesttime"
)

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// NewRouter wires the middleware chain and mounts all module routes behind
// authentication. Health and metrics stay outside the auth boundary.
func NewRouter(logger *slog.Logger, validator *auth.Validator, registrars ...Registrar) http.Handler {
	r := chi.NewRouter()
	r.Use(logging.Recovery(logger))
	r.Use(requestid.Middleware)
	r.Use(requesttime.Middleware)
	r.Use(logging.Logger(logger))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(auth.RequireAuth(validator, logger))
		for _, registrar := range registrars {
			registrar.Register(r)
		}
	})

	return r
}
