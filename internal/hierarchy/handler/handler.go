// Package handler exposes allocation hierarchy reporting over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"fiscus/internal/hierarchy/models"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/httputil"
)

// Service serves hierarchy snapshots.
type Service interface {
	Snapshot(ctx context.Context, period domain.FiscalPeriod) (models.Snapshot, error)
}

// Handler handles hierarchy endpoints. Reads only: all mutations flow
// through the request lifecycle.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a hierarchy Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the hierarchy routes.
func (h *Handler) Register(r chi.Router) {
	r.Get("/hierarchy/{period}", h.handleSnapshot)
}

func (h *Handler) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	period, err := domain.ParseFiscalPeriod(chi.URLParam(r, "period"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	snap, err := h.service.Snapshot(r.Context(), period)
	if err != nil {
		if dErrors.CodeOf(err) == dErrors.CodeInternal && h.logger != nil {
			h.logger.ErrorContext(r.Context(), "hierarchy snapshot failed", "period", period, "error", err)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, snap)
}
