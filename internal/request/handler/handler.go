// Package handler exposes the budget request lifecycle over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fiscus/internal/request/models"
	"fiscus/internal/request/store"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/httputil"
)

// Coordinator drives transitions that may touch the hierarchy and ledger.
type Coordinator interface {
	Create(ctx context.Context, input models.NewInput) (*models.BudgetRequest, error)
	Approve(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error)
	Reject(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error)
	Cancel(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error)
	Allocate(ctx context.Context, id domain.RequestID, vendorIdentity string, amount decimal.Decimal) (*models.BudgetRequest, error)
	RecordSpend(ctx context.Context, id domain.RequestID, amount decimal.Decimal, note string) (*models.BudgetRequest, error)
	Complete(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error)
}

// Reader serves lookups that never leave the request module.
type Reader interface {
	Get(ctx context.Context, id domain.RequestID) (*models.BudgetRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.BudgetRequest, error)
}

// Handler handles request lifecycle endpoints.
type Handler struct {
	coordinator Coordinator
	reader      Reader
	logger      *slog.Logger
}

// New creates a request Handler.
func New(coordinator Coordinator, reader Reader, logger *slog.Logger) *Handler {
	return &Handler{coordinator: coordinator, reader: reader, logger: logger}
}

// Register registers the request routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/requests", func(r chi.Router) {
		r.Post("/", h.handleCreate)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/approve", h.transition(h.coordinator.Approve))
		r.Post("/{id}/reject", h.transition(h.coordinator.Reject))
		r.Post("/{id}/cancel", h.transition(h.coordinator.Cancel))
		r.Post("/{id}/complete", h.transition(h.coordinator.Complete))
		r.Post("/{id}/allocate", h.handleAllocate)
		r.Post("/{id}/spend", h.handleSpend)
	})
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	req, ok := httputil.Decode[createRequest](w, r, h.logger)
	if !ok {
		return
	}

	input, err := req.toInput()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	created, err := h.coordinator.Create(r.Context(), input)
	if err != nil {
		h.writeError(w, r, "create request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(created))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	found, err := h.reader.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(found))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Department: r.URL.Query().Get("department"),
		State:      models.State(r.URL.Query().Get("state")),
	}
	if raw := r.URL.Query().Get("period"); raw != "" {
		period, err := domain.ParseFiscalPeriod(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.FiscalPeriod = period
	}
	if raw := r.URL.Query().Get("requester"); raw != "" {
		requester, err := domain.ParseActorID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.Requester = requester
	}

	out, err := h.reader.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "list requests", err)
		return
	}

	responses := make([]requestResponse, 0, len(out))
	for _, found := range out {
		responses = append(responses, toResponse(found))
	}
	httputil.WriteJSON(w, http.StatusOK, listResponse{Requests: responses})
}

// transition builds a handler for the note-only transition endpoints.
func (h *Handler) transition(op func(context.Context, domain.RequestID, string) (*models.BudgetRequest, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
		if err != nil {
			httputil.WriteError(w, err)
			return
		}

		req, ok := httputil.Decode[transitionRequest](w, r, h.logger)
		if !ok {
			return
		}

		updated, err := op(r.Context(), id, req.Note)
		if err != nil {
			h.writeError(w, r, "transition request", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toResponse(updated))
	}
}

func (h *Handler) handleAllocate(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[allocateRequest](w, r, h.logger)
	if !ok {
		return
	}

	amount := decimal.Zero
	if req.Amount != "" {
		var err error
		amount, err = decimal.NewFromString(req.Amount)
		if err != nil {
			httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string"))
			return
		}
	}

	updated, err := h.coordinator.Allocate(r.Context(), id, req.VendorIdentity, amount)
	if err != nil {
		h.writeError(w, r, "allocate request", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) handleSpend(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseRequestID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[spendRequest](w, r, h.logger)
	if !ok {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string"))
		return
	}

	updated, err := h.coordinator.RecordSpend(r.Context(), id, amount, req.Note)
	if err != nil {
		h.writeError(w, r, "record spend", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(updated))
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal && h.logger != nil {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.WriteError(w, err)
}
