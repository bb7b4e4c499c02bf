// Package handler exposes the transaction ledger over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"fiscus/internal/ledger/models"
	"fiscus/internal/ledger/service"
	"fiscus/internal/ledger/store"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/httputil"
	"fiscus/pkg/requestcontext"
)

// Service is the ledger operations contract.
type Service interface {
	Append(ctx context.Context, input service.AppendInput) (*models.Entry, error)
	Verify(ctx context.Context, id domain.EntryID, providedHash string) (*models.Entry, error)
	Get(ctx context.Context, id domain.EntryID) (*models.Entry, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.Entry, error)
}

// Handler handles ledger endpoints. Direct appends cover manual adjustments
// (freezes, reallocations); lifecycle-driven events arrive through the flow
// coordinator instead.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New creates a ledger Handler.
func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Register registers the ledger routes.
func (h *Handler) Register(r chi.Router) {
	r.Route("/ledger/entries", func(r chi.Router) {
		r.Post("/", h.handleAppend)
		r.Get("/", h.handleList)
		r.Get("/{id}", h.handleGet)
		r.Post("/{id}/verify", h.handleVerify)
	})
}

type appendRequest struct {
	RequestID  string `json:"request_id"`
	Department string `json:"department"`
	Project    string `json:"project,omitempty"`
	VendorID   string `json:"vendor_id,omitempty"`
	Amount     string `json:"amount"`
	Kind       string `json:"kind"`
	Note       string `json:"note,omitempty"`
}

type verifyRequest struct {
	Hash string `json:"hash"`
}

type entryResponse struct {
	ID                 string     `json:"id"`
	Fingerprint        string     `json:"fingerprint"`
	RequestID          string     `json:"request_id"`
	Department         string     `json:"department"`
	Project            string     `json:"project,omitempty"`
	VendorID           string     `json:"vendor_id,omitempty"`
	Amount             string     `json:"amount"`
	Kind               string     `json:"kind"`
	Actor              string     `json:"actor"`
	Note               string     `json:"note,omitempty"`
	Timestamp          time.Time  `json:"timestamp"`
	AnomalyScore       int        `json:"anomaly_score"`
	IsAnomalous        bool       `json:"is_anomalous"`
	VerificationStatus string     `json:"verification_status"`
	AnchorRef          *anchorRef `json:"anchor_ref,omitempty"`
}

type anchorRef struct {
	ID         string    `json:"id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

type listEntriesResponse struct {
	Entries []entryResponse `json:"entries"`
}

func toResponse(entry *models.Entry) entryResponse {
	resp := entryResponse{
		ID:                 entry.ID.String(),
		Fingerprint:        entry.Fingerprint,
		RequestID:          entry.RequestID.String(),
		Department:         entry.Department,
		Project:            entry.Project,
		Amount:             entry.Amount.String(),
		Kind:               string(entry.Kind),
		Actor:              entry.Actor.String(),
		Note:               entry.Note,
		Timestamp:          entry.Timestamp,
		AnomalyScore:       entry.AnomalyScore,
		IsAnomalous:        entry.IsAnomalous,
		VerificationStatus: string(entry.VerificationStatus),
	}
	if !entry.VendorID.IsNil() {
		resp.VendorID = entry.VendorID.String()
	}
	if entry.AnchorRef != nil {
		resp.AnchorRef = &anchorRef{ID: entry.AnchorRef.ID, AnchoredAt: entry.AnchorRef.AnchoredAt}
	}
	return resp
}

func (h *Handler) handleAppend(w http.ResponseWriter, r *http.Request) {
	if err := requireAdmin(r.Context()); err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[appendRequest](w, r, h.logger)
	if !ok {
		return
	}

	input, err := h.toAppendInput(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.Append(r.Context(), input)
	if err != nil {
		h.writeError(w, r, "append ledger entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toResponse(entry))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := domain.ParseEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, "get ledger entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(entry))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	filter := store.ListFilter{
		Department: r.URL.Query().Get("department"),
		Kind:       models.EventKind(r.URL.Query().Get("kind")),
		Anomalous:  r.URL.Query().Get("anomalous") == "true",
	}
	if raw := r.URL.Query().Get("request_id"); raw != "" {
		requestID, err := domain.ParseRequestID(raw)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		filter.RequestID = requestID
	}

	entries, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, "list ledger entries", err)
		return
	}

	responses := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		responses = append(responses, toResponse(entry))
	}
	httputil.WriteJSON(w, http.StatusOK, listEntriesResponse{Entries: responses})
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	role := requestcontext.Role(r.Context())
	if role != domain.RoleAdmin && role != domain.RoleAuditor {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin or auditor role required"))
		return
	}

	id, err := domain.ParseEntryID(chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	req, ok := httputil.Decode[verifyRequest](w, r, h.logger)
	if !ok {
		return
	}

	entry, err := h.service.Verify(r.Context(), id, req.Hash)
	if err != nil {
		h.writeError(w, r, "verify ledger entry", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toResponse(entry))
}

func (h *Handler) toAppendInput(ctx context.Context, req appendRequest) (service.AppendInput, error) {
	requestID, err := domain.ParseRequestID(req.RequestID)
	if err != nil {
		return service.AppendInput{}, err
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return service.AppendInput{}, dErrors.New(dErrors.CodeInvalidInput, "amount must be a decimal string")
	}

	input := service.AppendInput{
		RequestID:  requestID,
		Department: req.Department,
		Project:    req.Project,
		Amount:     amount,
		Kind:       models.EventKind(req.Kind),
		Actor:      requestcontext.Actor(ctx),
		Note:       req.Note,
	}
	if req.VendorID != "" {
		input.VendorID, err = domain.ParseVendorID(req.VendorID)
		if err != nil {
			return service.AppendInput{}, err
		}
	}
	return input, nil
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if dErrors.CodeOf(err) == dErrors.CodeInternal && h.logger != nil {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.WriteError(w, err)
}

func requireAdmin(ctx context.Context) error {
	if requestcontext.Actor(ctx).IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if requestcontext.Role(ctx) != domain.RoleAdmin {
		return dErrors.New(dErrors.CodeForbidden, "admin role required")
	}
	return nil
}
