package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fiscus/internal/flow"
	hierarchysvc "fiscus/internal/hierarchy/service"
	hierarchystore "fiscus/internal/hierarchy/store"
	ledgersvc "fiscus/internal/ledger/service"
	ledgerstore "fiscus/internal/ledger/store"
	requestsvc "fiscus/internal/request/service"
	requeststore "fiscus/internal/request/store"
	"fiscus/internal/vendordir"
	"fiscus/pkg/domain"
	"fiscus/pkg/requestcontext"
)

// routers shares one service stack behind two identities so tests can drive
// the lifecycle as a requester and approve as an administrator.
type routers struct {
	requester http.Handler
	admin     http.Handler
}

func newRouters(t *testing.T) routers {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	requests, err := requestsvc.New(requeststore.NewInMemory(), requestsvc.WithLogger(logger))
	if err != nil {
		t.Fatalf("build request service: %v", err)
	}
	hierarchy, err := hierarchysvc.New(hierarchystore.NewInMemory(), logger)
	if err != nil {
		t.Fatalf("build hierarchy service: %v", err)
	}
	ledger, err := ledgersvc.New(ledgerstore.NewInMemory(), ledgersvc.DefaultConfig(), ledgersvc.WithLogger(logger))
	if err != nil {
		t.Fatalf("build ledger service: %v", err)
	}

	vendors := vendordir.NewStatic([]vendordir.Record{
		{Identity: "Acme Corp", WalletRef: "wallet-acme"},
	})
	coordinator, err := flow.New(requests, hierarchy, ledger,
		flow.WithVendorDirectory(vendors),
		flow.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("build coordinator: %v", err)
	}

	h := New(coordinator, requests, logger)
	return routers{
		requester: newRouter(h, domain.ActorID(uuid.New()), domain.RoleRequester),
		admin:     newRouter(h, domain.ActorID(uuid.New()), domain.RoleAdmin),
	}
}

func newRouter(h *Handler, actor domain.ActorID, role domain.Role) http.Handler {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			ctx := requestcontext.WithActor(req.Context(), actor, role)
			next.ServeHTTP(w, req.WithContext(ctx))
		})
	})
	h.Register(r)
	return r
}

func do(t *testing.T, router http.Handler, method, path string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

func createPayload() map[string]any {
	return map[string]any{
		"fiscal_period": "2026-Q3",
		"department":    "Engineering",
		"project":       "Platform Rebuild",
		"amount":        "5000",
		"currency":      "USD",
		"description":   "build servers",
	}
}

func TestCreateRequestEndpoint(t *testing.T) {
	rt := newRouters(t)

	rec := do(t, rt.requester, http.MethodPost, "/requests", createPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating request, got %d: %s", rec.Code, rec.Body.String())
	}

	resp := decodeResponse(t, rec)
	if resp["state"] != "pending" {
		t.Fatalf("expected state pending, got %v", resp["state"])
	}
	if resp["priority"] != "medium" {
		t.Fatalf("expected default priority medium, got %v", resp["priority"])
	}
	if resp["id"] == "" {
		t.Fatalf("expected id in response")
	}

	getRec := do(t, rt.requester, http.MethodGet, "/requests/"+resp["id"].(string), nil)
	if getRec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching request, got %d", getRec.Code)
	}
}

func TestCreateRequestValidation(t *testing.T) {
	rt := newRouters(t)

	payload := createPayload()
	payload["amount"] = "not-a-number"
	rec := do(t, rt.requester, http.MethodPost, "/requests", payload)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad amount, got %d", rec.Code)
	}

	rec = do(t, rt.requester, http.MethodPost, "/requests", map[string]any{"unknown_field": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown field, got %d", rec.Code)
	}
}

func TestLifecycleViaHandlers(t *testing.T) {
	rt := newRouters(t)

	rec := do(t, rt.requester, http.MethodPost, "/requests", createPayload())
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 creating request, got %d", rec.Code)
	}
	id := decodeResponse(t, rec)["id"].(string)

	rec = do(t, rt.requester, http.MethodPost, "/requests/"+id+"/approve", map[string]any{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 approving as requester, got %d", rec.Code)
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/approve", map[string]any{"note": "within budget"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 approving request, got %d: %s", rec.Code, rec.Body.String())
	}
	if state := decodeResponse(t, rec)["state"]; state != "approved" {
		t.Fatalf("expected state approved, got %v", state)
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/allocate", map[string]any{"vendor_identity": "Acme Corp"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 allocating request, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeResponse(t, rec)
	if resp["state"] != "allocated" {
		t.Fatalf("expected state allocated, got %v", resp["state"])
	}
	if resp["allocated"] != "5000" {
		t.Fatalf("expected allocated 5000, got %v", resp["allocated"])
	}
	if resp["vendor_id"] == nil || resp["vendor_id"] == "" {
		t.Fatalf("expected vendor_id after allocation")
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/spend", map[string]any{"amount": "2000", "note": "first invoice"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 recording spend, got %d: %s", rec.Code, rec.Body.String())
	}
	resp = decodeResponse(t, rec)
	if resp["remaining"] != "3000" {
		t.Fatalf("expected remaining 3000, got %v", resp["remaining"])
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/spend", map[string]any{"amount": "3000"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 recording final spend, got %d: %s", rec.Code, rec.Body.String())
	}
	if state := decodeResponse(t, rec)["state"]; state != "completed" {
		t.Fatalf("expected auto-completed state, got %v", state)
	}
}

func TestTransitionErrors(t *testing.T) {
	rt := newRouters(t)

	rec := do(t, rt.requester, http.MethodPost, "/requests", createPayload())
	id := decodeResponse(t, rec)["id"].(string)

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/allocate", map[string]any{"vendor_identity": "Acme Corp"})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 allocating a pending request, got %d", rec.Code)
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+uuid.NewString()+"/approve", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown request, got %d", rec.Code)
	}

	rec = do(t, rt.admin, http.MethodPost, "/requests/not-a-uuid/approve", map[string]any{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed id, got %d", rec.Code)
	}
}

func TestCancelReleasesApproval(t *testing.T) {
	rt := newRouters(t)

	rec := do(t, rt.requester, http.MethodPost, "/requests", createPayload())
	id := decodeResponse(t, rec)["id"].(string)

	rec = do(t, rt.admin, http.MethodPost, "/requests/"+id+"/approve", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 approving request, got %d", rec.Code)
	}

	rec = do(t, rt.requester, http.MethodPost, "/requests/"+id+"/cancel", map[string]any{"note": "no longer needed"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 cancelling own request, got %d: %s", rec.Code, rec.Body.String())
	}
	if state := decodeResponse(t, rec)["state"]; state != "cancelled" {
		t.Fatalf("expected state cancelled, got %v", state)
	}
}

func TestListRequests(t *testing.T) {
	rt := newRouters(t)

	first := createPayload()
	second := createPayload()
	second["department"] = "Marketing"
	for _, payload := range []map[string]any{first, second} {
		if rec := do(t, rt.requester, http.MethodPost, "/requests", payload); rec.Code != http.StatusCreated {
			t.Fatalf("expected 201 creating request, got %d", rec.Code)
		}
	}

	rec := do(t, rt.requester, http.MethodGet, "/requests?department=Marketing", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 listing requests, got %d", rec.Code)
	}
	var list struct {
		Requests []json.RawMessage `json:"requests"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(list.Requests) != 1 {
		t.Fatalf("expected 1 marketing request, got %d", len(list.Requests))
	}

	rec = do(t, rt.requester, http.MethodGet, "/requests?period=banana", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed period, got %d", rec.Code)
	}
}
