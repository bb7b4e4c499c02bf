// Package service implements the budget request lifecycle: guarded state
// transitions, role checks, and the audit history that rides along with every
// change.
package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	requestmetrics "fiscus/internal/request/metrics"
	"fiscus/internal/request/models"
	"fiscus/internal/request/store"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
	"fiscus/pkg/requestcontext"
)

// Store is the persistence contract the lifecycle needs. Execute must apply
// its mutation atomically with respect to other writers of the same request.
type Store interface {
	Create(ctx context.Context, r *models.BudgetRequest) error
	FindByID(ctx context.Context, id domain.RequestID) (*models.BudgetRequest, error)
	Execute(ctx context.Context, id domain.RequestID, mutate func(*models.BudgetRequest) error) (*models.BudgetRequest, error)
	List(ctx context.Context, filter store.ListFilter) ([]*models.BudgetRequest, error)
}

// Service owns request lifecycle rules. It moves requests along legal edges
// only; allocation-side effects belong to the flow coordinator.
type Service struct {
	store   Store
	logger  *slog.Logger
	metrics *requestmetrics.Metrics
}

// Option configures optional service dependencies.
type Option func(*Service)

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *requestmetrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// New constructs the request service.
func New(st Store, opts ...Option) (*Service, error) {
	if st == nil {
		return nil, errors.New("request store is required")
	}
	s := &Service{store: st}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Create submits a new pending request on behalf of the context actor. The
// requester always comes from the request context, never from the payload.
func (s *Service) Create(ctx context.Context, input models.NewInput) (*models.BudgetRequest, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	input.Requester = actor

	r, err := models.NewRequest(input, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, r); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "request already exists")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "create request")
	}

	if s.metrics != nil {
		s.metrics.Created.Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "budget request created",
			"request_id", r.ID,
			"department", r.Department,
			"project", r.Project,
			"amount", r.Amount,
			"priority", r.Priority,
		)
	}
	return r, nil
}

// Get returns one request by ID.
func (s *Service) Get(ctx context.Context, id domain.RequestID) (*models.BudgetRequest, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "request not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "lookup request")
	}
	return r, nil
}

// List returns requests matching the filter, newest first.
func (s *Service) List(ctx context.Context, filter store.ListFilter) ([]*models.BudgetRequest, error) {
	out, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list requests")
	}
	return out, nil
}

// Approve moves a pending request to approved. Admin only.
func (s *Service) Approve(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, models.StateApproved, note, nil)
}

// Reject moves a pending request to rejected. Admin only. The request record
// is kept; rejection is a terminal state, not a deletion.
func (s *Service) Reject(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, models.StateRejected, note, nil)
}

// Cancel voids a pending or approved request. Admins can cancel anything;
// requesters only their own.
func (s *Service) Cancel(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	role := requestcontext.Role(ctx)

	return s.transition(ctx, id, models.StateCancelled, note, func(r *models.BudgetRequest) error {
		if role != domain.RoleAdmin && r.Requester != actor {
			return dErrors.New(dErrors.CodeForbidden, "only the requester or an admin may cancel")
		}
		return nil
	})
}

// Allocate moves an approved request to allocated and binds the vendor
// identity that will receive the funds. Admin only. The allocation may be a
// portion of the requested amount; auto-completion tracks the allocation, not
// the request.
func (s *Service) Allocate(ctx context.Context, id domain.RequestID, vendorID domain.VendorID, vendorIdentity string, amount decimal.Decimal) (*models.BudgetRequest, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	if vendorIdentity == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "vendor identity is required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "allocation amount must be positive")
	}

	return s.transition(ctx, id, models.StateAllocated, "allocated to vendor "+vendorIdentity, func(r *models.BudgetRequest) error {
		if amount.GreaterThan(r.Amount) {
			return dErrors.Newf(dErrors.CodeInvalidInput,
				"allocation %s exceeds the requested amount %s", amount, r.Amount)
		}
		r.VendorID = vendorID
		r.VendorIdentity = vendorIdentity
		r.Allocated = amount
		return nil
	})
}

// RecordSpend adds a withdrawal against an allocated request. When cumulative
// spend reaches the allocation, the request auto-completes in the same
// mutation. Returns the updated request and whether it completed.
func (s *Service) RecordSpend(ctx context.Context, id domain.RequestID, amount decimal.Decimal) (*models.BudgetRequest, bool, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return nil, false, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, false, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}

	completed := false
	r, err := s.store.Execute(ctx, id, func(r *models.BudgetRequest) error {
		if r.State != models.StateAllocated {
			return dErrors.Newf(dErrors.CodeInvalidState, "spend requires an allocated request, not %s", r.State)
		}
		if amount.GreaterThan(r.Remaining()) {
			return dErrors.Newf(dErrors.CodeInvalidInput,
				"spend %s exceeds remaining allocation %s", amount, r.Remaining())
		}

		r.Spent = r.Spent.Add(amount)
		if r.Spent.GreaterThanOrEqual(r.Allocated) {
			if err := r.ApplyTransition(models.StateCompleted, requestcontext.Now(ctx), actor, "allocation fully spent"); err != nil {
				return s.illegal(err)
			}
			completed = true
		}
		return nil
	})
	if err != nil {
		return nil, false, translateExecute(err)
	}

	if s.metrics != nil && completed {
		s.metrics.AutoCompletions.Inc()
		s.metrics.Transitions.WithLabelValues(string(models.StateCompleted)).Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "spend recorded against request",
			"request_id", r.ID,
			"amount", amount,
			"spent", r.Spent,
			"remaining", r.Remaining(),
			"completed", completed,
		)
	}
	return r, completed, nil
}

// Complete closes out an allocated request. Admin only; requires the
// allocation to be fully spent. Partially spent requests are cancelled or
// left open, never force-completed.
func (s *Service) Complete(ctx context.Context, id domain.RequestID, note string) (*models.BudgetRequest, error) {
	if err := requireRole(ctx, domain.RoleAdmin); err != nil {
		return nil, err
	}
	return s.transition(ctx, id, models.StateCompleted, note, func(r *models.BudgetRequest) error {
		if r.Spent.LessThan(r.Allocated) {
			return dErrors.Newf(dErrors.CodeInvalidState,
				"cannot complete: %s of allocation remains unspent", r.Remaining())
		}
		return nil
	})
}

// transition applies one guarded edge atomically: guard runs first, then the
// state machine validates and mutates under the store's exclusion.
func (s *Service) transition(ctx context.Context, id domain.RequestID, to models.State, note string, guard func(*models.BudgetRequest) error) (*models.BudgetRequest, error) {
	actor := requestcontext.Actor(ctx)
	if actor.IsNil() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}

	r, err := s.store.Execute(ctx, id, func(r *models.BudgetRequest) error {
		if err := r.CanTransition(to); err != nil {
			return s.illegal(err)
		}
		if guard != nil {
			if err := guard(r); err != nil {
				return err
			}
		}
		if err := r.ApplyTransition(to, requestcontext.Now(ctx), actor, note); err != nil {
			return s.illegal(err)
		}
		return nil
	})
	if err != nil {
		return nil, translateExecute(err)
	}

	if s.metrics != nil {
		s.metrics.Transitions.WithLabelValues(string(to)).Inc()
	}
	if s.logger != nil {
		s.logger.InfoContext(ctx, "request state changed",
			"request_id", r.ID,
			"state", r.State,
			"actor", actor,
		)
	}
	return r, nil
}

// illegal wraps a state machine rejection with the invalid-state code and
// counts it. The typed error stays in the chain so callers can inspect the
// attempted edge.
func (s *Service) illegal(err error) error {
	var transitionErr *models.StateTransitionError
	if errors.As(err, &transitionErr) && s.metrics != nil {
		s.metrics.IllegalTransitions.WithLabelValues(string(transitionErr.To)).Inc()
	}
	return dErrors.Wrap(err, dErrors.CodeInvalidState, "state transition rejected")
}

func translateExecute(err error) error {
	if errors.Is(err, sentinel.ErrNotFound) {
		return dErrors.New(dErrors.CodeNotFound, "request not found")
	}
	var de *dErrors.Error
	if errors.As(err, &de) {
		return err
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, "update request")
}

func requireRole(ctx context.Context, role domain.Role) error {
	if requestcontext.Actor(ctx).IsNil() {
		return dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	if requestcontext.Role(ctx) != role {
		return dErrors.Newf(dErrors.CodeForbidden, "%s role required", role)
	}
	return nil
}
