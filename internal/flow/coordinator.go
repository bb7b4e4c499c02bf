// Package flow coordinates multi-module updates: every lifecycle transition
// that touches the allocation hierarchy or the ledger flows through the
// Coordinator, which keeps the three stores consistent by ordering writes and
// compensating on partial failure.
//
// Ordering is fixed: hierarchy first, then ledger, then the request record.
// The request store commit is the linearization point; anything applied
// before a failed commit is backed out with a compensating mutation.
package flow

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fiscus/internal/anchor"
	flowmetrics "fiscus/internal/flow/metrics"
	hierarchymodels "fiscus/internal/hierarchy/models"
	hierarchysvc "fiscus/internal/hierarchy/service"
	ledgermodels "fiscus/internal/ledger/models"
	ledgersvc "fiscus/internal/ledger/service"
	"fiscus/internal/notify"
	requestmodels "fiscus/internal/request/models"
	requestsvc "fiscus/internal/request/service"
	"fiscus/internal/vendordir"
	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/requestcontext"
)

// DefaultRetryBudget bounds how often a contended hierarchy update is
// retried before the contention surfaces to the caller.
const DefaultRetryBudget = 3

// Coordinator orchestrates request transitions across the lifecycle,
// hierarchy, and ledger modules. It is the only component that writes to more
// than one of them.
type Coordinator struct {
	requests  *requestsvc.Service
	hierarchy *hierarchysvc.Service
	ledger    *ledgersvc.Service

	publisher   notify.Publisher
	vendors     vendordir.Directory
	anchors     anchor.Anchor
	logger      *slog.Logger
	metrics     *flowmetrics.Metrics
	tracer      trace.Tracer
	retryBudget int
}

// Option configures optional coordinator collaborators.
type Option func(*Coordinator)

// WithPublisher attaches a lifecycle event publisher.
func WithPublisher(p notify.Publisher) Option {
	return func(c *Coordinator) { c.publisher = p }
}

// WithVendorDirectory attaches the directory used to resolve vendor wallets.
func WithVendorDirectory(d vendordir.Directory) Option {
	return func(c *Coordinator) { c.vendors = d }
}

// WithAnchor attaches an external anchoring collaborator. Ledger entries are
// anchored best-effort after commit; an entry without a reference simply was
// never anchored.
func WithAnchor(a anchor.Anchor) Option {
	return func(c *Coordinator) { c.anchors = a }
}

// WithLogger attaches a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMetrics attaches prometheus metrics.
func WithMetrics(m *flowmetrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithRetryBudget overrides the contention retry budget.
func WithRetryBudget(budget int) Option {
	return func(c *Coordinator) {
		if budget > 0 {
			c.retryBudget = budget
		}
	}
}

// New constructs the coordinator.
func New(requests *requestsvc.Service, hierarchy *hierarchysvc.Service, ledger *ledgersvc.Service, opts ...Option) (*Coordinator, error) {
	if requests == nil || hierarchy == nil || ledger == nil {
		return nil, errors.New("request, hierarchy, and ledger services are required")
	}
	c := &Coordinator{
		requests:    requests,
		hierarchy:   hierarchy,
		ledger:      ledger,
		tracer:      otel.Tracer("fiscus/flow"),
		retryBudget: DefaultRetryBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Create submits a new request and announces it. Creation touches only the
// request store; the hierarchy does not change until approval.
func (c *Coordinator) Create(ctx context.Context, input requestmodels.NewInput) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.tracer.Start(ctx, "flow.Create")
	defer span.End()

	r, err := c.requests.Create(ctx, input)
	if err != nil {
		return nil, c.fail(span, err)
	}
	c.publish(ctx, notify.EventRequestCreated, r)
	return r, nil
}

// Approve reserves the request's amount in the hierarchy and then commits the
// approval. The reservation is released if the commit fails.
func (c *Coordinator) Approve(ctx context.Context, id domain.RequestID, note string) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.Approve", id)
	defer span.End()

	r, err := c.precheck(ctx, id, requestmodels.StateApproved)
	if err != nil {
		return nil, c.fail(span, err)
	}

	err = c.withRetry(ctx, "reserve allocation", func() error {
		_, err := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
			if _, err := h.EnsureDepartment(r.Department, r.Amount); err != nil {
				return err
			}
			_, err := h.EnsureProject(r.Department, r.Project, r.Amount)
			return err
		})
		return err
	})
	if err != nil {
		return nil, c.fail(span, err)
	}

	approved, err := c.requests.Approve(ctx, id, note)
	if err != nil {
		c.compensate(ctx, "release reservation after failed approval", func() error {
			_, compErr := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
				return h.ReleaseAllocation(r.Department, r.Project, r.Amount)
			})
			return compErr
		})
		return nil, c.fail(span, err)
	}

	c.publish(ctx, notify.EventRequestApproved, approved)
	return approved, nil
}

// Reject commits the rejection. Nothing was ever reserved for a pending
// request, so no other module is involved.
func (c *Coordinator) Reject(ctx context.Context, id domain.RequestID, note string) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.Reject", id)
	defer span.End()

	r, err := c.requests.Reject(ctx, id, note)
	if err != nil {
		return nil, c.fail(span, err)
	}
	c.publish(ctx, notify.EventRequestRejected, r)
	return r, nil
}

// Cancel voids a pending or approved request. An approved request's
// reservation is released first and the release is recorded in the ledger; a
// failed cancel re-reserves.
func (c *Coordinator) Cancel(ctx context.Context, id domain.RequestID, note string) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.Cancel", id)
	defer span.End()

	r, err := c.precheck(ctx, id, requestmodels.StateCancelled)
	if err != nil {
		return nil, c.fail(span, err)
	}
	wasApproved := r.State == requestmodels.StateApproved

	if wasApproved {
		err = c.withRetry(ctx, "release reservation", func() error {
			_, err := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
				return h.ReleaseAllocation(r.Department, r.Project, r.Amount)
			})
			return err
		})
		if err != nil {
			return nil, c.fail(span, err)
		}

		if _, err := c.ledger.Append(ctx, ledgersvc.AppendInput{
			RequestID:  r.ID,
			Department: r.Department,
			Project:    r.Project,
			Amount:     r.Amount,
			Kind:       ledgermodels.KindRelease,
			Actor:      requestcontext.Actor(ctx),
			Note:       note,
		}); err != nil {
			c.compensate(ctx, "re-reserve after failed release record", func() error {
				_, compErr := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
					if _, err := h.EnsureDepartment(r.Department, r.Amount); err != nil {
						return err
					}
					_, err := h.EnsureProject(r.Department, r.Project, r.Amount)
					return err
				})
				return compErr
			})
			return nil, c.fail(span, err)
		}
	}

	cancelled, err := c.requests.Cancel(ctx, id, note)
	if err != nil {
		if wasApproved {
			c.compensate(ctx, "re-reserve after failed cancel", func() error {
				_, compErr := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
					if _, err := h.EnsureDepartment(r.Department, r.Amount); err != nil {
						return err
					}
					_, err := h.EnsureProject(r.Department, r.Project, r.Amount)
					return err
				})
				return compErr
			})
		}
		return nil, c.fail(span, err)
	}

	c.publish(ctx, notify.EventRequestCancelled, cancelled)
	return cancelled, nil
}

// Allocate binds the approved request to a vendor: a vendor node appears in
// the hierarchy, the allocation lands in the ledger, and the request moves to
// allocated. A zero amount allocates the full requested amount; anything less
// leaves the remainder reserved at the project level. Partial failure backs
// the vendor allocation out again.
func (c *Coordinator) Allocate(ctx context.Context, id domain.RequestID, vendorIdentity string, amount decimal.Decimal) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.Allocate", id)
	defer span.End()

	if vendorIdentity == "" {
		return nil, c.fail(span, dErrors.New(dErrors.CodeInvalidInput, "vendor identity is required"))
	}

	r, err := c.precheck(ctx, id, requestmodels.StateAllocated)
	if err != nil {
		return nil, c.fail(span, err)
	}

	if amount.IsZero() {
		amount = r.Amount
	}
	if amount.IsNegative() {
		return nil, c.fail(span, dErrors.New(dErrors.CodeInvalidInput, "allocation amount must be positive"))
	}
	if amount.GreaterThan(r.Amount) {
		return nil, c.fail(span, dErrors.Newf(dErrors.CodeInvalidInput,
			"allocation %s exceeds the requested amount %s", amount, r.Amount))
	}
	if !amount.Equal(amount.Truncate(4)) {
		return nil, c.fail(span, dErrors.New(dErrors.CodeInvalidInput, "amount precision is limited to 4 decimal places"))
	}

	walletRef := ""
	if c.vendors != nil {
		if record, ok := c.vendors.Lookup(ctx, vendorIdentity); ok {
			walletRef = record.WalletRef
		}
	}

	var vendor *hierarchymodels.VendorNode
	err = c.withRetry(ctx, "bind vendor", func() error {
		var err error
		vendor, err = c.hierarchy.EnsureVendor(ctx, r.FiscalPeriod, r.Department, r.Project, vendorIdentity, amount, walletRef)
		return err
	})
	if err != nil {
		return nil, c.fail(span, err)
	}

	reverseVendor := func() error {
		_, compErr := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
			return h.ReverseVendorAllocation(vendor.ID, amount)
		})
		return compErr
	}

	entry, err := c.ledger.Append(ctx, ledgersvc.AppendInput{
		RequestID:  r.ID,
		Department: r.Department,
		Project:    r.Project,
		VendorID:   vendor.ID,
		Amount:     amount,
		Kind:       ledgermodels.KindAllocation,
		Actor:      requestcontext.Actor(ctx),
		Note:       "allocated to " + vendorIdentity,
	})
	if err != nil {
		c.compensate(ctx, "reverse vendor allocation after failed ledger append", reverseVendor)
		return nil, c.fail(span, err)
	}

	allocated, err := c.requests.Allocate(ctx, id, vendor.ID, vendorIdentity, amount)
	if err != nil {
		c.compensate(ctx, "reverse vendor allocation after failed allocate commit", reverseVendor)
		c.compensate(ctx, "record reversal of orphaned allocation entry", func() error {
			_, compErr := c.ledger.Append(ctx, ledgersvc.AppendInput{
				RequestID:  r.ID,
				Department: r.Department,
				Project:    r.Project,
				VendorID:   vendor.ID,
				Amount:     amount,
				Kind:       ledgermodels.KindRelease,
				Actor:      requestcontext.Actor(ctx),
				Note:       "allocation reverted",
			})
			return compErr
		})
		return nil, c.fail(span, err)
	}

	c.anchorEntry(ctx, entry)
	c.publish(ctx, notify.EventRequestAllocated, allocated)
	return allocated, nil
}

// RecordSpend applies a withdrawal to the hierarchy, records it in the
// ledger, and accumulates it on the request, auto-completing the request when
// its allocation is fully spent.
func (c *Coordinator) RecordSpend(ctx context.Context, id domain.RequestID, amount decimal.Decimal, note string) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.RecordSpend", id)
	defer span.End()

	if amount.LessThanOrEqual(decimal.Zero) {
		return nil, c.fail(span, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive"))
	}
	if !amount.Equal(amount.Truncate(4)) {
		return nil, c.fail(span, dErrors.New(dErrors.CodeInvalidInput, "amount precision is limited to 4 decimal places"))
	}

	r, err := c.requests.Get(ctx, id)
	if err != nil {
		return nil, c.fail(span, err)
	}
	if r.State != requestmodels.StateAllocated {
		return nil, c.fail(span, dErrors.Newf(dErrors.CodeInvalidState, "spend requires an allocated request, not %s", r.State))
	}
	if amount.GreaterThan(r.Remaining()) {
		return nil, c.fail(span, dErrors.Newf(dErrors.CodeInvalidInput,
			"spend %s exceeds remaining allocation %s", amount, r.Remaining()))
	}

	err = c.withRetry(ctx, "record spend", func() error {
		return c.hierarchy.RecordSpend(ctx, r.FiscalPeriod, r.VendorID, amount)
	})
	if err != nil {
		return nil, c.fail(span, err)
	}

	reverseSpend := func() error {
		_, compErr := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
			return h.ReverseSpend(r.VendorID, amount)
		})
		return compErr
	}

	entry, err := c.ledger.Append(ctx, ledgersvc.AppendInput{
		RequestID:  r.ID,
		Department: r.Department,
		Project:    r.Project,
		VendorID:   r.VendorID,
		Amount:     amount,
		Kind:       ledgermodels.KindWithdrawal,
		Actor:      requestcontext.Actor(ctx),
		Note:       note,
	})
	if err != nil {
		c.compensate(ctx, "reverse spend after failed ledger append", reverseSpend)
		return nil, c.fail(span, err)
	}

	updated, completed, err := c.requests.RecordSpend(ctx, id, amount)
	if err != nil {
		c.compensate(ctx, "reverse spend after failed spend commit", reverseSpend)
		c.compensate(ctx, "record reversal of orphaned withdrawal entry", func() error {
			_, compErr := c.ledger.Append(ctx, ledgersvc.AppendInput{
				RequestID:  r.ID,
				Department: r.Department,
				Project:    r.Project,
				VendorID:   r.VendorID,
				Amount:     amount,
				Kind:       ledgermodels.KindRelease,
				Actor:      requestcontext.Actor(ctx),
				Note:       "withdrawal reverted",
			})
			return compErr
		})
		return nil, c.fail(span, err)
	}

	if completed {
		c.markVendorCompleted(ctx, updated)
	}

	c.anchorEntry(ctx, entry)
	c.publish(ctx, notify.EventSpendRecorded, updated)
	if completed {
		c.publish(ctx, notify.EventRequestCompleted, updated)
	}
	return updated, nil
}

// Complete closes out a fully spent request and marks its vendor node
// completed.
func (c *Coordinator) Complete(ctx context.Context, id domain.RequestID, note string) (*requestmodels.BudgetRequest, error) {
	ctx, span := c.start(ctx, "flow.Complete", id)
	defer span.End()

	completed, err := c.requests.Complete(ctx, id, note)
	if err != nil {
		return nil, c.fail(span, err)
	}

	c.markVendorCompleted(ctx, completed)
	c.publish(ctx, notify.EventRequestCompleted, completed)
	return completed, nil
}

// precheck validates the edge before any cross-module work so an obviously
// illegal transition never leaves partial effects. The request service
// re-validates under its own exclusion when committing.
func (c *Coordinator) precheck(ctx context.Context, id domain.RequestID, to requestmodels.State) (*requestmodels.BudgetRequest, error) {
	r, err := c.requests.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := r.CanTransition(to); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInvalidState, "state transition rejected")
	}
	return r, nil
}

// withRetry re-runs fn while it fails with contention, up to the budget.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= c.retryBudget; attempt++ {
		err = fn()
		if err == nil || !dErrors.HasCode(err, dErrors.CodeContention) {
			return err
		}
		if c.metrics != nil {
			c.metrics.Retries.WithLabelValues(op).Inc()
		}
		if c.logger != nil {
			c.logger.DebugContext(ctx, "retrying contended update",
				"op", op,
				"attempt", attempt,
				"budget", c.retryBudget,
			)
		}
	}
	if c.metrics != nil {
		c.metrics.Exhausted.WithLabelValues(op).Inc()
	}
	return err
}

// compensate runs a rollback mutation. A failed compensation is logged at
// error level; there is nothing further to fall back to.
func (c *Coordinator) compensate(ctx context.Context, what string, fn func() error) {
	err := fn()
	if c.metrics != nil {
		outcome := "applied"
		if err != nil {
			outcome = "failed"
		}
		c.metrics.Compensations.WithLabelValues(outcome).Inc()
	}
	if err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "compensation failed",
			"compensation", what,
			"error", err,
		)
	}
}

func (c *Coordinator) markVendorCompleted(ctx context.Context, r *requestmodels.BudgetRequest) {
	if r.VendorID.IsNil() {
		return
	}
	err := c.withRetry(ctx, "mark vendor completed", func() error {
		_, err := c.hierarchy.Update(ctx, r.FiscalPeriod, func(h *hierarchymodels.Hierarchy) error {
			return h.MarkVendorCompleted(r.VendorID)
		})
		return err
	})
	if err != nil && c.logger != nil {
		c.logger.ErrorContext(ctx, "vendor completion mark failed",
			"request_id", r.ID,
			"vendor_id", r.VendorID,
			"error", err,
		)
	}
}

// anchorEntry submits the entry fingerprint to the anchoring collaborator and
// attaches the returned reference. Best-effort: entries without references
// were simply never anchored.
func (c *Coordinator) anchorEntry(ctx context.Context, entry *ledgermodels.Entry) {
	if c.anchors == nil {
		return
	}
	ref, err := c.anchors.Submit(ctx, entry.Fingerprint)
	if err == nil {
		err = c.ledger.AttachAnchor(ctx, entry.ID, ref)
	}
	if err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "ledger entry anchoring failed",
			"entry_id", entry.ID,
			"fingerprint", entry.Fingerprint,
			"error", err,
		)
	}
}

func (c *Coordinator) publish(ctx context.Context, eventType notify.EventType, r *requestmodels.BudgetRequest) {
	if c.publisher == nil {
		return
	}
	err := c.publisher.Publish(ctx, notify.Event{
		Type:         eventType,
		RequestID:    r.ID,
		FiscalPeriod: r.FiscalPeriod,
		Department:   r.Department,
		State:        string(r.State),
		Amount:       r.Amount,
		Actor:        requestcontext.Actor(ctx),
		At:           requestcontext.Now(ctx),
	})
	if err != nil && c.logger != nil {
		c.logger.WarnContext(ctx, "event publish failed",
			"type", eventType,
			"request_id", r.ID,
			"error", err,
		)
	}
}

func (c *Coordinator) start(ctx context.Context, name string, id domain.RequestID) (context.Context, trace.Span) {
	return c.tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("request.id", id.String()),
	))
}

func (c *Coordinator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, dErrors.MessageOf(err))
	return err
}
