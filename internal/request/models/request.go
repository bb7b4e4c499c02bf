// Package models defines the budget request and its lifecycle state machine.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fiscus/pkg/domain"
	dErrors "fiscus/pkg/domain-errors"
)

// State is a lifecycle state. Transitions only occur along the edges in the
// transition graph; everything else is rejected without mutation.
type State string

const (
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateRejected  State = "rejected"
	StateAllocated State = "allocated"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// transitions is the complete edge set:
// pending → approved | rejected | cancelled
// approved → allocated | cancelled
// allocated → completed
var transitions = map[State][]State{
	StatePending:   {StateApproved, StateRejected, StateCancelled},
	StateApproved:  {StateAllocated, StateCancelled},
	StateAllocated: {StateCompleted},
}

// CanTransitionTo reports whether the edge from s to target exists.
func (s State) CanTransitionTo(target State) bool {
	for _, allowed := range transitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// Terminal reports whether the state has no outgoing edges.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// StateTransitionError names the illegal edge that was attempted. Transitions
// that fail with it never mutate the request.
type StateTransitionError struct {
	From State
	To   State
}

func (e *StateTransitionError) Error() string {
	return fmt.Sprintf("illegal state transition %s -> %s", e.From, e.To)
}

// Priority orders requests for reviewers; it has no effect on the state
// machine itself.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Valid reports whether the priority is known.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return true
	}
	return false
}

// HistoryEntry is one audit record: who moved the request into which state,
// when, with an optional free-text note. The note is metadata only; behavior
// keys off the state enum.
type HistoryEntry struct {
	State State          `json:"state"`
	At    time.Time      `json:"at"`
	Actor domain.ActorID `json:"actor"`
	Note  string         `json:"note,omitempty"`
}

// BudgetRequest tracks one request through its lifecycle. Requests are never
// physically deleted; rejection and cancellation are terminal states.
type BudgetRequest struct {
	ID           domain.RequestID
	Requester    domain.ActorID
	FiscalPeriod domain.FiscalPeriod
	Department   string
	Project      string
	Category     string
	Amount       decimal.Decimal
	Currency     string
	Description  string
	Priority     Priority
	RequiredBy   time.Time

	State    State
	Approver domain.ActorID

	// Vendor linkage, set on allocation.
	VendorID       domain.VendorID
	VendorIdentity string

	Allocated decimal.Decimal
	Spent     decimal.Decimal

	History []HistoryEntry

	CreatedAt   time.Time
	ApprovedAt  *time.Time
	AllocatedAt *time.Time
	CompletedAt *time.Time
}

// NewInput carries the caller-supplied fields for a new request.
type NewInput struct {
	Requester    domain.ActorID
	FiscalPeriod domain.FiscalPeriod
	Department   string
	Project      string
	Category     string
	Amount       decimal.Decimal
	Currency     string
	Description  string
	Priority     Priority
	RequiredBy   time.Time
}

// NewRequest validates input and creates a pending request with its first
// history entry.
func NewRequest(input NewInput, now time.Time) (*BudgetRequest, error) {
	if input.Requester.IsNil() {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "requester is required")
	}
	if input.FiscalPeriod == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "fiscal period is required")
	}
	if strings.TrimSpace(input.Department) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "department is required")
	}
	if strings.TrimSpace(input.Project) == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "project is required")
	}
	if input.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount must be positive")
	}
	if !input.Amount.Equal(input.Amount.Truncate(4)) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "amount precision is limited to 4 decimal places")
	}
	if input.Currency == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "currency is required")
	}
	if input.Priority == "" {
		input.Priority = PriorityMedium
	}
	if !input.Priority.Valid() {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown priority %q", input.Priority)
	}
	if !input.RequiredBy.IsZero() && input.RequiredBy.Before(now) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "required-by date must be in the future")
	}

	r := &BudgetRequest{
		ID:           domain.RequestID(uuid.New()),
		Requester:    input.Requester,
		FiscalPeriod: input.FiscalPeriod,
		Department:   input.Department,
		Project:      input.Project,
		Category:     input.Category,
		Amount:       input.Amount,
		Currency:     input.Currency,
		Description:  input.Description,
		Priority:     input.Priority,
		RequiredBy:   input.RequiredBy,
		State:        StatePending,
		Allocated:    decimal.Zero,
		Spent:        decimal.Zero,
		CreatedAt:    now,
	}
	r.History = append(r.History, HistoryEntry{State: StatePending, At: now, Actor: input.Requester, Note: "request created"})
	return r, nil
}

// Remaining derives the unspent allocation. Always computed, never stored,
// so it cannot drift from its inputs.
func (r *BudgetRequest) Remaining() decimal.Decimal {
	return r.Allocated.Sub(r.Spent)
}

// CanTransition checks the edge without mutating. Returns a
// StateTransitionError naming the illegal edge otherwise.
func (r *BudgetRequest) CanTransition(to State) error {
	if !r.State.CanTransitionTo(to) {
		return &StateTransitionError{From: r.State, To: to}
	}
	return nil
}

// ApplyTransition moves the request along a legal edge: updates state,
// appends the audit history entry, and stamps the state-specific timestamp.
// On an illegal edge it returns a StateTransitionError and leaves the
// request untouched.
func (r *BudgetRequest) ApplyTransition(to State, at time.Time, actor domain.ActorID, note string) error {
	if err := r.CanTransition(to); err != nil {
		return err
	}

	r.State = to
	r.History = append(r.History, HistoryEntry{State: to, At: at, Actor: actor, Note: note})

	switch to {
	case StateApproved:
		r.Approver = actor
		stamped := at
		r.ApprovedAt = &stamped
	case StateAllocated:
		stamped := at
		r.AllocatedAt = &stamped
	case StateCompleted:
		stamped := at
		r.CompletedAt = &stamped
	}
	return nil
}

// Clone returns a deep copy so stores never hand out internal references.
func (r *BudgetRequest) Clone() *BudgetRequest {
	out := *r
	out.History = make([]HistoryEntry, len(r.History))
	copy(out.History, r.History)
	if r.ApprovedAt != nil {
		t := *r.ApprovedAt
		out.ApprovedAt = &t
	}
	if r.AllocatedAt != nil {
		t := *r.AllocatedAt
		out.AllocatedAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
