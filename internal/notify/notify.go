// Package notify publishes lifecycle events to interested consumers.
// Publishing is best-effort: a failed publish never fails the operation that
// produced the event.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fiscus/pkg/domain"
)

// EventType names what happened to a request.
type EventType string

const (
	EventRequestCreated   EventType = "request.created"
	EventRequestApproved  EventType = "request.approved"
	EventRequestRejected  EventType = "request.rejected"
	EventRequestCancelled EventType = "request.cancelled"
	EventRequestAllocated EventType = "request.allocated"
	EventSpendRecorded    EventType = "request.spend_recorded"
	EventRequestCompleted EventType = "request.completed"
)

// Event is one lifecycle notification.
type Event struct {
	Type         EventType           `json:"type"`
	RequestID    domain.RequestID    `json:"request_id"`
	FiscalPeriod domain.FiscalPeriod `json:"fiscal_period"`
	Department   string              `json:"department"`
	State        string              `json:"state"`
	Amount       decimal.Decimal     `json:"amount"`
	Actor        domain.ActorID      `json:"actor"`
	At           time.Time           `json:"at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Close()
}

// Memory collects events in process. Used in tests and as the default when no
// broker is configured.
type Memory struct {
	mu     sync.Mutex
	events []Event
}

// NewMemory creates an empty in-process publisher.
func NewMemory() *Memory {
	return &Memory{}
}

// Publish records the event.
func (m *Memory) Publish(_ context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

// Events returns a copy of everything published so far.
func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Close is a no-op.
func (m *Memory) Close() {}
