// Package store persists budget requests.
package store

import (
	"context"
	"sort"
	"sync"

	"fiscus/internal/request/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

// ListFilter narrows List results. Zero values mean no constraint.
type ListFilter struct {
	Requester    domain.ActorID
	FiscalPeriod domain.FiscalPeriod
	Department   string
	State        models.State
}

// InMemory keeps requests in a map guarded by a RWMutex. It hands out deep
// copies so callers can never mutate stored state out of band.
type InMemory struct {
	mu       sync.RWMutex
	requests map[domain.RequestID]*models.BudgetRequest
}

// NewInMemory creates an empty in-memory request store.
func NewInMemory() *InMemory {
	return &InMemory{requests: make(map[domain.RequestID]*models.BudgetRequest)}
}

// Create inserts a new request. Duplicate IDs fail with sentinel.ErrConflict.
func (s *InMemory) Create(_ context.Context, r *models.BudgetRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.requests[r.ID]; exists {
		return sentinel.ErrConflict
	}
	s.requests[r.ID] = r.Clone()
	return nil
}

// FindByID returns a copy of the request or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, id domain.RequestID) (*models.BudgetRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

// Execute applies mutate to the stored request under the write lock, so a
// state check and its mutation cannot interleave with another writer. The
// stored copy is replaced only if mutate succeeds.
func (s *InMemory) Execute(_ context.Context, id domain.RequestID, mutate func(*models.BudgetRequest) error) (*models.BudgetRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.requests[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}

	next := current.Clone()
	if err := mutate(next); err != nil {
		return nil, err
	}
	s.requests[id] = next
	return next.Clone(), nil
}

// List returns matching requests ordered by creation time, newest first.
func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.BudgetRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.BudgetRequest
	for _, r := range s.requests {
		if !filter.Requester.IsNil() && r.Requester != filter.Requester {
			continue
		}
		if filter.FiscalPeriod != "" && r.FiscalPeriod != filter.FiscalPeriod {
			continue
		}
		if filter.Department != "" && r.Department != filter.Department {
			continue
		}
		if filter.State != "" && r.State != filter.State {
			continue
		}
		out = append(out, r.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
