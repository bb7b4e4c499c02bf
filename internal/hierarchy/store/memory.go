// Package store persists allocation hierarchy aggregates keyed by fiscal
// period, with optimistic version checks as the write serialization point.
package store

import (
	"context"
	"sync"

	"fiscus/internal/hierarchy/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

// InMemory keeps aggregates in a mutex-guarded map. Load and Save exchange
// deep copies, so readers always observe a consistent point-in-time
// aggregate and writers race only on the version check.
type InMemory struct {
	mu         sync.RWMutex
	aggregates map[domain.FiscalPeriod]*models.Hierarchy
}

// NewInMemory creates an empty aggregate store.
func NewInMemory() *InMemory {
	return &InMemory{aggregates: make(map[domain.FiscalPeriod]*models.Hierarchy)}
}

// Load returns a deep copy of the period's aggregate, or sentinel.ErrNotFound.
func (s *InMemory) Load(_ context.Context, period domain.FiscalPeriod) (*models.Hierarchy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.aggregates[period]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return h.Clone(), nil
}

// Save stores the aggregate if its persisted version still matches
// expectedVersion, then bumps the version. A new aggregate saves with
// expectedVersion 0. On mismatch it returns sentinel.ErrVersionMismatch and
// leaves the stored aggregate untouched.
func (s *InMemory) Save(_ context.Context, h *models.Hierarchy, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.aggregates[h.Period]
	if !ok {
		if expectedVersion != 0 {
			return sentinel.ErrVersionMismatch
		}
	} else if existing.Version != expectedVersion {
		return sentinel.ErrVersionMismatch
	}

	h.Version = expectedVersion + 1
	s.aggregates[h.Period] = h.Clone()
	return nil
}
