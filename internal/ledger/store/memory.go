// Package store provides ledger entry persistence: an in-memory
// implementation for development and tests, and a PostgreSQL implementation
// for deployments.
package store

import (
	"context"
	"sort"
	"sync"

	"fiscus/internal/anchor"
	"fiscus/internal/ledger/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

// ListFilter narrows List results. Zero values mean "no filter".
type ListFilter struct {
	RequestID  domain.RequestID
	Department string
	Kind       models.EventKind
	Anomalous  bool
}

// InMemory is a mutex-guarded ledger store. The fingerprint uniqueness check
// is the sole serialization point, matching the concurrency model: appends
// for distinct fingerprints are independent.
type InMemory struct {
	mu            sync.RWMutex
	byFingerprint map[string]*models.Entry
	byID          map[domain.EntryID]*models.Entry
}

// NewInMemory creates an empty ledger store.
func NewInMemory() *InMemory {
	return &InMemory{
		byFingerprint: make(map[string]*models.Entry),
		byID:          make(map[domain.EntryID]*models.Entry),
	}
}

// Append stores a new entry. Returns sentinel.ErrConflict when an entry with
// the same fingerprint already exists.
func (s *InMemory) Append(_ context.Context, entry *models.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byFingerprint[entry.Fingerprint]; exists {
		return sentinel.ErrConflict
	}

	stored := entry.Clone()
	s.byFingerprint[stored.Fingerprint] = stored
	s.byID[stored.ID] = stored
	return nil
}

// FindByID returns a copy of the entry, or sentinel.ErrNotFound.
func (s *InMemory) FindByID(_ context.Context, id domain.EntryID) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byID[id]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return entry.Clone(), nil
}

// FindByFingerprint returns a copy of the entry, or sentinel.ErrNotFound.
func (s *InMemory) FindByFingerprint(_ context.Context, fingerprint string) (*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.byFingerprint[fingerprint]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return entry.Clone(), nil
}

// List returns copies of matching entries ordered by timestamp then ID.
func (s *InMemory) List(_ context.Context, filter ListFilter) ([]*models.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Entry, 0, len(s.byID))
	for _, entry := range s.byID {
		if !matches(entry, filter) {
			continue
		}
		out = append(out, entry.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

// UpdateVerification sets the verification status, the only mutable event
// field.
func (s *InMemory) UpdateVerification(_ context.Context, id domain.EntryID, status models.VerificationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	entry.VerificationStatus = status
	return nil
}

// SetAnchorRef attaches an anchor reference once. A second attempt is an
// invalid state: anchor references are write-once like the entry itself.
func (s *InMemory) SetAnchorRef(_ context.Context, id domain.EntryID, ref anchor.Ref) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.byID[id]
	if !ok {
		return sentinel.ErrNotFound
	}
	if entry.AnchorRef != nil {
		return sentinel.ErrInvalidState
	}
	entry.AnchorRef = &ref
	return nil
}

func matches(entry *models.Entry, filter ListFilter) bool {
	if !filter.RequestID.IsNil() && entry.RequestID != filter.RequestID {
		return false
	}
	if filter.Department != "" && entry.Department != filter.Department {
		return false
	}
	if filter.Kind != "" && entry.Kind != filter.Kind {
		return false
	}
	if filter.Anomalous && !entry.IsAnomalous {
		return false
	}
	return true
}
