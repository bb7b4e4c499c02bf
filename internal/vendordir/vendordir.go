// Package vendordir resolves vendor identities to their payment wallet
// references. The directory is a collaborator: allocation works with or
// without a resolved wallet, the reference is carried as metadata.
package vendordir

import (
	"context"
	"strings"
	"sync"
)

// Record is one directory listing.
type Record struct {
	Identity  string
	WalletRef string
}

// Directory looks up vendors by identity. Lookups are case-insensitive on
// the identity.
type Directory interface {
	Lookup(ctx context.Context, identity string) (Record, bool)
}

// Static is an in-memory directory seeded at startup.
type Static struct {
	mu      sync.RWMutex
	records map[string]Record
}

// NewStatic builds a directory from the given records.
func NewStatic(records []Record) *Static {
	s := &Static{records: make(map[string]Record, len(records))}
	for _, r := range records {
		s.records[strings.ToLower(r.Identity)] = r
	}
	return s
}

// Lookup returns the record for the identity, if listed.
func (s *Static) Lookup(_ context.Context, identity string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[strings.ToLower(identity)]
	return r, ok
}

// Add registers or replaces a record.
func (s *Static) Add(r Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[strings.ToLower(r.Identity)] = r
}
