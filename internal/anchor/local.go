package anchor

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"fiscus/internal/integrity"
	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
)

// Local is an in-process anchor that simply stores fingerprints. Suitable for
// development and tests, and as the default when no external store is
// configured but anchoring is still wanted.
type Local struct {
	mu   sync.RWMutex
	refs map[string]Ref
}

// NewLocal creates an empty local anchor.
func NewLocal() *Local {
	return &Local{refs: make(map[string]Ref)}
}

// Submit records the fingerprint in memory. Resubmission returns the
// original reference, keeping submissions idempotent.
func (a *Local) Submit(_ context.Context, fingerprint string) (Ref, error) {
	if !integrity.IsValid(fingerprint) {
		return Ref{}, dErrors.New(dErrors.CodeInvalidInput, "fingerprint is not in normalized form")
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if ref, ok := a.refs[fingerprint]; ok {
		return ref, nil
	}

	ref := Ref{ID: uuid.NewString(), AnchoredAt: time.Now().UTC()}
	a.refs[fingerprint] = ref
	return ref, nil
}

// Lookup returns the stored reference for a fingerprint.
func (a *Local) Lookup(_ context.Context, fingerprint string) (Ref, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ref, ok := a.refs[integrity.Normalize(fingerprint)]
	if !ok {
		return Ref{}, sentinel.ErrNotFound
	}
	return ref, nil
}
