// Package anchor defines the integrity-anchor capability: durably recording
// a fingerprint with an external or local store so it can be independently
// verified later.
//
// The core depends only on the Anchor interface and never assumes a specific
// implementation is active. When no anchor is configured, ledger entries
// simply carry no anchor reference; placeholder references are never
// fabricated.
package anchor

import (
	"context"
	"time"
)

// Ref is the opaque reference returned by an anchor submission. The core
// stores it on the ledger entry without interpreting it.
type Ref struct {
	ID         string    `json:"id"`
	AnchoredAt time.Time `json:"anchored_at"`
}

// Anchor records fingerprints for later independent verification.
type Anchor interface {
	// Submit durably records the fingerprint and returns a reference to the
	// record. Submitting the same fingerprint twice returns the original
	// reference.
	Submit(ctx context.Context, fingerprint string) (Ref, error)

	// Lookup returns the reference previously recorded for the fingerprint,
	// or sentinel.ErrNotFound. Exposed as a debugging operation, not a
	// correctness precondition.
	Lookup(ctx context.Context, fingerprint string) (Ref, error)
}
