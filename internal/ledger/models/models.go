// Package models defines the append-only ledger entry and its canonical
// projection.
package models

import (
	"time"

	"github.com/shopspring/decimal"

	"fiscus/internal/anchor"
	"fiscus/pkg/domain"
)

// EventKind classifies an allocation-affecting event. All behavior keys off
// this enum; free-text notes are carried as metadata only.
type EventKind string

const (
	KindAllocation   EventKind = "allocation"
	KindRelease      EventKind = "release"
	KindWithdrawal   EventKind = "withdrawal"
	KindReallocation EventKind = "reallocation"
	KindFreeze       EventKind = "freeze"
	KindUnfreeze     EventKind = "unfreeze"
)

// Valid reports whether the kind is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case KindAllocation, KindRelease, KindWithdrawal, KindReallocation, KindFreeze, KindUnfreeze:
		return true
	}
	return false
}

// VerificationStatus is the only mutable field of a stored entry.
type VerificationStatus string

const (
	// VerificationPending marks an entry not yet independently re-verified.
	VerificationPending VerificationStatus = "pending"
	// VerificationVerified marks an entry whose recomputed fingerprint matched.
	VerificationVerified VerificationStatus = "verified"
	// VerificationTampered marks a detected mismatch. A tampered record is a
	// valid, queryable state, not a crash.
	VerificationTampered VerificationStatus = "tampered"
)

// Entry is one immutable allocation-affecting event, keyed naturally by its
// fingerprint. Once stored, only VerificationStatus and AnchorRef change.
type Entry struct {
	ID          domain.EntryID
	Fingerprint string

	RequestID  domain.RequestID
	Department string
	Project    string
	VendorID   domain.VendorID

	Amount    decimal.Decimal
	Kind      EventKind
	Actor     domain.ActorID
	Note      string
	Timestamp time.Time

	AnomalyScore int
	IsAnomalous  bool

	VerificationStatus VerificationStatus

	// AnchorRef is set only when an integrity anchor actually recorded the
	// fingerprint. It is never fabricated.
	AnchorRef *anchor.Ref
}

// Projection is the canonical data bound by the fingerprint. Field set and
// encoding are fixed: replaying the same logical event reproduces the same
// fingerprint, which is what makes appends idempotent.
type Projection struct {
	Amount     string `json:"amount"`
	Department string `json:"department"`
	Project    string `json:"project"`
	VendorID   string `json:"vendor_id"`
	Kind       string `json:"kind"`
	Timestamp  string `json:"timestamp"`
}

// CanonicalProjection builds the fingerprint projection from the entry's
// current field values. Verification recomputes from this, so any
// out-of-band mutation of the projected fields surfaces as a mismatch.
func (e *Entry) CanonicalProjection() Projection {
	return Projection{
		// Fixed four-decimal rendering so the projected amount survives a
		// NUMERIC(20,4) round trip and verification recomputes the same bytes.
		Amount:     e.Amount.StringFixed(4),
		Department: e.Department,
		Project:    e.Project,
		VendorID:   e.VendorID.String(),
		Kind:       string(e.Kind),
		Timestamp:  e.Timestamp.UTC().Format(time.RFC3339Nano),
	}
}

// Clone returns a deep copy so stores never hand out internal references.
func (e *Entry) Clone() *Entry {
	out := *e
	if e.AnchorRef != nil {
		ref := *e.AnchorRef
		out.AnchorRef = &ref
	}
	return &out
}
