// Package domain holds shared domain primitives: typed identifiers and the
// fiscal period key. Typed IDs make cross-entity mixups a compile error.
package domain

import (
	"regexp"

	"github.com/google/uuid"

	dErrors "fiscus/pkg/domain-errors"
)

// Typed identifiers. Distinct types so a RequestID can never be passed where
// a VendorID is expected.
type (
	// RequestID identifies a budget request.
	RequestID uuid.UUID
	// DepartmentID identifies a department node within one hierarchy aggregate.
	DepartmentID uuid.UUID
	// ProjectID identifies a project node within one hierarchy aggregate.
	ProjectID uuid.UUID
	// VendorID identifies a vendor node within one hierarchy aggregate.
	VendorID uuid.UUID
	// EntryID identifies a ledger entry.
	EntryID uuid.UUID
	// ActorID identifies the caller supplied by the identity collaborator.
	ActorID uuid.UUID
)

func (id RequestID) String() string    { return uuid.UUID(id).String() }
func (id DepartmentID) String() string { return uuid.UUID(id).String() }
func (id ProjectID) String() string    { return uuid.UUID(id).String() }
func (id VendorID) String() string     { return uuid.UUID(id).String() }
func (id EntryID) String() string      { return uuid.UUID(id).String() }
func (id ActorID) String() string      { return uuid.UUID(id).String() }

func (id RequestID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id DepartmentID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id ProjectID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
func (id VendorID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EntryID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }
func (id ActorID) IsNil() bool      { return uuid.UUID(id) == uuid.Nil }

// Text marshalling so typed IDs serialize as canonical UUID strings in JSON
// payloads and JSONB columns.
func (id RequestID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id DepartmentID) MarshalText() ([]byte, error) { return uuid.UUID(id).MarshalText() }
func (id ProjectID) MarshalText() ([]byte, error)    { return uuid.UUID(id).MarshalText() }
func (id VendorID) MarshalText() ([]byte, error)     { return uuid.UUID(id).MarshalText() }
func (id EntryID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }
func (id ActorID) MarshalText() ([]byte, error)      { return uuid.UUID(id).MarshalText() }

func (id *RequestID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *DepartmentID) UnmarshalText(b []byte) error { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ProjectID) UnmarshalText(b []byte) error    { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *VendorID) UnmarshalText(b []byte) error     { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *EntryID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }
func (id *ActorID) UnmarshalText(b []byte) error      { return (*uuid.UUID)(id).UnmarshalText(b) }

func parseUUID(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s is required", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must be a valid UUID", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s must not be the nil UUID", kind)
	}
	return u, nil
}

// ParseRequestID validates and returns a RequestID.
func ParseRequestID(s string) (RequestID, error) {
	u, err := parseUUID(s, "request id")
	return RequestID(u), err
}

// ParseEntryID validates and returns an EntryID.
func ParseEntryID(s string) (EntryID, error) {
	u, err := parseUUID(s, "entry id")
	return EntryID(u), err
}

// ParseVendorID validates and returns a VendorID.
func ParseVendorID(s string) (VendorID, error) {
	u, err := parseUUID(s, "vendor id")
	return VendorID(u), err
}

// ParseActorID validates and returns an ActorID.
func ParseActorID(s string) (ActorID, error) {
	u, err := parseUUID(s, "actor id")
	return ActorID(u), err
}

// Role is the caller role supplied by the identity collaborator. The core
// trusts it; authentication happens upstream.
type Role string

const (
	RoleAdmin     Role = "admin"
	RoleRequester Role = "requester"
	RoleAuditor   Role = "auditor"
)

// Valid reports whether the role is one the core recognizes.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleRequester, RoleAuditor:
		return true
	}
	return false
}

// FiscalPeriod keys one allocation hierarchy aggregate, e.g. "2026" or
// "2026-Q3". Callers always resolve or pass the key explicitly; there is no
// ambient "current period".
type FiscalPeriod string

var fiscalPeriodPattern = regexp.MustCompile(`^\d{4}(-Q[1-4])?$`)

// ParseFiscalPeriod validates and returns a FiscalPeriod.
func ParseFiscalPeriod(s string) (FiscalPeriod, error) {
	if !fiscalPeriodPattern.MatchString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "fiscal period must match YYYY or YYYY-Qn")
	}
	return FiscalPeriod(s), nil
}

func (p FiscalPeriod) String() string { return string(p) }
