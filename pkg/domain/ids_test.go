package domain

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "fiscus/pkg/domain-errors"
)

// TestParseIDs_Invariants validates the parsing invariant:
// "IDs must be valid, non-empty, non-nil UUIDs".
func TestParseIDs_Invariants(t *testing.T) {
	t.Run("rejects empty string", func(t *testing.T) {
		_, err := ParseRequestID("")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects invalid format", func(t *testing.T) {
		_, err := ParseVendorID("not-a-uuid")
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("rejects nil UUID", func(t *testing.T) {
		_, err := ParseEntryID(uuid.Nil.String())
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	t.Run("accepts valid UUID", func(t *testing.T) {
		valid := uuid.New()
		id, err := ParseRequestID(valid.String())
		require.NoError(t, err)
		assert.Equal(t, RequestID(valid), id)
	})
}

// TestTypeDistinction verifies the compiler enforces type safety between ID
// kinds. If this compiles, the invariant holds.
func TestTypeDistinction(t *testing.T) {
	requestID := RequestID(uuid.New())
	vendorID := VendorID(uuid.New())

	// These would fail to compile if types were interchangeable:
	// var _ RequestID = vendorID // compile error
	// var _ VendorID = requestID // compile error

	assert.NotEqual(t, uuid.UUID(requestID), uuid.UUID(vendorID))
}

func TestParseFiscalPeriod(t *testing.T) {
	for _, tc := range []struct {
		in string
		ok bool
	}{
		{"2026", true},
		{"2026-Q1", true},
		{"2026-Q4", true},
		{"2026-Q5", false},
		{"26", false},
		{"", false},
		{"2026-q1", false},
	} {
		_, err := ParseFiscalPeriod(tc.in)
		if tc.ok {
			assert.NoError(t, err, tc.in)
		} else {
			assert.Error(t, err, tc.in)
		}
	}
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleAdmin.Valid())
	assert.True(t, RoleRequester.Valid())
	assert.True(t, RoleAuditor.Valid())
	assert.False(t, Role("superuser").Valid())
	assert.False(t, Role("").Valid())
}
