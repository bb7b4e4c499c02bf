package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"

	"fiscus/internal/anchor"
	"fiscus/internal/ledger/models"
	"fiscus/pkg/domain"
	"fiscus/pkg/platform/sentinel"
)

type LedgerMemoryStoreSuite struct {
	suite.Suite
	store *InMemory
	ctx   context.Context
}

func TestLedgerMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(LedgerMemoryStoreSuite))
}

func (s *LedgerMemoryStoreSuite) SetupTest() {
	s.store = NewInMemory()
	s.ctx = context.Background()
}

func (s *LedgerMemoryStoreSuite) newEntry(fingerprintFill string) *models.Entry {
	return &models.Entry{
		ID:                 domain.EntryID(uuid.New()),
		Fingerprint:        "0x" + repeat(fingerprintFill, 64),
		RequestID:          domain.RequestID(uuid.New()),
		Department:         "Engineering",
		Project:            "Platform Rebuild",
		VendorID:           domain.VendorID(uuid.New()),
		Amount:             decimal.NewFromInt(1000),
		Kind:               models.KindAllocation,
		Actor:              domain.ActorID(uuid.New()),
		Timestamp:          time.Now().UTC(),
		VerificationStatus: models.VerificationPending,
	}
}

func repeat(fill string, length int) string {
	out := ""
	for len(out) < length {
		out += fill
	}
	return out[:length]
}

func (s *LedgerMemoryStoreSuite) TestAppend() {
	s.Run("stores and retrieves by ID and fingerprint", func() {
		entry := s.newEntry("a")
		s.Require().NoError(s.store.Append(s.ctx, entry))

		byID, err := s.store.FindByID(s.ctx, entry.ID)
		s.Require().NoError(err)
		s.Equal(entry.Fingerprint, byID.Fingerprint)

		byFP, err := s.store.FindByFingerprint(s.ctx, entry.Fingerprint)
		s.Require().NoError(err)
		s.Equal(entry.ID, byFP.ID)
	})

	s.Run("duplicate fingerprint returns conflict", func() {
		first := s.newEntry("b")
		s.Require().NoError(s.store.Append(s.ctx, first))

		dup := s.newEntry("b")
		err := s.store.Append(s.ctx, dup)
		s.Require().ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("returned entries are isolated copies", func() {
		entry := s.newEntry("c")
		s.Require().NoError(s.store.Append(s.ctx, entry))

		fetched, err := s.store.FindByID(s.ctx, entry.ID)
		s.Require().NoError(err)
		fetched.Amount = decimal.NewFromInt(999)

		again, err := s.store.FindByID(s.ctx, entry.ID)
		s.Require().NoError(err)
		s.True(again.Amount.Equal(decimal.NewFromInt(1000)))
	})
}

func (s *LedgerMemoryStoreSuite) TestList() {
	s.Run("orders by timestamp and filters", func() {
		base := time.Now().UTC()
		for i := 0; i < 3; i++ {
			entry := s.newEntry(fmt.Sprintf("%d", i))
			entry.Timestamp = base.Add(time.Duration(2-i) * time.Minute)
			if i == 1 {
				entry.Department = "Marketing"
				entry.Kind = models.KindRelease
			}
			s.Require().NoError(s.store.Append(s.ctx, entry))
		}

		all, err := s.store.List(s.ctx, ListFilter{})
		s.Require().NoError(err)
		s.Require().Len(all, 3)
		s.True(all[0].Timestamp.Before(all[1].Timestamp))

		marketing, err := s.store.List(s.ctx, ListFilter{Department: "Marketing"})
		s.Require().NoError(err)
		s.Len(marketing, 1)

		releases, err := s.store.List(s.ctx, ListFilter{Kind: models.KindRelease})
		s.Require().NoError(err)
		s.Len(releases, 1)
	})
}

func (s *LedgerMemoryStoreSuite) TestUpdateVerification() {
	s.Run("updates status in place", func() {
		entry := s.newEntry("d")
		s.Require().NoError(s.store.Append(s.ctx, entry))

		s.Require().NoError(s.store.UpdateVerification(s.ctx, entry.ID, models.VerificationVerified))

		found, err := s.store.FindByID(s.ctx, entry.ID)
		s.Require().NoError(err)
		s.Equal(models.VerificationVerified, found.VerificationStatus)
	})

	s.Run("unknown entry returns not found", func() {
		err := s.store.UpdateVerification(s.ctx, domain.EntryID(uuid.New()), models.VerificationVerified)
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *LedgerMemoryStoreSuite) TestSetAnchorRef() {
	s.Run("attaches reference once", func() {
		entry := s.newEntry("e")
		s.Require().NoError(s.store.Append(s.ctx, entry))

		ref := anchor.Ref{ID: uuid.NewString(), AnchoredAt: time.Now().UTC()}
		s.Require().NoError(s.store.SetAnchorRef(s.ctx, entry.ID, ref))

		found, err := s.store.FindByID(s.ctx, entry.ID)
		s.Require().NoError(err)
		s.Require().NotNil(found.AnchorRef)
		s.Equal(ref.ID, found.AnchorRef.ID)
	})

	s.Run("second attach is rejected", func() {
		entry := s.newEntry("f")
		s.Require().NoError(s.store.Append(s.ctx, entry))

		ref := anchor.Ref{ID: uuid.NewString(), AnchoredAt: time.Now().UTC()}
		s.Require().NoError(s.store.SetAnchorRef(s.ctx, entry.ID, ref))
		err := s.store.SetAnchorRef(s.ctx, entry.ID, ref)
		s.Require().ErrorIs(err, sentinel.ErrInvalidState)
	})
}
