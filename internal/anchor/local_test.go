package anchor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	"fiscus/pkg/platform/sentinel"
)

type LocalAnchorSuite struct {
	suite.Suite
	anchor *Local
	ctx    context.Context
}

func TestLocalAnchorSuite(t *testing.T) {
	suite.Run(t, new(LocalAnchorSuite))
}

func (s *LocalAnchorSuite) SetupTest() {
	s.anchor = NewLocal()
	s.ctx = context.Background()
}

func (s *LocalAnchorSuite) fingerprint(fill string) string {
	return "0x" + strings.Repeat(fill, 32)
}

func (s *LocalAnchorSuite) TestSubmit() {
	s.Run("records fingerprint and returns reference", func() {
		ref, err := s.anchor.Submit(s.ctx, s.fingerprint("ab"))
		s.Require().NoError(err)
		s.NotEmpty(ref.ID)
		s.False(ref.AnchoredAt.IsZero())
	})

	s.Run("resubmission returns original reference", func() {
		fp := s.fingerprint("cd")
		first, err := s.anchor.Submit(s.ctx, fp)
		s.Require().NoError(err)

		second, err := s.anchor.Submit(s.ctx, fp)
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
	})

	s.Run("rejects unnormalized fingerprints", func() {
		_, err := s.anchor.Submit(s.ctx, "not-a-fingerprint")
		s.Error(err)
	})
}

func (s *LocalAnchorSuite) TestLookup() {
	s.Run("finds submitted fingerprint", func() {
		fp := s.fingerprint("ef")
		ref, err := s.anchor.Submit(s.ctx, fp)
		s.Require().NoError(err)

		found, err := s.anchor.Lookup(s.ctx, fp)
		s.Require().NoError(err)
		s.Equal(ref.ID, found.ID)
	})

	s.Run("normalizes before lookup", func() {
		fp := s.fingerprint("0f")
		_, err := s.anchor.Submit(s.ctx, fp)
		s.Require().NoError(err)

		_, err = s.anchor.Lookup(s.ctx, strings.ToUpper(fp[2:]))
		s.NoError(err)
	})

	s.Run("returns not found for unknown fingerprint", func() {
		_, err := s.anchor.Lookup(s.ctx, s.fingerprint("99"))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
