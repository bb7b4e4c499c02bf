//go:build integration

package anchor

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/suite"

	dErrors "fiscus/pkg/domain-errors"
	"fiscus/pkg/platform/sentinel"
	"fiscus/pkg/testutil/containers"
)

type RedisAnchorSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	anchor *Redis
	ctx    context.Context
}

func TestRedisAnchorSuite(t *testing.T) {
	suite.Run(t, new(RedisAnchorSuite))
}

func (s *RedisAnchorSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.anchor = NewRedis(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisAnchorSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(s.ctx))
}

func (s *RedisAnchorSuite) fingerprint(fill string) string {
	return "0x" + strings.Repeat(fill, 32)
}

func (s *RedisAnchorSuite) TestSubmit() {
	s.Run("submit then lookup", func() {
		ref, err := s.anchor.Submit(s.ctx, s.fingerprint("ab"))
		s.Require().NoError(err)
		s.NotEmpty(ref.ID)
		s.False(ref.AnchoredAt.IsZero())

		found, err := s.anchor.Lookup(s.ctx, s.fingerprint("ab"))
		s.Require().NoError(err)
		s.Equal(ref.ID, found.ID)
	})

	s.Run("resubmission returns the original reference", func() {
		first, err := s.anchor.Submit(s.ctx, s.fingerprint("cd"))
		s.Require().NoError(err)

		second, err := s.anchor.Submit(s.ctx, s.fingerprint("cd"))
		s.Require().NoError(err)
		s.Equal(first.ID, second.ID)
	})

	s.Run("rejects non-normalized fingerprints", func() {
		_, err := s.anchor.Submit(s.ctx, "not-a-fingerprint")
		s.Require().True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *RedisAnchorSuite) TestLookup() {
	s.Run("unknown fingerprint returns not found", func() {
		_, err := s.anchor.Lookup(s.ctx, s.fingerprint("ef"))
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
