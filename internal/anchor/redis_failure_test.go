package anchor

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"

	"fiscus/pkg/platform/sentinel"
)

// RedisFailureSuite runs against an unreachable address: no server needed.
type RedisFailureSuite struct {
	suite.Suite
	anchor *Redis
	ctx    context.Context
}

func TestRedisFailureSuite(t *testing.T) {
	suite.Run(t, new(RedisFailureSuite))
}

func (s *RedisFailureSuite) SetupTest() {
	s.anchor = NewRedis(redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	}))
	s.ctx = context.Background()
}

func (s *RedisFailureSuite) fingerprint(fill string) string {
	return "0x" + strings.Repeat(fill, 32)
}

func (s *RedisFailureSuite) TestSubmit() {
	s.Run("connection failure is unavailable and keeps the cause", func() {
		_, err := s.anchor.Submit(s.ctx, s.fingerprint("ab"))
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
		s.Contains(err.Error(), "dial")
	})
}

func (s *RedisFailureSuite) TestLookup() {
	s.Run("connection failure is unavailable and keeps the cause", func() {
		_, err := s.anchor.Lookup(s.ctx, s.fingerprint("cd"))
		s.Require().ErrorIs(err, sentinel.ErrUnavailable)
		s.Contains(err.Error(), "dial")
	})
}
