//go:build integration

package pending_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"tempo/internal/apps/models"
	"tempo/internal/apps/store/pending"
	"tempo/pkg/platform/sentinel"
	"tempo/pkg/testutil"
	"tempo/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *pending.RedisStore
	ctx   context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.store = pending.NewRedis(s.redis.Client)
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.Client.FlushAll(s.ctx).Err())
}

func (s *RedisStoreSuite) pending(state string) *models.PendingAuthorization {
	now := time.Now()
	return &models.PendingAuthorization{
		State:     state,
		CompanyID: testutil.TestIDs.CompanyA,
		AppName:   "google-calendar",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Minute),
	}
}

func (s *RedisStoreSuite) TestConcurrentConsumeExactlyOnce() {
	s.Require().NoError(s.store.Save(s.ctx, s.pending("race")))

	result := testutil.RunConcurrent(12, func(int) error {
		_, err := s.store.Consume(s.ctx, "race", time.Now())
		return err
	})
	s.Equal(int32(1), result.Successes)
	s.Equal(int32(11), result.NotFounds)
}

func (s *RedisStoreSuite) TestNewerLoginSupersedesOlder() {
	s.Require().NoError(s.store.Save(s.ctx, s.pending("first")))
	s.Require().NoError(s.store.Save(s.ctx, s.pending("second")))

	_, err := s.store.Consume(s.ctx, "first", time.Now())
	s.ErrorIs(err, sentinel.ErrNotFound)

	p, err := s.store.Consume(s.ctx, "second", time.Now())
	s.Require().NoError(err)
	s.Equal(testutil.TestIDs.CompanyA, p.CompanyID)
}

func (s *RedisStoreSuite) TestConcurrentLoginsLeaveOneRedeemableState() {
	const logins = 16
	states := make([]string, logins)
	for i := range states {
		states[i] = fmt.Sprintf("click-%d", i)
	}

	saved := testutil.RunConcurrent(logins, func(idx int) error {
		return s.store.Save(s.ctx, s.pending(states[idx]))
	})
	s.Require().Equal(int32(logins), saved.Successes)

	redeemed := 0
	for _, state := range states {
		_, err := s.store.Consume(s.ctx, state, time.Now())
		if err == nil {
			redeemed++
			continue
		}
		s.ErrorIs(err, sentinel.ErrNotFound)
	}
	s.Equal(1, redeemed)
}

func (s *RedisStoreSuite) TestKeysExpireWithTTL() {
	p := s.pending("short")
	p.ExpiresAt = time.Now().Add(300 * time.Millisecond)
	s.Require().NoError(s.store.Save(s.ctx, p))

	s.Eventually(func() bool {
		_, err := s.store.Consume(s.ctx, "short", time.Now())
		return err != nil
	}, 3*time.Second, 100*time.Millisecond)
}
