//go:build integration

package push_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/push"
	"moderation/pkg/testutil/containers"
)

type RedisPusherSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	pusher *push.RedisPusher
}

func TestRedisPusherSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisPusherSuite))
}

func (s *RedisPusherSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
	s.pusher = push.NewRedisPusher(s.redis.Client, "test:notify")
}

func (s *RedisPusherSuite) TestNoSubscriberIsUndelivered() {
	delivered, err := s.pusher.Push(context.Background(), &models.Notification{ID: "n1", RecipientID: "nobody"})
	s.Require().NoError(err)
	s.False(delivered)
}

func (s *RedisPusherSuite) TestSubscriberReceivesNotification() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := s.pusher.Subscribe(ctx, "owner-1")
	s.Require().NoError(err)

	sent := &models.Notification{
		ID: "n2", RecipientID: "owner-1", SubjectID: "S1", Sequence: 4,
		Message: "Your document S1 was verified.", CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	delivered, err := s.pusher.Push(ctx, sent)
	s.Require().NoError(err)
	s.True(delivered)

	select {
	case got := <-stream:
		s.Equal(sent.ID, got.ID)
		s.Equal(sent.Sequence, got.Sequence)
		s.Equal(sent.Message, got.Message)
	case <-ctx.Done():
		s.FailNow("notification not received")
	}
}
