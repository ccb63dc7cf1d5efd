// Package push publishes persisted notifications to connected recipients
// over Redis pub/sub. Gateways holding recipient connections subscribe to
// <prefix>:<recipient_id>.
package push

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"moderation/internal/moderation/models"
	"moderation/internal/moderation/ports"
)

const defaultPrefix = "moderation:notify"

type RedisPusher struct {
	client redis.UniversalClient
	prefix string
}

var _ ports.LivePusher = (*RedisPusher)(nil)

func NewRedisPusher(client redis.UniversalClient, prefix string) *RedisPusher {
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &RedisPusher{client: client, prefix: prefix}
}

// Channel is the pub/sub channel for recipientID.
func (p *RedisPusher) Channel(recipientID string) string {
	return p.prefix + ":" + recipientID
}

// Push publishes n as JSON. delivered is false when no subscriber received it.
func (p *RedisPusher) Push(ctx context.Context, n *models.Notification) (bool, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.Channel(n.RecipientID), payload).Result()
	if err != nil {
		return false, fmt.Errorf("publish notification: %w", err)
	}
	return receivers > 0, nil
}

// Subscribe streams notifications for recipientID until ctx is done. The
// returned channel is closed when the subscription ends.
func (p *RedisPusher) Subscribe(ctx context.Context, recipientID string) (<-chan *models.Notification, error) {
	sub := p.client.Subscribe(ctx, p.Channel(recipientID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan *models.Notification)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var n models.Notification
				if err := json.Unmarshal([]byte(msg.Payload), &n); err != nil {
					continue
				}
				select {
				case out <- &n:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
