package access

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisGate reads capabilities the identity provider publishes as one Redis
// set per actor: <prefix>:<actorID> = {action, ...}. A "*" member grants all.
type RedisGate struct {
	client redis.Cmdable
	prefix string
}

func NewRedisGate(client redis.Cmdable, prefix string) *RedisGate {
	return &RedisGate{client: client, prefix: strings.TrimSuffix(prefix, ":")}
}

func (g *RedisGate) key(actorID string) string {
	return g.prefix + ":" + actorID
}

func (g *RedisGate) IsAuthorized(ctx context.Context, actorID, action string) (bool, error) {
	if actorID == "" {
		return false, nil
	}
	hits, err := g.client.SMIsMember(ctx, g.key(actorID), strings.ToLower(action), Wildcard).Result()
	if err != nil {
		return false, fmt.Errorf("check capability: %w", err)
	}
	for _, hit := range hits {
		if hit {
			return true, nil
		}
	}
	return false, nil
}

// Grant adds actions to actor's capability set. Operators and tests use it;
// in production the identity provider owns these sets.
func (g *RedisGate) Grant(ctx context.Context, actorID string, actions ...string) error {
	members := make([]any, len(actions))
	for i, a := range actions {
		members[i] = strings.ToLower(a)
	}
	return g.client.SAdd(ctx, g.key(actorID), members...).Err()
}

// Revoke removes actions from actor's capability set.
func (g *RedisGate) Revoke(ctx context.Context, actorID string, actions ...string) error {
	members := make([]any, len(actions))
	for i, a := range actions {
		members[i] = strings.ToLower(a)
	}
	return g.client.SRem(ctx, g.key(actorID), members...).Err()
}
