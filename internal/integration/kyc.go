package integration

import (
	"context"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/gema-action-engine/internal/service"
)

// DefaultKYCSetKey is the Redis set holding verified user ids.
const DefaultKYCSetKey = "kyc:verified"

// RedisKYCChecker reports users as verified when they are members of a Redis set.
type RedisKYCChecker struct {
	client *redis.Client
	key    string
}

// NewRedisKYCChecker constructs a checker backed by the given set key.
func NewRedisKYCChecker(client *redis.Client, key string) *RedisKYCChecker {
	if strings.TrimSpace(key) == "" {
		key = DefaultKYCSetKey
	}
	return &RedisKYCChecker{client: client, key: key}
}

func (c *RedisKYCChecker) IsVerified(ctx context.Context, userID string) (bool, error) {
	ok, err := c.client.SIsMember(ctx, c.key, userID).Result()
	if err != nil {
		return false, fmt.Errorf("kyc lookup for %s: %w", userID, err)
	}
	return ok, nil
}

// MarkVerified adds users to the verified set.
func (c *RedisKYCChecker) MarkVerified(ctx context.Context, userIDs ...string) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]interface{}, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, id)
	}
	return c.client.SAdd(ctx, c.key, members...).Err()
}

// StaticKYCChecker verifies a fixed list of users.
type StaticKYCChecker struct {
	verified map[string]struct{}
}

// NewStaticKYCChecker constructs a checker from a list of user ids.
func NewStaticKYCChecker(userIDs []string) *StaticKYCChecker {
	verified := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id = strings.TrimSpace(id); id != "" {
			verified[id] = struct{}{}
		}
	}
	return &StaticKYCChecker{verified: verified}
}

func (c *StaticKYCChecker) IsVerified(_ context.Context, userID string) (bool, error) {
	_, ok := c.verified[userID]
	return ok, nil
}

var (
	_ service.KYCChecker = (*RedisKYCChecker)(nil)
	_ service.KYCChecker = (*StaticKYCChecker)(nil)
)
