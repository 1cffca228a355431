package presence

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const presenceKeyPrefix = "presence:"

// RedisTracker stores liveness as TTL'd Redis keys so presence survives
// process restarts and is shared across instances.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker connects to the given Redis URL and returns a tracker.
func NewRedisTracker(url string, ttl time.Duration) (*RedisTracker, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("presence: redis url is required")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("presence: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = 90 * time.Second
	}
	return &RedisTracker{client: redis.NewClient(opt), ttl: ttl}, nil
}

// Heartbeat refreshes the user's presence key and its TTL.
func (t *RedisTracker) Heartbeat(ctx context.Context, userID string) error {
	if userID == "" {
		return nil
	}
	return t.client.Set(ctx, presenceKeyPrefix+userID, "1", t.ttl).Err()
}

// Online reports whether the user's presence key still exists.
func (t *RedisTracker) Online(ctx context.Context, userID string) (bool, error) {
	count, err := t.client.Exists(ctx, presenceKeyPrefix+userID).Result()
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// ActiveUsers scans the presence keyspace and returns the user ids, sorted.
func (t *RedisTracker) ActiveUsers(ctx context.Context) ([]string, error) {
	var (
		cursor uint64
		active []string
	)
	for {
		keys, next, err := t.client.Scan(ctx, cursor, presenceKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			active = append(active, strings.TrimPrefix(key, presenceKeyPrefix))
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	sort.Strings(active)
	return active, nil
}

// Close releases the underlying client.
func (t *RedisTracker) Close() error {
	return t.client.Close()
}
