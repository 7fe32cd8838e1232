package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Client wraps Redis for callback bookkeeping: fast-path webhook replay
// detection and short-lived per-reference locks. The database transaction
// guards stay authoritative; Redis only cuts down duplicate work.
type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client and verifies connectivity
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// IsEventSeen reports whether a webhook event id is already recorded. Pure
// read; used as a cheap replay filter in front of the database guard.
func (c *Client) IsEventSeen(ctx context.Context, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fmt.Sprintf("webhook:event:%s", eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkEventSeen records a webhook event id with a TTL. Callers record only
// after the event has been handled, so a transient handling failure does not
// drop the gateway's retry.
func (c *Client) MarkEventSeen(ctx context.Context, eventID string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("webhook:event:%s", eventID), "1", ttl).Err()
}

// AcquireLock acquires a short-lived lock for a payment reference
func (c *Client) AcquireLock(ctx context.Context, reference string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:payment:%s", reference), "1", ttl).Result()
}

// ReleaseLock releases a payment reference lock
func (c *Client) ReleaseLock(ctx context.Context, reference string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:payment:%s", reference)).Err()
}
