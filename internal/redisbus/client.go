package redisbus

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Config holds the connection settings.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient opens a client and pings the server once.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Key patterns:
//   - prekeys:low:{user}  pub/sub channel for low one-time pre-key signals
//   - inbox:{user}        list of queued deliveries, oldest first
//   - bundle:{user}       published bundle without one-time pre-keys
//   - bundle:{user}:otpk  list of unclaimed one-time pre-keys
func lowPreKeysChannel(user string) string { return fmt.Sprintf("prekeys:low:%s", user) }
func inboxKey(user string) string          { return fmt.Sprintf("inbox:%s", user) }
func bundleKey(user string) string         { return fmt.Sprintf("bundle:%s", user) }
func oneTimeKey(user string) string        { return fmt.Sprintf("bundle:%s:otpk", user) }
