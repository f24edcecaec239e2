// Package redisstore backs the seat gate, the event dedup ledger and the
// VIP table with Redis so several instances can share them.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

const KeyPrefix = "stage:"

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	if url == "" {
		return nil, errors.New("redis: url is empty")
	}
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	c := redis.NewClient(opt)
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis: ping: %w", err)
	}
	return c, nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("redis %s: %w: %w", op, domain.ErrNetwork, err)
}
