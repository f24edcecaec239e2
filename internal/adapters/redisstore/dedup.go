package redisstore

import (
	"context"
	"time"

	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

// Deduper remembers provider event ids with SET NX EX.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

func NewDeduper(client *redis.Client, ttl time.Duration) *Deduper {
	if ttl <= 0 {
		ttl = presence.DefaultDedupTTL
	}
	return &Deduper{client: client, ttl: ttl}
}

var _ presence.Deduper = (*Deduper)(nil)

func (d *Deduper) FirstSeen(ctx context.Context, room domain.RoomID, eventID string) (bool, error) {
	key := KeyPrefix + "event:" + string(room) + ":" + eventID
	ok, err := d.client.SetNX(ctx, key, 1, d.ttl).Result()
	if err != nil {
		return false, storeErr("dedup event", err)
	}
	return ok, nil
}
