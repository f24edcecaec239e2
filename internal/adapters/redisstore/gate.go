package redisstore

import (
	"context"
	"time"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

// acquireScript admits ARGV[1] into the seat set KEYS[1] when it is
// already a member or the set holds fewer than ARGV[2] members.
var acquireScript = redis.NewScript(`
local key = KEYS[1]
local member = ARGV[1]
local limit = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

if redis.call("SISMEMBER", key, member) == 1 then
	return 1
end
if redis.call("SCARD", key) >= limit then
	return 0
end
redis.call("SADD", key, member)
if ttl > 0 then
	redis.call("EXPIRE", key, ttl)
end
return 1
`)

// Gate is a SeatGate over one Redis set per room.
type Gate struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGate returns a gate. A positive ttl expires a room's seat set after
// that long without a grant.
func NewGate(client *redis.Client, ttl time.Duration) *Gate {
	return &Gate{client: client, ttl: ttl}
}

var _ core.SeatGate = (*Gate)(nil)

func seatsKey(room domain.RoomID) string { return KeyPrefix + "seats:" + string(room) }

func (g *Gate) TryAcquire(ctx context.Context, room domain.RoomID, user domain.UserID, limit int) (bool, error) {
	res, err := acquireScript.Run(ctx, g.client, []string{seatsKey(room)}, string(user), limit, int(g.ttl.Seconds())).Int()
	if err != nil {
		return false, storeErr("acquire seat", err)
	}
	return res == 1, nil
}

func (g *Gate) Release(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	if err := g.client.SRem(ctx, seatsKey(room), string(user)).Err(); err != nil {
		return storeErr("release seat", err)
	}
	return nil
}

func (g *Gate) Count(ctx context.Context, room domain.RoomID) (int, error) {
	n, err := g.client.SCard(ctx, seatsKey(room)).Result()
	if err != nil {
		return 0, storeErr("count seats", err)
	}
	return int(n), nil
}

func (g *Gate) Reset(ctx context.Context, room domain.RoomID) error {
	if err := g.client.Del(ctx, seatsKey(room)).Err(); err != nil {
		return storeErr("reset seats", err)
	}
	return nil
}
