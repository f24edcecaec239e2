package redisstore

import (
	"context"
	"fmt"
	"strconv"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

// VipTable reads ranks from hashes stage:vip:<user> with the fields
// priority, name and badge.
type VipTable struct {
	client *redis.Client
}

func NewVipTable(client *redis.Client) *VipTable {
	return &VipTable{client: client}
}

var _ core.VipLookup = (*VipTable)(nil)

func vipKey(user domain.UserID) string { return KeyPrefix + "vip:" + string(user) }

func (v *VipTable) Get(ctx context.Context, user domain.UserID) (domain.VipRank, bool, error) {
	fields, err := v.client.HGetAll(ctx, vipKey(user)).Result()
	if err != nil {
		return domain.VipRank{}, false, storeErr("vip lookup", err)
	}
	if len(fields) == 0 {
		return domain.NoVip(user), false, nil
	}
	prio, err := strconv.Atoi(fields["priority"])
	if err != nil {
		return domain.VipRank{}, false, fmt.Errorf("vip %s: priority %q: %w", user, fields["priority"], domain.ErrConflict)
	}
	return domain.VipRank{UserID: user, Priority: prio, Name: fields["name"], Badge: fields["badge"]}, true, nil
}

// Put stores rank; used by seeding tools and tests.
func (v *VipTable) Put(ctx context.Context, rank domain.VipRank) error {
	err := v.client.HSet(ctx, vipKey(rank.UserID),
		"priority", rank.Priority,
		"name", rank.Name,
		"badge", rank.Badge,
	).Err()
	if err != nil {
		return storeErr("vip put", err)
	}
	return nil
}
