package core

import (
	"cmp"
	"context"
	"slices"

	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

// OrderPending ranks pending requests by (vip priority desc, created asc, id asc).
// A failing lookup degrades to the lowest priority; it never blocks the queue.
func OrderPending(ctx context.Context, pending []domain.MicRequest, vip VipLookup) []QueueEntry {
	out := make([]QueueEntry, 0, len(pending))
	for _, r := range pending {
		rank := domain.NoVip(r.UserID)
		if vip != nil {
			got, ok, err := vip.Get(ctx, r.UserID)
			switch {
			case err != nil:
				log.Warn().Err(err).Str("module", "core.queue").Str("user", string(r.UserID)).Msg("vip lookup failed")
			case ok:
				rank = got
				rank.UserID = r.UserID
			}
		}
		out = append(out, QueueEntry{Request: r, Vip: rank})
	}
	slices.SortFunc(out, compareEntries)
	return out
}

func compareEntries(a, b QueueEntry) int {
	if c := cmp.Compare(b.Vip.Priority, a.Vip.Priority); c != 0 {
		return c
	}
	if c := a.Request.CreatedAt.Compare(b.Request.CreatedAt); c != 0 {
		return c
	}
	return cmp.Compare(a.Request.ID, b.Request.ID)
}
