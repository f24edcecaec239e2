package core

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

// VipLookup is the external, read-only priority table.
// A missing user is reported with ok=false and is never an error.
type VipLookup interface {
	Get(ctx context.Context, user domain.UserID) (rank domain.VipRank, ok bool, err error)
}

// SeatGate owns the granted-seat counter of every room.
// TryAcquire must be an atomic increment-if-below-cap: of any number of
// concurrent callers racing for the last slot exactly one wins. Acquiring a
// slot already held by the same user succeeds without consuming another.
type SeatGate interface {
	TryAcquire(ctx context.Context, room domain.RoomID, user domain.UserID, limit int) (bool, error)
	Release(ctx context.Context, room domain.RoomID, user domain.UserID) error
	Count(ctx context.Context, room domain.RoomID) (int, error)
	Reset(ctx context.Context, room domain.RoomID) error
}

// History receives every ledger transition for audit. Record must not block.
type History interface {
	Record(req domain.MicRequest)
}

// HistoryReader reads recorded transitions back, latest limit records of
// user in room, oldest first.
type HistoryReader interface {
	ByUser(ctx context.Context, room domain.RoomID, user domain.UserID, limit int) ([]domain.MicRequest, error)
}

// Publisher fans a room's row changes out to its subscribers.
type Publisher interface {
	Publish(room domain.RoomID, ch domain.Change)
}

// IDSource hands out monotonically increasing request ids.
type IDSource func() domain.RequestID

// NewSequence returns an IDSource whose first id is after+1. It is safe
// for concurrent use, so one sequence can serve every room.
func NewSequence(after domain.RequestID) IDSource {
	var seq atomic.Uint64
	seq.Store(uint64(after))
	return func() domain.RequestID { return domain.RequestID(seq.Add(1)) }
}

// Clock is injected wherever time matters so tests stay deterministic.
type Clock func() time.Time
