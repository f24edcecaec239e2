package presence

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
)

const DefaultDedupTTL = 24 * time.Hour

// Deduper is the idempotency-key ledger for provider events.
// FirstSeen marks key as seen and reports whether it was new.
type Deduper interface {
	FirstSeen(ctx context.Context, room domain.RoomID, eventID string) (bool, error)
}

// MemoryDeduper remembers event ids for ttl. Expired keys are pruned
// lazily once per ttl.
type MemoryDeduper struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       core.Clock
	seen      map[string]time.Time
	lastPrune time.Time
}

func NewMemoryDeduper(ttl time.Duration, now core.Clock) *MemoryDeduper {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryDeduper{ttl: ttl, now: now, seen: make(map[string]time.Time)}
}

var _ Deduper = (*MemoryDeduper)(nil)

func (d *MemoryDeduper) FirstSeen(_ context.Context, room domain.RoomID, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := d.now()
	if now.Sub(d.lastPrune) >= d.ttl {
		for k, exp := range d.seen {
			if now.After(exp) {
				delete(d.seen, k)
			}
		}
		d.lastPrune = now
	}
	key := string(room) + "/" + eventID
	if exp, ok := d.seen[key]; ok && !now.After(exp) {
		return false, nil
	}
	d.seen[key] = now.Add(d.ttl)
	return true, nil
}

func (d *MemoryDeduper) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
