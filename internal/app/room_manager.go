package app

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

const reconcileTimeout = 3 * time.Second

// PolicySource resolves the static seat policy of a room.
type PolicySource func(domain.RoomID) domain.RoomSeatPolicy

type ManagerOptions struct {
	Deps       core.RoomDeps
	Policies   PolicySource
	Hub        *fanout.Hub
	Scorer     *presence.Scorer
	IdleTTL    time.Duration
	PendingTTL time.Duration

	// StatsRetention is how long ended rooms keep their stats; 0 keeps them.
	StatsRetention time.Duration
	// RescoreEvery spaces out trending refreshes; 0 rescores on every sweep.
	RescoreEvery time.Duration
}

type RoomManagerImpl struct {
	mu          sync.RWMutex
	rooms       map[domain.RoomID]*roomEntry
	opts        ManagerOptions
	lastRescore time.Time
}

type roomEntry struct {
	svc       core.RoomService
	idleSince time.Time
}

func NewRoomManager(opts ManagerOptions) *RoomManagerImpl {
	if opts.Policies == nil {
		opts.Policies = func(domain.RoomID) domain.RoomSeatPolicy { return domain.DefaultPolicy() }
	}
	if opts.Deps.Now == nil {
		opts.Deps.Now = time.Now
	}
	if opts.Deps.Gate == nil {
		opts.Deps.Gate = core.NewMemoryGate()
	}
	if opts.Deps.IDs == nil {
		opts.Deps.IDs = core.NewSequence(0)
	}
	if opts.Hub != nil && opts.Deps.Pub == nil {
		opts.Deps.Pub = opts.Hub
	}
	return &RoomManagerImpl{rooms: make(map[domain.RoomID]*roomEntry), opts: opts}
}

var _ core.RoomFactory = (*RoomManagerImpl)(nil)

// GetOrCreate returns the room unit, creating it and opening its fan-out
// channel seeded with the current live stats on first use. A new unit
// reconciles the seat gate against its empty roster.
func (f *RoomManagerImpl) GetOrCreate(id domain.RoomID) core.RoomService {
	f.mu.RLock()
	e, ok := f.rooms[id]
	f.mu.RUnlock()
	if ok {
		return e.svc
	}
	svc, created := f.create(id)
	if created {
		ctx, cancel := context.WithTimeout(context.Background(), reconcileTimeout)
		defer cancel()
		if err := svc.Reconcile(ctx); err != nil {
			log.Error().Err(err).Str("module", "app.rooms").Str("room", string(id)).Msg("seat gate reconcile failed")
		}
	}
	return svc
}

func (f *RoomManagerImpl) create(id domain.RoomID) (core.RoomService, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.rooms[id]; ok {
		return e.svc, false
	}
	svc := core.NewRoomService(&domain.Room{ID: id}, f.opts.Policies(id), f.opts.Deps)
	f.rooms[id] = &roomEntry{svc: svc}
	if f.opts.Hub != nil {
		var seed []domain.Change
		if f.opts.Scorer != nil {
			seed = f.opts.Scorer.Seed(id)
		}
		f.opts.Hub.Open(id, seed...)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room created")
	return svc, true
}

func (f *RoomManagerImpl) Get(id domain.RoomID) (core.RoomService, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	e, ok := f.rooms[id]
	if !ok {
		return nil, false
	}
	return e.svc, true
}

func (f *RoomManagerImpl) List() []core.RoomInfo {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]core.RoomInfo, 0, len(f.rooms))
	for id, e := range f.rooms {
		p := e.svc.Policy()
		out = append(out, core.RoomInfo{
			ID:           id,
			MemberCount:  e.svc.MemberCount(),
			SpeakerCount: e.svc.SpeakerCount(),
			MaxSpeakers:  p.MaxSpeakers,
			Mode:         p.Mode,
		})
	}
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.ID), string(b.ID)) })
	return out
}

// StopRoom evicts the roster and forgets the room. Subscribers stay
// attached to the channel and see the roster empty out.
func (f *RoomManagerImpl) StopRoom(ctx context.Context, id domain.RoomID) bool {
	f.mu.Lock()
	e, ok := f.rooms[id]
	if ok {
		delete(f.rooms, id)
	}
	f.mu.Unlock()
	if !ok {
		return false
	}
	e.svc.Evict(ctx)
	if f.opts.Hub != nil {
		f.opts.Hub.Close(id)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("room stopped")
	return true
}

// SweepResult counts what one Sweep pass did.
type SweepResult struct {
	Expired  int
	Removed  int
	Rescored int
	Pruned   int
}

// Sweep expires stale pending requests and tears down rooms that have had
// no members and no subscribers for the idle TTL.
func (f *RoomManagerImpl) Sweep(ctx context.Context) SweepResult {
	now := f.opts.Deps.Now()
	var res SweepResult

	if f.opts.PendingTTL > 0 {
		cutoff := now.Add(-f.opts.PendingTTL)
		f.mu.RLock()
		svcs := make([]core.RoomService, 0, len(f.rooms))
		for _, e := range f.rooms {
			svcs = append(svcs, e.svc)
		}
		f.mu.RUnlock()
		for _, svc := range svcs {
			res.Expired += svc.ExpirePending(ctx, cutoff)
		}
	}

	f.mu.Lock()
	for id, e := range f.rooms {
		if e.svc.MemberCount() > 0 || f.subscribers(id) > 0 {
			e.idleSince = time.Time{}
			continue
		}
		if e.idleSince.IsZero() {
			e.idleSince = now
		}
		if now.Sub(e.idleSince) < f.opts.IdleTTL {
			continue
		}
		if f.opts.Hub != nil && !f.opts.Hub.Close(id) {
			continue
		}
		delete(f.rooms, id)
		res.Removed++
		log.Info().Str("module", "app.rooms").Str("room", string(id)).Msg("idle room removed")
	}
	rescore := now.Sub(f.lastRescore) >= f.opts.RescoreEvery
	if rescore {
		f.lastRescore = now
	}
	f.mu.Unlock()

	if f.opts.Scorer != nil {
		if rescore {
			res.Rescored = f.opts.Scorer.Rescore()
		}
		if f.opts.StatsRetention > 0 {
			res.Pruned = f.opts.Scorer.Prune(now.Add(-f.opts.StatsRetention))
		}
	}
	return res
}

// Run sweeps every interval until ctx is done.
func (f *RoomManagerImpl) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			res := f.Sweep(ctx)
			if res.Expired+res.Removed > 0 {
				log.Debug().Str("module", "app.rooms").Int("expired", res.Expired).Int("removed", res.Removed).Int("rescored", res.Rescored).Msg("sweep")
			}
		}
	}
}

func (f *RoomManagerImpl) subscribers(id domain.RoomID) int {
	if f.opts.Hub == nil {
		return 0
	}
	return f.opts.Hub.SubscriberCount(id)
}
