package presence

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

const DefaultWorkers = 8

type Options struct {
	Dedup   Deduper
	Pub     core.Publisher
	Now     core.Clock
	Workers int
}

// Scorer keeps RoomLiveStats per room. Events of one room are applied in
// arrival order under that room's lock; rooms are independent.
type Scorer struct {
	mu      sync.RWMutex
	rooms   map[domain.RoomID]*roomStats
	dedup   Deduper
	pub     core.Publisher
	now     core.Clock
	workers int
}

type roomStats struct {
	mu    sync.Mutex
	stats domain.RoomLiveStats
}

func NewScorer(opts Options) *Scorer {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Dedup == nil {
		opts.Dedup = NewMemoryDeduper(DefaultDedupTTL, opts.Now)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	return &Scorer{
		rooms:   make(map[domain.RoomID]*roomStats),
		dedup:   opts.Dedup,
		pub:     opts.Pub,
		now:     opts.Now,
		workers: opts.Workers,
	}
}

// Apply folds one event into its room. It reports false for a redelivered
// event id, which is acknowledged without being counted again.
func (s *Scorer) Apply(ctx context.Context, ev Event) (bool, error) {
	if err := ev.Validate(); err != nil {
		return false, err
	}
	rs := s.entry(ev.RoomID)
	rs.mu.Lock()
	defer rs.mu.Unlock()

	first, err := s.dedup.FirstSeen(ctx, ev.RoomID, ev.EventID)
	if err != nil {
		return false, fmt.Errorf("dedup %s: %w: %w", ev.EventID, domain.ErrNetwork, err)
	}
	if !first {
		log.Debug().Str("module", "presence").Str("room", string(ev.RoomID)).Str("event_id", ev.EventID).Msg("duplicate event dropped")
		return false, nil
	}

	st := &rs.stats
	switch ev.Type {
	case RoomStarted:
		st.IsLive = true
	case RoomEnded:
		st.IsLive = false
		st.ListenerCount = 0
		st.SpeakerCount = 0
	case PeerJoined:
		st.IsLive = true
		if ev.Peer.Speaker() {
			st.SpeakerCount++
		} else {
			st.ListenerCount++
		}
	case PeerLeft:
		if ev.Peer.Speaker() {
			st.SpeakerCount = max(st.SpeakerCount-1, 0)
		} else {
			st.ListenerCount = max(st.ListenerCount-1, 0)
		}
	case TrackUpdated:
	default:
		return false, fmt.Errorf("event type %q: %w", ev.Type, ErrMalformed)
	}
	now := s.now()
	st.LastActiveAt = now
	st.TrendingScore = ScoreAt(*st, now)
	s.publish(*st)
	log.Debug().Str("module", "presence").Str("room", string(ev.RoomID)).Str("event", string(ev.Type)).
		Int("listeners", st.ListenerCount).Int("speakers", st.SpeakerCount).Float64("score", st.TrendingScore).Msg("event applied")
	return true, nil
}

// Outcome is the per-event result of ApplyBatch.
type Outcome struct {
	EventID string `json:"event_id"`
	Applied bool   `json:"applied"`
	Err     error  `json:"-"`
}

// ApplyBatch applies events grouped by room: sequentially within a room,
// concurrently across rooms. Outcomes keep the input order.
func (s *Scorer) ApplyBatch(ctx context.Context, events []Event) []Outcome {
	out := make([]Outcome, len(events))
	groups := make(map[domain.RoomID][]int)
	var order []domain.RoomID
	for i, ev := range events {
		out[i].EventID = ev.EventID
		if _, ok := groups[ev.RoomID]; !ok {
			order = append(order, ev.RoomID)
		}
		groups[ev.RoomID] = append(groups[ev.RoomID], i)
	}

	p := pool.New().WithMaxGoroutines(s.workers)
	for _, room := range order {
		idx := groups[room]
		p.Go(func() {
			for _, i := range idx {
				out[i].Applied, out[i].Err = s.Apply(ctx, events[i])
			}
		})
	}
	p.Wait()
	return out
}

// SetFeatured flips the featured flag. It is not activity, so
// last_active_at is left alone.
func (s *Scorer) SetFeatured(room domain.RoomID, featured bool) domain.RoomLiveStats {
	rs := s.entry(room)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.stats.Featured = featured
	rs.stats.TrendingScore = ScoreAt(rs.stats, s.now())
	s.publish(rs.stats)
	return rs.stats
}

// Stats returns the stats of room with the score decayed to now.
func (s *Scorer) Stats(room domain.RoomID) (domain.RoomLiveStats, bool) {
	s.mu.RLock()
	rs, ok := s.rooms[room]
	s.mu.RUnlock()
	if !ok {
		return domain.RoomLiveStats{}, false
	}
	rs.mu.Lock()
	st := rs.stats
	rs.mu.Unlock()
	st.TrendingScore = ScoreAt(st, s.now())
	return st, true
}

// Explore ranks live rooms, scoring each at read time.
func (s *Scorer) Explore(key SortKey, limit int) []domain.RoomLiveStats {
	now := s.now()
	out := make([]domain.RoomLiveStats, 0)
	for _, rs := range s.entries() {
		rs.mu.Lock()
		st := rs.stats
		rs.mu.Unlock()
		if !st.IsLive {
			continue
		}
		st.TrendingScore = ScoreAt(st, now)
		out = append(out, st)
	}
	slices.SortStableFunc(out, compareFor(key))
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Rescore refreshes stored scores of rooms that saw no event for a while
// and publishes the ones that moved.
func (s *Scorer) Rescore() int {
	now := s.now()
	n := 0
	for _, rs := range s.entries() {
		rs.mu.Lock()
		score := ScoreAt(rs.stats, now)
		if math.Abs(score-rs.stats.TrendingScore) > 1e-9 {
			rs.stats.TrendingScore = score
			s.publish(rs.stats)
			n++
		}
		rs.mu.Unlock()
	}
	return n
}

// Prune forgets ended, unfeatured rooms idle since before cutoff.
func (s *Scorer) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, rs := range s.rooms {
		rs.mu.Lock()
		drop := !rs.stats.IsLive && !rs.stats.Featured && rs.stats.LastActiveAt.Before(cutoff)
		rs.mu.Unlock()
		if drop {
			delete(s.rooms, id)
			n++
		}
	}
	return n
}

// Seed is the stats row to preload into a freshly opened room channel.
func (s *Scorer) Seed(room domain.RoomID) []domain.Change {
	st, ok := s.Stats(room)
	if !ok {
		return nil
	}
	return []domain.Change{domain.StatsChange(st)}
}

func (s *Scorer) entry(room domain.RoomID) *roomStats {
	s.mu.RLock()
	rs, ok := s.rooms[room]
	s.mu.RUnlock()
	if ok {
		return rs
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if rs, ok = s.rooms[room]; ok {
		return rs
	}
	rs = &roomStats{stats: domain.RoomLiveStats{RoomID: room}}
	s.rooms[room] = rs
	return rs
}

func (s *Scorer) entries() []*roomStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*roomStats, 0, len(s.rooms))
	for _, rs := range s.rooms {
		out = append(out, rs)
	}
	return out
}

func (s *Scorer) publish(st domain.RoomLiveStats) {
	if s.pub != nil {
		s.pub.Publish(st.RoomID, domain.StatsChange(st))
	}
}
