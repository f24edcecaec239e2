package presence

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type statsPub struct {
	mu  sync.Mutex
	got []domain.Change
}

func (p *statsPub) Publish(_ domain.RoomID, ch domain.Change) {
	p.mu.Lock()
	p.got = append(p.got, ch)
	p.mu.Unlock()
}

func (p *statsPub) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

type brokenDedup struct{}

func (brokenDedup) FirstSeen(context.Context, domain.RoomID, string) (bool, error) {
	return false, errors.New("connection refused")
}

var evSeq int

func peerEvent(t EventType, room domain.RoomID, user, role string) Event {
	evSeq++
	return Event{Type: t, RoomID: room, Peer: &Peer{ID: domain.UserID(user), Role: role}, EventID: fmt.Sprintf("ev-%d", evSeq)}
}

func roomEvent(t EventType, room domain.RoomID) Event {
	evSeq++
	return Event{Type: t, RoomID: room, EventID: fmt.Sprintf("ev-%d", evSeq)}
}

func mustApply(t *testing.T, s *Scorer, ev Event) {
	t.Helper()
	if _, err := s.Apply(context.Background(), ev); err != nil {
		t.Fatalf("Apply(%s): %v", ev.Type, err)
	}
}

func fill(t *testing.T, s *Scorer, room domain.RoomID, listeners, speakers int) {
	t.Helper()
	for i := range listeners {
		mustApply(t, s, peerEvent(PeerJoined, room, fmt.Sprintf("l%d", i), "listener"))
	}
	for i := range speakers {
		mustApply(t, s, peerEvent(PeerJoined, room, fmt.Sprintf("s%d", i), SpeakerRole))
	}
}

func TestScoreHalvesAfterHalfLife(t *testing.T) {
	clock := newFakeClock()
	s := NewScorer(Options{Now: clock.Now})
	fill(t, s, "r", 10, 2)

	st, _ := s.Stats("r")
	if st.TrendingScore != 16 {
		t.Fatalf("initial score = %v, want 16", st.TrendingScore)
	}
	clock.Advance(HalfLife)
	st, _ = s.Stats("r")
	if math.Abs(st.TrendingScore-8) > 1e-9 {
		t.Errorf("score after half-life = %v, want 8", st.TrendingScore)
	}
	clock.Advance(HalfLife)
	if got := s.Explore(SortTrending, 0)[0].TrendingScore; math.Abs(got-4) > 1e-9 {
		t.Errorf("explore score after two half-lives = %v, want 4", got)
	}
}

func TestDecayNeverExceedsOne(t *testing.T) {
	for _, d := range []time.Duration{-time.Hour, 0, time.Minute, 48 * time.Hour} {
		if got := Decay(d); got > 1 || got < 0 {
			t.Errorf("Decay(%v) = %v", d, got)
		}
	}
}

func TestRedeliveredEventCountedOnce(t *testing.T) {
	s := NewScorer(Options{Now: newFakeClock().Now})
	ev := peerEvent(PeerJoined, "r", "u1", "listener")

	for i, want := range []bool{true, false, false} {
		applied, err := s.Apply(context.Background(), ev)
		if err != nil || applied != want {
			t.Fatalf("delivery %d: applied=%v err=%v, want %v", i, applied, err, want)
		}
	}
	if st, _ := s.Stats("r"); st.ListenerCount != 1 {
		t.Errorf("listeners = %d, want 1", st.ListenerCount)
	}
}

func TestCountersFollowLifecycle(t *testing.T) {
	s := NewScorer(Options{Now: newFakeClock().Now})
	mustApply(t, s, roomEvent(RoomStarted, "r"))
	fill(t, s, "r", 3, 2)
	mustApply(t, s, peerEvent(PeerLeft, "r", "s0", SpeakerRole))
	mustApply(t, s, peerEvent(PeerLeft, "r", "l0", "listener"))

	st, _ := s.Stats("r")
	if !st.IsLive || st.ListenerCount != 2 || st.SpeakerCount != 1 {
		t.Fatalf("stats = %+v", st)
	}

	mustApply(t, s, roomEvent(RoomEnded, "r"))
	st, _ = s.Stats("r")
	if st.IsLive || st.ListenerCount != 0 || st.SpeakerCount != 0 || st.TrendingScore != 0 {
		t.Errorf("after room.ended = %+v", st)
	}

	// late leave after the end must not go negative
	mustApply(t, s, peerEvent(PeerLeft, "r", "l1", "listener"))
	if st, _ = s.Stats("r"); st.ListenerCount != 0 {
		t.Errorf("listeners = %d, want 0", st.ListenerCount)
	}
}

func TestApplyRejectsMalformedEvents(t *testing.T) {
	s := NewScorer(Options{})
	cases := []Event{
		{Type: "room.paused", RoomID: "r", EventID: "x"},
		{Type: PeerJoined, RoomID: "r", EventID: "x"},
		{Type: RoomStarted, EventID: "x"},
		{Type: RoomStarted, RoomID: "r"},
	}
	for _, ev := range cases {
		if _, err := s.Apply(context.Background(), ev); !errors.Is(err, ErrMalformed) {
			t.Errorf("Apply(%+v) err = %v, want ErrMalformed", ev, err)
		}
	}
}

func TestDedupFailureIsNetworkError(t *testing.T) {
	s := NewScorer(Options{Dedup: brokenDedup{}})
	_, err := s.Apply(context.Background(), roomEvent(RoomStarted, "r"))
	if !errors.Is(err, domain.ErrNetwork) || !domain.Retryable(err) {
		t.Errorf("err = %v, want retryable network error", err)
	}
	if st, _ := s.Stats("r"); st.IsLive {
		t.Error("room marked live despite failed dedup")
	}
}

func TestExploreOrderings(t *testing.T) {
	clock := newFakeClock()
	s := NewScorer(Options{Now: clock.Now})

	fill(t, s, "big", 9, 0) // 9
	clock.Advance(time.Minute)
	fill(t, s, "mid", 2, 2) // 8
	clock.Advance(time.Minute)
	fill(t, s, "small", 1, 0) // 1
	s.SetFeatured("small", true)
	mustApply(t, s, roomEvent(RoomStarted, "gone"))
	mustApply(t, s, roomEvent(RoomEnded, "gone"))

	ids := func(rows []domain.RoomLiveStats) []domain.RoomID {
		out := make([]domain.RoomID, len(rows))
		for i, r := range rows {
			out[i] = r.RoomID
		}
		return out
	}
	tests := []struct {
		key  SortKey
		want []domain.RoomID
	}{
		{SortTrending, []domain.RoomID{"big", "mid", "small"}},
		{SortFeatured, []domain.RoomID{"small", "big", "mid"}},
		{SortActive, []domain.RoomID{"big", "mid", "small"}},
	}
	for _, tt := range tests {
		got := ids(s.Explore(tt.key, 0))
		if fmt.Sprint(got) != fmt.Sprint(tt.want) {
			t.Errorf("Explore(%s) = %v, want %v", tt.key, got, tt.want)
		}
	}
	if got := s.Explore(SortTrending, 2); len(got) != 2 {
		t.Errorf("limit 2 returned %d rows", len(got))
	}
}

func TestActiveSortBreaksTiesByRecency(t *testing.T) {
	clock := newFakeClock()
	s := NewScorer(Options{Now: clock.Now})
	fill(t, s, "old", 2, 1)
	clock.Advance(time.Second)
	fill(t, s, "new", 2, 1)

	got := s.Explore(SortActive, 0)
	if got[0].RoomID != "new" || got[1].RoomID != "old" {
		t.Errorf("order = %s, %s", got[0].RoomID, got[1].RoomID)
	}
}

func TestSetFeaturedKeepsLastActive(t *testing.T) {
	clock := newFakeClock()
	pub := &statsPub{}
	s := NewScorer(Options{Now: clock.Now, Pub: pub})
	fill(t, s, "r", 1, 0)
	before, _ := s.Stats("r")

	clock.Advance(time.Hour)
	st := s.SetFeatured("r", true)
	if !st.Featured || !st.LastActiveAt.Equal(before.LastActiveAt) {
		t.Errorf("featured stats = %+v", st)
	}
	if pub.Len() != 2 {
		t.Errorf("published %d changes, want 2", pub.Len())
	}
}

func TestRescorePublishesMovedScores(t *testing.T) {
	clock := newFakeClock()
	pub := &statsPub{}
	s := NewScorer(Options{Now: clock.Now, Pub: pub})
	fill(t, s, "a", 2, 0)
	mustApply(t, s, roomEvent(RoomStarted, "empty"))
	published := pub.Len()

	clock.Advance(time.Hour)
	if n := s.Rescore(); n != 1 {
		t.Errorf("Rescore moved %d rooms, want 1", n)
	}
	if pub.Len() != published+1 {
		t.Errorf("published %d, want %d", pub.Len(), published+1)
	}
	if n := s.Rescore(); n != 0 {
		t.Errorf("second Rescore moved %d rooms", n)
	}
}

func TestPruneDropsEndedRooms(t *testing.T) {
	clock := newFakeClock()
	s := NewScorer(Options{Now: clock.Now})
	mustApply(t, s, roomEvent(RoomStarted, "live"))
	mustApply(t, s, roomEvent(RoomEnded, "ended"))
	mustApply(t, s, roomEvent(RoomEnded, "feat"))
	s.SetFeatured("feat", true)

	clock.Advance(time.Hour)
	if n := s.Prune(clock.Now()); n != 1 {
		t.Errorf("pruned %d, want 1", n)
	}
	if _, ok := s.Stats("ended"); ok {
		t.Error("ended room still tracked")
	}
	if _, ok := s.Stats("live"); !ok {
		t.Error("live room pruned")
	}
}

func TestApplyBatchKeepsPerRoomOrder(t *testing.T) {
	s := NewScorer(Options{Now: newFakeClock().Now, Workers: 4})
	var evs []Event
	for r := range 8 {
		room := domain.RoomID(fmt.Sprintf("r%d", r))
		evs = append(evs, roomEvent(RoomStarted, room))
		for i := range 5 {
			evs = append(evs, peerEvent(PeerJoined, room, fmt.Sprintf("u%d", i), "listener"))
		}
		evs = append(evs, peerEvent(PeerLeft, room, "u0", "listener"))
	}
	evs = append(evs, evs[1])

	out := s.ApplyBatch(context.Background(), evs)
	if len(out) != len(evs) {
		t.Fatalf("outcomes = %d, want %d", len(out), len(evs))
	}
	for i, o := range out[:len(out)-1] {
		if o.Err != nil || !o.Applied || o.EventID != evs[i].EventID {
			t.Errorf("outcome %d = %+v", i, o)
		}
	}
	if last := out[len(out)-1]; last.Applied {
		t.Error("duplicate in batch applied twice")
	}
	for r := range 8 {
		st, _ := s.Stats(domain.RoomID(fmt.Sprintf("r%d", r)))
		if st.ListenerCount != 4 || !st.IsLive {
			t.Errorf("room r%d = %+v", r, st)
		}
	}
}

func TestParseSort(t *testing.T) {
	if k, err := ParseSort(""); err != nil || k != SortTrending {
		t.Errorf("ParseSort(\"\") = %v, %v", k, err)
	}
	if _, err := ParseSort("newest"); !errors.Is(err, ErrMalformed) {
		t.Errorf("ParseSort(newest) err = %v", err)
	}
}

func TestLateEventCountsAsActivityNow(t *testing.T) {
	clock := newFakeClock()
	s := NewScorer(Options{Now: clock.Now})
	ev := peerEvent(PeerJoined, "r", "u", SpeakerRole)
	ev.Timestamp = clock.Now().Add(-HalfLife)
	mustApply(t, s, ev)

	st, _ := s.Stats("r")
	if !st.LastActiveAt.Equal(clock.Now()) {
		t.Errorf("last_active_at = %v, want %v", st.LastActiveAt, clock.Now())
	}
	if math.Abs(st.TrendingScore-SpeakerWeight) > 1e-9 {
		t.Errorf("score = %v, want %v", st.TrendingScore, SpeakerWeight)
	}

	clock.Advance(time.Minute)
	future := roomEvent(TrackUpdated, "r")
	future.Timestamp = clock.Now().Add(time.Hour)
	mustApply(t, s, future)
	if st, _ = s.Stats("r"); !st.LastActiveAt.Equal(clock.Now()) {
		t.Errorf("last_active_at = %v, want %v", st.LastActiveAt, clock.Now())
	}
}
