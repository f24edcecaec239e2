package core

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

type fakeVip map[domain.UserID]int

func (f fakeVip) Get(_ context.Context, u domain.UserID) (domain.VipRank, bool, error) {
	p, ok := f[u]
	if !ok {
		return domain.VipRank{}, false, nil
	}
	return domain.VipRank{UserID: u, Priority: p, Name: "vip"}, true, nil
}

type recordingPub struct {
	mu      sync.Mutex
	changes []domain.Change
}

func (p *recordingPub) Publish(_ domain.RoomID, ch domain.Change) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.changes = append(p.changes, ch)
}

func (p *recordingPub) count(kind domain.ChangeKind) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

type recordingHistory struct {
	mu   sync.Mutex
	reqs []domain.MicRequest
}

func (h *recordingHistory) Record(r domain.MicRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.reqs = append(h.reqs, r)
}

// stepClock advances by one second on every read.
func stepClock() Clock {
	var mu sync.Mutex
	t := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

const (
	mod  domain.UserID = "mod"
	room domain.RoomID = "r1"
)

func newTestRoom(t *testing.T, policy domain.RoomSeatPolicy, deps RoomDeps) RoomService {
	t.Helper()
	if len(policy.Moderators) == 0 {
		policy.Moderators = []domain.UserID{mod}
	}
	if deps.Now == nil {
		deps.Now = stepClock()
	}
	return NewRoomService(&domain.Room{ID: room}, policy, deps)
}

func mustJoin(t *testing.T, r RoomService, users ...domain.UserID) {
	t.Helper()
	for _, u := range users {
		if _, err := r.Join(context.Background(), u); err != nil {
			t.Fatalf("Join(%s): %v", u, err)
		}
	}
}

func seatOf(t *testing.T, r RoomService, u domain.UserID) domain.ParticipantSeat {
	t.Helper()
	for _, s := range r.Seats() {
		if s.UserID == u {
			return s
		}
	}
	t.Fatalf("no seat for %s", u)
	return domain.ParticipantSeat{}
}
