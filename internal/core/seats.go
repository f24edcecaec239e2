package core

import (
	"context"
	"sync"

	"github.com/dkeye/voicestage/internal/domain"
)

// MemoryGate is the in-process SeatGate. A single mutex makes each
// check-and-set atomic across every room of the process.
type MemoryGate struct {
	mu    sync.Mutex
	rooms map[domain.RoomID]map[domain.UserID]struct{}
}

func NewMemoryGate() *MemoryGate {
	return &MemoryGate{rooms: make(map[domain.RoomID]map[domain.UserID]struct{})}
}

var _ SeatGate = (*MemoryGate)(nil)

func (g *MemoryGate) TryAcquire(_ context.Context, room domain.RoomID, user domain.UserID, limit int) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	held := g.rooms[room]
	if _, ok := held[user]; ok {
		return true, nil
	}
	if len(held) >= limit {
		return false, nil
	}
	if held == nil {
		held = make(map[domain.UserID]struct{})
		g.rooms[room] = held
	}
	held[user] = struct{}{}
	return true, nil
}

func (g *MemoryGate) Release(_ context.Context, room domain.RoomID, user domain.UserID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if held, ok := g.rooms[room]; ok {
		delete(held, user)
		if len(held) == 0 {
			delete(g.rooms, room)
		}
	}
	return nil
}

func (g *MemoryGate) Count(_ context.Context, room domain.RoomID) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms[room]), nil
}

func (g *MemoryGate) Reset(_ context.Context, room domain.RoomID) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.rooms, room)
	return nil
}
