package app

import (
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
)

// SeatAction is what happens after a seat frees up.
type SeatAction int

const (
	NoAction SeatAction = iota
	PromoteNext
)

type Policy interface {
	OnSeatFreed(room core.RoomService) SeatAction
}

// SimplePolicy promotes the head of the queue in queue-mode rooms when
// AutoPromote is set. Free-mode seats are always self-service.
type SimplePolicy struct {
	AutoPromote bool
}

func (p SimplePolicy) OnSeatFreed(room core.RoomService) SeatAction {
	if p.AutoPromote && room.Policy().Mode == domain.SeatModeQueue {
		return PromoteNext
	}
	return NoAction
}
