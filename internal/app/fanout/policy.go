package fanout

import (
	"fmt"

	"github.com/dkeye/voicestage/internal/domain"
)

type BackpressureAction int

const (
	// Resync drops what is queued and delivers a fresh snapshot instead.
	Resync BackpressureAction = iota
	DropUpdate
	Disconnect
)

func (a BackpressureAction) String() string {
	switch a {
	case Resync:
		return "resync"
	case DropUpdate:
		return "drop"
	case Disconnect:
		return "disconnect"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

func ParseAction(raw string) (BackpressureAction, error) {
	switch raw {
	case "", "resync":
		return Resync, nil
	case "drop":
		return DropUpdate, nil
	case "disconnect":
		return Disconnect, nil
	default:
		return 0, fmt.Errorf("unknown backpressure action %q", raw)
	}
}

// Policy decides what happens to a subscriber whose queue is full.
type Policy interface {
	OnBackpressure(room domain.RoomID, subscriber uint64) BackpressureAction
}

type SimplePolicy struct {
	Action BackpressureAction
}

func (p SimplePolicy) OnBackpressure(domain.RoomID, uint64) BackpressureAction {
	return p.Action
}
