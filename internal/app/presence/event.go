// Package presence turns voice-provider lifecycle events into per-room
// live counters and a decaying trending score.
package presence

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

type EventType string

const (
	RoomStarted  EventType = "room.started"
	RoomEnded    EventType = "room.ended"
	PeerJoined   EventType = "peer.joined"
	PeerLeft     EventType = "peer.left"
	TrackUpdated EventType = "track.updated"
)

// SpeakerRole is the provider role counted as a speaker; any other role
// counts as a listener.
const SpeakerRole = "speaker"

var ErrMalformed = errors.New("malformed event")

type Peer struct {
	ID   domain.UserID `json:"id"`
	Role string        `json:"role"`
}

func (p *Peer) Speaker() bool { return p != nil && p.Role == SpeakerRole }

type Event struct {
	Type      EventType     `json:"event"`
	RoomID    domain.RoomID `json:"room_id"`
	Peer      *Peer         `json:"peer,omitempty"`
	EventID   string        `json:"event_id"`
	Timestamp time.Time     `json:"timestamp"`
}

func (e Event) Validate() error {
	switch e.Type {
	case RoomStarted, RoomEnded, TrackUpdated:
	case PeerJoined, PeerLeft:
		if e.Peer == nil || e.Peer.ID == "" {
			return fmt.Errorf("%s without peer: %w", e.Type, ErrMalformed)
		}
	default:
		return fmt.Errorf("event type %q: %w", e.Type, ErrMalformed)
	}
	if e.RoomID == "" {
		return fmt.Errorf("%s without room_id: %w", e.Type, ErrMalformed)
	}
	if e.EventID == "" {
		return fmt.Errorf("%s without event_id: %w", e.Type, ErrMalformed)
	}
	return nil
}
