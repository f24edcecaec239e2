package orch

import (
	"context"

	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

// HandleEvent scores one provider event and mirrors it on the roster.
// A redelivered event reports applied=false and has no effect.
func (o *Orchestrator) HandleEvent(ctx context.Context, ev presence.Event) (bool, error) {
	applied, err := o.Scorer.Apply(ctx, ev)
	if err != nil || !applied {
		return applied, err
	}
	o.mirror(ctx, ev)
	return true, nil
}

// HandleBatch scores events across rooms in parallel, then mirrors the
// applied ones on the roster in input order.
func (o *Orchestrator) HandleBatch(ctx context.Context, events []presence.Event) []presence.Outcome {
	out := o.Scorer.ApplyBatch(ctx, events)
	for i, res := range out {
		if res.Applied {
			o.mirror(ctx, events[i])
		}
	}
	return out
}

// mirror applies the roster side of an event. Failures are logged: the
// event is already counted and a retry would be dropped as a duplicate.
func (o *Orchestrator) mirror(ctx context.Context, ev presence.Event) {
	var err error
	switch ev.Type {
	case presence.PeerJoined:
		var seat domain.ParticipantSeat
		seat, err = o.Rooms.GetOrCreate(ev.RoomID).Join(ctx, ev.Peer.ID)
		if err == nil && ev.Peer.Speaker() && !seat.Speaking() {
			// Seats are only granted through admission; the provider role is
			// counted by the scorer but not copied onto the roster.
			log.Warn().Str("module", "orch").Str("room", string(ev.RoomID)).Str("user", string(ev.Peer.ID)).Str("event_id", ev.EventID).Msg("provider speaker not seated in roster")
		}
	case presence.PeerLeft:
		err = o.Leave(ctx, ev.RoomID, ev.Peer.ID)
	case presence.RoomEnded:
		if r, ok := o.Rooms.Get(ev.RoomID); ok {
			r.Evict(ctx)
		}
	case presence.RoomStarted:
		o.Rooms.GetOrCreate(ev.RoomID)
	case presence.TrackUpdated:
	}
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("room", string(ev.RoomID)).Str("event", string(ev.Type)).Str("event_id", ev.EventID).Msg("roster update failed")
	}
}
