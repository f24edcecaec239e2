// Package orch ties room units, the presence scorer and the fan-out hub
// together behind the control API.
package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicestage/internal/app"
	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomFactory
	Policy   app.Policy
	Hub      *fanout.Hub
	Scorer   *presence.Scorer

	// History serves request history when set; otherwise the room's own
	// ledger answers.
	History core.HistoryReader
}

// Subscribe attaches handler to the room channel, creating the room unit
// so its channel is seeded.
func (o *Orchestrator) Subscribe(room domain.RoomID, handler fanout.Handler) func() {
	o.Rooms.GetOrCreate(room)
	return o.Hub.Subscribe(room, handler)
}

// Stats returns the live stats of room; a room never seen yields zero
// stats rather than an error.
func (o *Orchestrator) Stats(room domain.RoomID) domain.RoomLiveStats {
	st, ok := o.Scorer.Stats(room)
	if !ok {
		return domain.RoomLiveStats{RoomID: room}
	}
	return st
}

func (o *Orchestrator) Explore(sort presence.SortKey, limit int) []domain.RoomLiveStats {
	return o.Scorer.Explore(sort, limit)
}

func (o *Orchestrator) SetFeatured(_ context.Context, room domain.RoomID, admin domain.UserID, featured bool) (domain.RoomLiveStats, error) {
	if admin == "" {
		return domain.RoomLiveStats{}, domain.ErrAuth
	}
	if !o.isModerator(room, admin) {
		return domain.RoomLiveStats{}, fmt.Errorf("%s in room %s: %w", admin, room, domain.ErrForbidden)
	}
	st := o.Scorer.SetFeatured(room, featured)
	log.Info().Str("module", "orch").Str("room", string(room)).Str("admin", string(admin)).Bool("featured", featured).Msg("featured updated")
	return st, nil
}

func (o *Orchestrator) ListRooms() []core.RoomInfo {
	return o.Rooms.List()
}

func (o *Orchestrator) room(id domain.RoomID) (core.RoomService, error) {
	r, ok := o.Rooms.Get(id)
	if !ok {
		return nil, fmt.Errorf("room %s: %w", id, domain.ErrNotFound)
	}
	return r, nil
}

func (o *Orchestrator) isModerator(id domain.RoomID, user domain.UserID) bool {
	r := o.Rooms.GetOrCreate(id)
	if r.Policy().IsModerator(user) {
		return true
	}
	for _, s := range r.Seats() {
		if s.UserID == user {
			return s.Role == domain.RoleModerator
		}
	}
	return false
}

// afterSeatFreed applies the promotion policy once a seat was released.
func (o *Orchestrator) afterSeatFreed(ctx context.Context, r core.RoomService) {
	if o.Policy == nil || o.Policy.OnSeatFreed(r) != app.PromoteNext {
		return
	}
	seat, ok, err := r.PromoteNext(ctx)
	switch {
	case err != nil:
		log.Error().Err(err).Str("module", "orch").Str("room", string(r.Room().ID)).Msg("auto promotion failed")
	case ok:
		log.Info().Str("module", "orch").Str("room", string(r.Room().ID)).Str("user", string(seat.UserID)).Msg("auto promoted")
	}
}
