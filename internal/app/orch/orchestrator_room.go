package orch

import (
	"context"
	"fmt"

	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

func (o *Orchestrator) Join(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.ParticipantSeat, error) {
	if user == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	return o.Rooms.GetOrCreate(room).Join(ctx, user)
}

// Leave drops user from room and lets the promotion policy refill a seat
// the user held.
func (o *Orchestrator) Leave(ctx context.Context, room domain.RoomID, user domain.UserID) error {
	if user == "" {
		return domain.ErrAuth
	}
	r, ok := o.Rooms.Get(room)
	if !ok {
		return nil
	}
	held := speaking(r, user)
	if err := r.Leave(ctx, user); err != nil {
		return err
	}
	if held {
		o.afterSeatFreed(ctx, r)
	}
	return nil
}

func (o *Orchestrator) RaiseHand(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.MicRequest, error) {
	if user == "" {
		return domain.MicRequest{}, domain.ErrAuth
	}
	r, err := o.room(room)
	if err != nil {
		return domain.MicRequest{}, err
	}
	return r.RaiseHand(ctx, user)
}

func (o *Orchestrator) CancelHand(ctx context.Context, room domain.RoomID, user domain.UserID) (*domain.MicRequest, error) {
	if user == "" {
		return nil, domain.ErrAuth
	}
	r, ok := o.Rooms.Get(room)
	if !ok {
		return nil, nil
	}
	return r.CancelHand(ctx, user)
}

func (o *Orchestrator) Approve(ctx context.Context, room domain.RoomID, user, admin domain.UserID) (domain.ParticipantSeat, error) {
	if admin == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	r, err := o.room(room)
	if err != nil {
		return domain.ParticipantSeat{}, err
	}
	seat, err := r.Approve(ctx, user, admin)
	logDecision("approve", room, user, admin, err)
	return seat, err
}

func (o *Orchestrator) Deny(ctx context.Context, room domain.RoomID, user, admin domain.UserID) (domain.MicRequest, error) {
	if admin == "" {
		return domain.MicRequest{}, domain.ErrAuth
	}
	r, err := o.room(room)
	if err != nil {
		return domain.MicRequest{}, err
	}
	req, err := r.Deny(ctx, user, admin)
	logDecision("deny", room, user, admin, err)
	return req, err
}

func (o *Orchestrator) TakeSeat(ctx context.Context, room domain.RoomID, user domain.UserID) (domain.ParticipantSeat, error) {
	if user == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	r, err := o.room(room)
	if err != nil {
		return domain.ParticipantSeat{}, err
	}
	return r.TakeSeat(ctx, user)
}

func (o *Orchestrator) Revoke(ctx context.Context, room domain.RoomID, user, admin domain.UserID) (domain.ParticipantSeat, error) {
	if admin == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	r, err := o.room(room)
	if err != nil {
		return domain.ParticipantSeat{}, err
	}
	seat, err := r.Revoke(ctx, user, admin)
	logDecision("revoke", room, user, admin, err)
	if err == nil {
		o.afterSeatFreed(ctx, r)
	}
	return seat, err
}

// Queue lists pending requests in serving order.
func (o *Orchestrator) Queue(ctx context.Context, room domain.RoomID) ([]core.QueueEntry, error) {
	r, err := o.room(room)
	if err != nil {
		return nil, err
	}
	return r.PendingOrdered(ctx), nil
}

func (o *Orchestrator) Seats(room domain.RoomID) ([]domain.ParticipantSeat, error) {
	r, err := o.room(room)
	if err != nil {
		return nil, err
	}
	return r.Seats(), nil
}

const DefaultHistoryLimit = 50

// RequestHistory lists the latest mic requests of user in room, oldest
// first. The user and the room's moderators may read it.
func (o *Orchestrator) RequestHistory(ctx context.Context, room domain.RoomID, user, caller domain.UserID, limit int) ([]domain.MicRequest, error) {
	if caller == "" {
		return nil, domain.ErrAuth
	}
	if caller != user && !o.isModerator(room, caller) {
		return nil, fmt.Errorf("history of %s in room %s: %w", user, room, domain.ErrForbidden)
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if o.History != nil {
		return o.History.ByUser(ctx, room, user, limit)
	}
	r, err := o.room(room)
	if err != nil {
		return nil, err
	}
	reqs := r.Requests(user)
	if len(reqs) > limit {
		reqs = reqs[len(reqs)-limit:]
	}
	return reqs, nil
}

func speaking(r core.RoomService, user domain.UserID) bool {
	for _, s := range r.Seats() {
		if s.UserID == user {
			return s.Speaking()
		}
	}
	return false
}

func logDecision(op string, room domain.RoomID, user, admin domain.UserID, err error) {
	ev := log.Info()
	if err != nil {
		ev = log.Warn().Err(err).Str("code", string(domain.CodeOf(err)))
	}
	ev.Str("module", "orch").Str("op", op).Str("room", string(room)).Str("user", string(user)).Str("admin", string(admin)).Msg("moderation")
}
