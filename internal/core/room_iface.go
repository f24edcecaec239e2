package core

import (
	"context"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

// QueueEntry is one pending request annotated with its VIP rank.
type QueueEntry struct {
	Request domain.MicRequest `json:"request"`
	Vip     domain.VipRank    `json:"vip"`
}

// RoomService is the core-facing API of a room. Every mutation of the
// roster, the ledger and the seat gate for one room is serialized here.
type RoomService interface {
	Room() *domain.Room
	Policy() domain.RoomSeatPolicy
	MemberCount() int
	SpeakerCount() int
	Seats() []domain.ParticipantSeat
	Requests(user domain.UserID) []domain.MicRequest

	Join(ctx context.Context, user domain.UserID) (domain.ParticipantSeat, error)
	Leave(ctx context.Context, user domain.UserID) error
	Evict(ctx context.Context) int

	RaiseHand(ctx context.Context, user domain.UserID) (domain.MicRequest, error)
	CancelHand(ctx context.Context, user domain.UserID) (*domain.MicRequest, error)
	Deny(ctx context.Context, user, admin domain.UserID) (domain.MicRequest, error)

	Approve(ctx context.Context, user, admin domain.UserID) (domain.ParticipantSeat, error)
	TakeSeat(ctx context.Context, user domain.UserID) (domain.ParticipantSeat, error)
	Revoke(ctx context.Context, user, admin domain.UserID) (domain.ParticipantSeat, error)
	PromoteNext(ctx context.Context) (domain.ParticipantSeat, bool, error)

	PendingOrdered(ctx context.Context) []QueueEntry
	ExpirePending(ctx context.Context, cutoff time.Time) int
	Reconcile(ctx context.Context) error
}

// RoomInfo is the listing view of a live room unit.
type RoomInfo struct {
	ID           domain.RoomID   `json:"id"`
	MemberCount  int             `json:"member_count"`
	SpeakerCount int             `json:"speaker_count"`
	MaxSpeakers  int             `json:"max_speakers"`
	Mode         domain.SeatMode `json:"mode"`
}

// RoomFactory owns the set of live room units.
type RoomFactory interface {
	GetOrCreate(id domain.RoomID) RoomService
	Get(id domain.RoomID) (RoomService, bool)
	List() []RoomInfo
	StopRoom(ctx context.Context, id domain.RoomID) bool
}
