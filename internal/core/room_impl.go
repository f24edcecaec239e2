package core

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

// RoomDeps are the collaborators shared by every room unit.
type RoomDeps struct {
	Gate    SeatGate
	History History
	Vip     VipLookup
	Pub     Publisher
	IDs     IDSource
	Now     Clock
}

// roomImpl is a threadsafe in-memory room: the single owner of its
// roster, its ledger and its share of the seat gate. It never touches
// transport resources.
type roomImpl struct {
	room   *domain.Room
	policy domain.RoomSeatPolicy
	deps   RoomDeps

	mu     sync.Mutex
	seats  map[domain.UserID]*domain.ParticipantSeat
	ledger *Ledger
}

func NewRoomService(room *domain.Room, policy domain.RoomSeatPolicy, deps RoomDeps) RoomService {
	if policy.MaxSpeakers <= 0 {
		policy.MaxSpeakers = domain.DefaultMaxSpeakers
	}
	if policy.Mode == "" {
		policy.Mode = domain.SeatModeQueue
	}
	if deps.Gate == nil {
		deps.Gate = NewMemoryGate()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.IDs == nil {
		deps.IDs = NewSequence(0)
	}
	return &roomImpl{
		room:   room,
		policy: policy,
		deps:   deps,
		seats:  make(map[domain.UserID]*domain.ParticipantSeat),
		ledger: NewLedger(room.ID, deps.IDs),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) Policy() domain.RoomSeatPolicy { return r.policy }

func (r *roomImpl) MemberCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.seats)
}

func (r *roomImpl) SpeakerCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.speakingLocked()
}

func (r *roomImpl) Seats() []domain.ParticipantSeat {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ParticipantSeat, 0, len(r.seats))
	for _, s := range r.seats {
		out = append(out, *s)
	}
	slices.SortFunc(out, func(a, b domain.ParticipantSeat) int {
		return strings.Compare(string(a.UserID), string(b.UserID))
	})
	return out
}

func (r *roomImpl) Requests(user domain.UserID) []domain.MicRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ledger.History(user)
}

func (r *roomImpl) Join(_ context.Context, user domain.UserID) (domain.ParticipantSeat, error) {
	if user == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.seats[user]; ok {
		return *s, nil
	}
	role := domain.RoleListener
	if r.policy.IsModerator(user) {
		role = domain.RoleModerator
	}
	s := domain.NewSeat(r.room.ID, user, role)
	r.seats[user] = s
	r.publishSeat(s)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Str("role", string(role)).Msg("member joined")
	return *s, nil
}

// Leave drops the member and cleans up whatever it still holds: a pending
// request is cancelled and a granted seat is released. When the gate cannot
// be reached nothing changes and the caller may retry.
func (r *roomImpl) Leave(ctx context.Context, user domain.UserID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.seats[user]
	if !ok {
		return nil
	}
	if s.Speaking() {
		if err := r.deps.Gate.Release(ctx, r.room.ID, user); err != nil {
			return networkErr("release seat on leave", err)
		}
	}
	if _, pending := r.ledger.Pending(user); pending {
		if req, err := r.ledger.Decide(user, domain.StatusCancelled, user, r.deps.Now()); err == nil {
			r.publishRequest(req)
		}
	}
	delete(r.seats, user)
	r.publish(domain.SeatRemoved(user))
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Msg("member left")
	return nil
}

// Evict empties the roster when the room ends. Gate failures are logged;
// the room's gate entry is reset afterwards either way.
func (r *roomImpl) Evict(ctx context.Context) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.deps.Now()
	n := 0
	for user := range r.seats {
		if _, pending := r.ledger.Pending(user); pending {
			if req, err := r.ledger.Decide(user, domain.StatusCancelled, domain.SystemUser, now); err == nil {
				r.publishRequest(req)
			}
		}
		delete(r.seats, user)
		r.publish(domain.SeatRemoved(user))
		n++
	}
	if err := r.deps.Gate.Reset(ctx, r.room.ID); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.room.ID)).Msg("gate reset failed")
	}
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Int("evicted", n).Msg("room evicted")
	return n
}

// Reconcile clears the gate entry of a unit that holds no seat. A unit
// rebuilt after a restart starts with an empty roster, so seats its
// predecessor left in a persistent gate are released here.
func (r *roomImpl) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.speakingLocked() > 0 {
		return nil
	}
	n, err := r.deps.Gate.Count(ctx, r.room.ID)
	if err != nil {
		return networkErr("count seats", err)
	}
	if n == 0 {
		return nil
	}
	if err := r.deps.Gate.Reset(ctx, r.room.ID); err != nil {
		return networkErr("reset seats", err)
	}
	log.Warn().Str("module", "core.room").Str("room", string(r.room.ID)).Int("stale", n).Msg("released seats not held by the roster")
	return nil
}

func (r *roomImpl) RaiseHand(_ context.Context, user domain.UserID) (domain.MicRequest, error) {
	if user == "" {
		return domain.MicRequest{}, domain.ErrAuth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, err := r.seatLocked(user)
	if err != nil {
		return domain.MicRequest{}, err
	}
	if s.Speaking() {
		return domain.MicRequest{}, fmt.Errorf("%s already holds a seat: %w", user, domain.ErrConflict)
	}
	if req, ok := r.ledger.Pending(user); ok {
		return *req, nil
	}
	req := r.ledger.Open(user, r.deps.Now())
	s.MicStatus = domain.MicRequested
	r.publishRequest(req)
	r.publishSeat(s)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Uint64("request", uint64(req.ID)).Msg("hand raised")
	return *req, nil
}

// CancelHand is a no-op returning nil when nothing is pending.
func (r *roomImpl) CancelHand(_ context.Context, user domain.UserID) (*domain.MicRequest, error) {
	if user == "" {
		return nil, domain.ErrAuth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ledger.Pending(user); !ok {
		return nil, nil
	}
	req, err := r.ledger.Decide(user, domain.StatusCancelled, user, r.deps.Now())
	if err != nil {
		return nil, err
	}
	r.publishRequest(req)
	r.lowerHandLocked(user)
	out := *req
	return &out, nil
}

func (r *roomImpl) Deny(_ context.Context, user, admin domain.UserID) (domain.MicRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireModeratorLocked(admin); err != nil {
		return domain.MicRequest{}, err
	}
	req, err := r.ledger.Decide(user, domain.StatusDenied, admin, r.deps.Now())
	if err != nil {
		return domain.MicRequest{}, err
	}
	r.publishRequest(req)
	r.lowerHandLocked(user)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Str("admin", string(admin)).Msg("hand denied")
	return *req, nil
}

func (r *roomImpl) Approve(ctx context.Context, user, admin domain.UserID) (domain.ParticipantSeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireModeratorLocked(admin); err != nil {
		return domain.ParticipantSeat{}, err
	}
	return r.grantLocked(ctx, user, admin, r.policy.Mode == domain.SeatModeQueue)
}

// TakeSeat is the free-mode self-service path. The capacity check is the
// same one Approve uses.
func (r *roomImpl) TakeSeat(ctx context.Context, user domain.UserID) (domain.ParticipantSeat, error) {
	if user == "" {
		return domain.ParticipantSeat{}, domain.ErrAuth
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.policy.Mode != domain.SeatModeFree {
		return domain.ParticipantSeat{}, fmt.Errorf("room %s requires moderator approval: %w", r.room.ID, domain.ErrConflict)
	}
	return r.grantLocked(ctx, user, user, false)
}

func (r *roomImpl) Revoke(ctx context.Context, user, admin domain.UserID) (domain.ParticipantSeat, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.requireModeratorLocked(admin); err != nil {
		return domain.ParticipantSeat{}, err
	}
	s, ok := r.seats[user]
	if !ok || !s.Speaking() {
		return domain.ParticipantSeat{}, fmt.Errorf("seat of %s: %w", user, domain.ErrNotFound)
	}
	if err := r.deps.Gate.Release(ctx, r.room.ID, user); err != nil {
		return domain.ParticipantSeat{}, networkErr("release seat", err)
	}
	s.MicStatus = domain.MicNone
	if s.Role != domain.RoleModerator {
		s.Role = domain.RoleListener
	}
	r.publishSeat(s)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Str("admin", string(admin)).Msg("seat revoked")
	return *s, nil
}

// PromoteNext grants a seat to the head of the pending queue on behalf of
// an automatic policy. It reports false when the queue is empty or full.
func (r *roomImpl) PromoteNext(ctx context.Context) (domain.ParticipantSeat, bool, error) {
	for _, e := range r.PendingOrdered(ctx) {
		r.mu.Lock()
		s, err := r.grantLocked(ctx, e.Request.UserID, domain.SystemUser, true)
		r.mu.Unlock()
		switch {
		case err == nil:
			return s, true, nil
		case errors.Is(err, domain.ErrSeatFull):
			return domain.ParticipantSeat{}, false, nil
		case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrConflict):
			// the request was decided or the member left since the snapshot
			continue
		default:
			return domain.ParticipantSeat{}, false, err
		}
	}
	return domain.ParticipantSeat{}, false, nil
}

// PendingOrdered ranks the pending set. VIP lookups run outside the room lock.
func (r *roomImpl) PendingOrdered(ctx context.Context) []QueueEntry {
	r.mu.Lock()
	pending := r.ledger.PendingSet()
	r.mu.Unlock()
	return OrderPending(ctx, pending, r.deps.Vip)
}

func (r *roomImpl) ExpirePending(_ context.Context, cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.deps.Now()
	n := 0
	for _, p := range r.ledger.PendingSet() {
		if !p.CreatedAt.Before(cutoff) {
			continue
		}
		req, err := r.ledger.Decide(p.UserID, domain.StatusCancelled, domain.SystemUser, now)
		if err != nil {
			continue
		}
		r.publishRequest(req)
		r.lowerHandLocked(p.UserID)
		n++
	}
	if n > 0 {
		log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Int("expired", n).Msg("pending requests expired")
	}
	return n
}

func (r *roomImpl) grantLocked(ctx context.Context, user, by domain.UserID, needRequest bool) (domain.ParticipantSeat, error) {
	s, err := r.seatLocked(user)
	if err != nil {
		return domain.ParticipantSeat{}, err
	}
	if s.Speaking() {
		return domain.ParticipantSeat{}, fmt.Errorf("%s already holds a seat: %w", user, domain.ErrConflict)
	}
	_, pending := r.ledger.Pending(user)
	if needRequest && !pending {
		if last, ok := r.ledger.Latest(user); ok {
			return domain.ParticipantSeat{}, fmt.Errorf("request %d already %s: %w", last.ID, last.Status, domain.ErrConflict)
		}
		return domain.ParticipantSeat{}, fmt.Errorf("mic request of %s: %w", user, domain.ErrNotFound)
	}
	if r.speakingLocked() >= r.policy.MaxSpeakers {
		return domain.ParticipantSeat{}, domain.ErrSeatFull
	}
	won, err := r.deps.Gate.TryAcquire(ctx, r.room.ID, user, r.policy.MaxSpeakers)
	if err != nil {
		return domain.ParticipantSeat{}, networkErr("acquire seat", err)
	}
	if !won {
		return domain.ParticipantSeat{}, domain.ErrSeatFull
	}
	if pending {
		req, err := r.ledger.Decide(user, domain.StatusApproved, by, r.deps.Now())
		if err != nil {
			r.undoAcquireLocked(ctx, user)
			return domain.ParticipantSeat{}, err
		}
		r.publishRequest(req)
	}
	s.MicStatus = domain.MicGranted
	if s.Role != domain.RoleModerator {
		s.Role = domain.RoleSpeaker
	}
	r.publishSeat(s)
	log.Info().Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Str("by", string(by)).Int("speakers", r.speakingLocked()).Msg("seat granted")
	return *s, nil
}

func (r *roomImpl) seatLocked(user domain.UserID) (*domain.ParticipantSeat, error) {
	s, ok := r.seats[user]
	if !ok {
		return nil, fmt.Errorf("%s is not in room %s: %w", user, r.room.ID, domain.ErrNotFound)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *roomImpl) requireModeratorLocked(admin domain.UserID) error {
	if admin == "" {
		return domain.ErrAuth
	}
	if r.policy.IsModerator(admin) {
		return nil
	}
	if s, ok := r.seats[admin]; ok && s.Role == domain.RoleModerator {
		return nil
	}
	return fmt.Errorf("%s in room %s: %w", admin, r.room.ID, domain.ErrForbidden)
}

func (r *roomImpl) lowerHandLocked(user domain.UserID) {
	if s, ok := r.seats[user]; ok && s.MicStatus == domain.MicRequested {
		s.MicStatus = domain.MicNone
		r.publishSeat(s)
	}
}

func (r *roomImpl) speakingLocked() int {
	n := 0
	for _, s := range r.seats {
		if s.Speaking() {
			n++
		}
	}
	return n
}

func (r *roomImpl) publishRequest(req *domain.MicRequest) {
	if r.deps.History != nil {
		r.deps.History.Record(*req)
	}
	r.publish(domain.RequestChange(*req))
}

func (r *roomImpl) publishSeat(s *domain.ParticipantSeat) {
	r.publish(domain.SeatChange(*s))
}

func (r *roomImpl) publish(ch domain.Change) {
	if r.deps.Pub != nil {
		r.deps.Pub.Publish(r.room.ID, ch)
	}
}

func networkErr(op string, err error) error {
	if errors.Is(err, domain.ErrNetwork) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, domain.ErrNetwork, err)
}

// undoAcquireLocked gives back a slot taken by a grant that did not
// complete. A failed release leaves the slot counted until Reconcile or
// Evict, so it is logged.
func (r *roomImpl) undoAcquireLocked(ctx context.Context, user domain.UserID) {
	if err := r.deps.Gate.Release(ctx, r.room.ID, user); err != nil {
		log.Error().Err(err).Str("module", "core.room").Str("room", string(r.room.ID)).Str("user", string(user)).Msg("seat release after failed grant")
	}
}
