package core

import (
	"fmt"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

// Ledger keeps every mic request of one room. It is not threadsafe;
// the owning roomImpl serializes access.
type Ledger struct {
	room    domain.RoomID
	nextID  IDSource
	records []*domain.MicRequest
	latest  map[domain.UserID]*domain.MicRequest
}

func NewLedger(room domain.RoomID, ids IDSource) *Ledger {
	return &Ledger{
		room:   room,
		nextID: ids,
		latest: make(map[domain.UserID]*domain.MicRequest),
	}
}

// Pending returns the live request of user, if any.
func (l *Ledger) Pending(user domain.UserID) (*domain.MicRequest, bool) {
	r, ok := l.latest[user]
	if !ok || r.Status != domain.StatusPending {
		return nil, false
	}
	return r, true
}

func (l *Ledger) Latest(user domain.UserID) (*domain.MicRequest, bool) {
	r, ok := l.latest[user]
	return r, ok
}

// Open starts a new pending record. The caller must have checked that
// no pending record exists for user.
func (l *Ledger) Open(user domain.UserID, now time.Time) *domain.MicRequest {
	r := &domain.MicRequest{
		ID:        l.nextID(),
		RoomID:    l.room,
		UserID:    user,
		Status:    domain.StatusPending,
		CreatedAt: now,
	}
	l.records = append(l.records, r)
	l.latest[user] = r
	return r
}

// Decide moves the latest request of user out of pending.
// NOT_FOUND when user never requested, CONFLICT when the latest record is terminal.
func (l *Ledger) Decide(user domain.UserID, to domain.RequestStatus, by domain.UserID, now time.Time) (*domain.MicRequest, error) {
	if !to.Terminal() {
		return nil, fmt.Errorf("transition to %q: %w", to, domain.ErrConflict)
	}
	r, ok := l.latest[user]
	if !ok {
		return nil, fmt.Errorf("mic request of %s: %w", user, domain.ErrNotFound)
	}
	switch r.Status {
	case domain.StatusPending:
	case domain.StatusApproved, domain.StatusDenied, domain.StatusCancelled:
		return nil, fmt.Errorf("request %d already %s: %w", r.ID, r.Status, domain.ErrConflict)
	default:
		return nil, fmt.Errorf("request %d has unknown status %q: %w", r.ID, r.Status, domain.ErrConflict)
	}
	decided := now
	r.Status = to
	r.DecidedAt = &decided
	r.DecidedBy = by
	return r, nil
}

// PendingSet copies all pending records.
func (l *Ledger) PendingSet() []domain.MicRequest {
	out := make([]domain.MicRequest, 0, len(l.latest))
	for _, r := range l.latest {
		if r.Status == domain.StatusPending {
			out = append(out, *r)
		}
	}
	return out
}

// History copies every record of user in creation order.
func (l *Ledger) History(user domain.UserID) []domain.MicRequest {
	var out []domain.MicRequest
	for _, r := range l.records {
		if r.UserID == user {
			out = append(out, *r)
		}
	}
	return out
}

func (l *Ledger) Len() int { return len(l.records) }
