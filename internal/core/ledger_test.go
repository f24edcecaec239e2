package core

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

func TestLedgerTerminalRecordsAreImmutable(t *testing.T) {
	t.Parallel()
	var n domain.RequestID
	l := NewLedger("r", func() domain.RequestID { n++; return n })
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	r := l.Open("u", now)
	if _, err := l.Decide("u", domain.StatusApproved, "m", now); err != nil {
		t.Fatal(err)
	}
	for _, to := range []domain.RequestStatus{domain.StatusDenied, domain.StatusCancelled, domain.StatusApproved} {
		if _, err := l.Decide("u", to, "m", now); !errors.Is(err, domain.ErrConflict) {
			t.Errorf("Decide(%s) on terminal: got %v, want CONFLICT", to, err)
		}
	}
	if r.Status != domain.StatusApproved {
		t.Errorf("status = %s", r.Status)
	}
	if _, err := l.Decide("u", domain.StatusPending, "m", now); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Decide(pending): got %v", err)
	}
	if _, err := l.Decide("x", domain.StatusDenied, "m", now); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Decide unknown user: got %v", err)
	}
}

func TestLedgerRejectsCorruptStatus(t *testing.T) {
	t.Parallel()
	l := NewLedger("r", func() domain.RequestID { return 1 })
	r := l.Open("u", time.Now())
	r.Status = "approved-ish"
	if _, err := l.Decide("u", domain.StatusDenied, "m", time.Now()); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("got %v, want CONFLICT", err)
	}
}

func TestSequenceIsSharedAndResumes(t *testing.T) {
	t.Parallel()
	next := NewSequence(41)
	a := NewLedger("a", next)
	b := NewLedger("b", next)
	ra := a.Open("u", time.Now())
	rb := b.Open("u", time.Now())
	if ra.ID != 42 || rb.ID != 43 {
		t.Errorf("ids = %d, %d, want 42, 43", ra.ID, rb.ID)
	}
}
