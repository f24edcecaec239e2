package domain

import (
	"fmt"
	"time"
)

type RequestID uint64

type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusApproved  RequestStatus = "approved"
	StatusDenied    RequestStatus = "denied"
	StatusCancelled RequestStatus = "cancelled"
)

func ParseRequestStatus(raw string) (RequestStatus, error) {
	switch s := RequestStatus(raw); s {
	case StatusPending, StatusApproved, StatusDenied, StatusCancelled:
		return s, nil
	default:
		return "", fmt.Errorf("request status %q: %w", raw, ErrConflict)
	}
}

// Terminal reports whether no further transition is allowed.
func (s RequestStatus) Terminal() bool {
	switch s {
	case StatusApproved, StatusDenied, StatusCancelled:
		return true
	default:
		return false
	}
}

// MicRequest is one raise-hand record. Records are never deleted; once
// terminal they are never mutated again.
type MicRequest struct {
	ID        RequestID     `json:"id"`
	RoomID    RoomID        `json:"room_id"`
	UserID    UserID        `json:"user_id"`
	Status    RequestStatus `json:"status"`
	CreatedAt time.Time     `json:"created_at"`
	DecidedAt *time.Time    `json:"decided_at,omitempty"`
	DecidedBy UserID        `json:"decided_by,omitempty"`
}
