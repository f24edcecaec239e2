package domain

import "errors"

// Code is the closed error taxonomy exposed by the control API.
type Code string

const (
	CodeAuth      Code = "AUTH"
	CodeForbidden Code = "FORBIDDEN"
	CodeSeatFull  Code = "SEAT_FULL"
	CodeConflict  Code = "CONFLICT"
	CodeNotFound  Code = "NOT_FOUND"
	CodeNetwork   Code = "NETWORK"
	CodeInternal  Code = "INTERNAL"
)

var (
	ErrAuth      = errors.New("caller identity missing or invalid")
	ErrForbidden = errors.New("moderator role required")
	ErrSeatFull  = errors.New("no free speaker seat")
	ErrConflict  = errors.New("conflicting state")
	ErrNotFound  = errors.New("not found")
	ErrNetwork   = errors.New("backing store unavailable")
)

// CodeOf classifies err. Unknown errors are INTERNAL.
func CodeOf(err error) Code {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAuth):
		return CodeAuth
	case errors.Is(err, ErrForbidden):
		return CodeForbidden
	case errors.Is(err, ErrSeatFull):
		return CodeSeatFull
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrNetwork):
		return CodeNetwork
	default:
		return CodeInternal
	}
}

// Retryable reports whether the caller may safely retry after re-checking state.
func Retryable(err error) bool { return errors.Is(err, ErrNetwork) }
