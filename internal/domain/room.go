package domain

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

type RoomID string

var (
	ErrRoomIDEmpty   = errors.New("room id empty")
	ErrRoomIDTooLong = errors.New("room id too long")
)

func ParseRoomID(raw string) (RoomID, error) {
	s := strings.TrimSpace(raw)
	if len(s) == 0 {
		return "", ErrRoomIDEmpty
	}
	if len(s) > MaxRoomIDLen {
		return "", ErrRoomIDTooLong
	}
	return RoomID(s), nil
}

type Room struct {
	ID RoomID `json:"id"`
}

// SeatMode decides whether a seat needs an admin decision.
type SeatMode string

const (
	SeatModeQueue SeatMode = "queue"
	SeatModeFree  SeatMode = "free"
)

func ParseSeatMode(raw string) (SeatMode, error) {
	switch m := SeatMode(raw); m {
	case SeatModeQueue, SeatModeFree:
		return m, nil
	default:
		return "", fmt.Errorf("seat mode %q: %w", raw, ErrConflict)
	}
}

const DefaultMaxSpeakers = 2

// RoomSeatPolicy is static reference data; the allocator only reads it.
type RoomSeatPolicy struct {
	MaxSpeakers int      `json:"max_speakers"`
	Mode        SeatMode `json:"mode"`
	Moderators  []UserID `json:"moderators,omitempty"`
}

func DefaultPolicy() RoomSeatPolicy {
	return RoomSeatPolicy{MaxSpeakers: DefaultMaxSpeakers, Mode: SeatModeQueue}
}

func (p RoomSeatPolicy) IsModerator(u UserID) bool {
	return slices.Contains(p.Moderators, u)
}
