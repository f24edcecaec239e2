package domain

import "fmt"

type Role string

const (
	RoleListener  Role = "listener"
	RoleSpeaker   Role = "speaker"
	RoleModerator Role = "moderator"
)

func ParseRole(raw string) (Role, error) {
	switch r := Role(raw); r {
	case RoleListener, RoleSpeaker, RoleModerator:
		return r, nil
	default:
		return "", fmt.Errorf("role %q: %w", raw, ErrConflict)
	}
}

type MicStatus string

const (
	MicNone      MicStatus = "none"
	MicRequested MicStatus = "requested"
	MicGranted   MicStatus = "granted"
)

func ParseMicStatus(raw string) (MicStatus, error) {
	switch m := MicStatus(raw); m {
	case MicNone, MicRequested, MicGranted:
		return m, nil
	default:
		return "", fmt.Errorf("mic status %q: %w", raw, ErrConflict)
	}
}

// ParticipantSeat is a member's place in a room.
// Granted mic implies a speaker or moderator role.
type ParticipantSeat struct {
	RoomID    RoomID    `json:"room_id"`
	UserID    UserID    `json:"user_id"`
	Role      Role      `json:"role"`
	MicStatus MicStatus `json:"mic_status"`
}

func NewSeat(room RoomID, user UserID, role Role) *ParticipantSeat {
	return &ParticipantSeat{RoomID: room, UserID: user, Role: role, MicStatus: MicNone}
}

func (s *ParticipantSeat) Speaking() bool { return s.MicStatus == MicGranted }

// Validate checks the closed variants and the granted-role invariant.
func (s *ParticipantSeat) Validate() error {
	if _, err := ParseRole(string(s.Role)); err != nil {
		return err
	}
	if _, err := ParseMicStatus(string(s.MicStatus)); err != nil {
		return err
	}
	if s.MicStatus == MicGranted && s.Role == RoleListener {
		return fmt.Errorf("listener %s holds a granted mic: %w", s.UserID, ErrConflict)
	}
	return nil
}
