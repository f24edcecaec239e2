package domain

// ChangeKind names the row family a change belongs to.
type ChangeKind string

const (
	KindMicRequest ChangeKind = "mic_request"
	KindSeat       ChangeKind = "seat"
	KindStats      ChangeKind = "stats"
)

// Change is one row mutation published on a room channel.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Key     string     `json:"key"`
	Deleted bool       `json:"deleted,omitempty"`
	Data    any        `json:"data,omitempty"`
}

func RequestChange(r MicRequest) Change {
	return Change{Kind: KindMicRequest, Key: string(r.UserID), Data: r}
}

func SeatChange(s ParticipantSeat) Change {
	return Change{Kind: KindSeat, Key: string(s.UserID), Data: s}
}

func SeatRemoved(u UserID) Change {
	return Change{Kind: KindSeat, Key: string(u), Deleted: true}
}

func StatsChange(s RoomLiveStats) Change {
	return Change{Kind: KindStats, Key: string(s.RoomID), Data: s}
}
