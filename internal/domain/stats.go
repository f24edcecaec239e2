package domain

import "time"

type RoomLiveStats struct {
	RoomID        RoomID    `json:"room_id"`
	ListenerCount int       `json:"listener_count"`
	SpeakerCount  int       `json:"speaker_count"`
	IsLive        bool      `json:"is_live"`
	Featured      bool      `json:"featured"`
	TrendingScore float64   `json:"trending_score"`
	LastActiveAt  time.Time `json:"last_active_at"`
}
