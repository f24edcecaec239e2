package presence

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/dkeye/voicestage/internal/domain"
)

const (
	ListenerWeight = 1.0
	SpeakerWeight  = 3.0
	FeaturedBoost  = 5.0
	HalfLife       = 6 * time.Hour
)

// Decay is 0.5^(elapsed/HalfLife); never above 1.
func Decay(elapsed time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	return math.Pow(0.5, elapsed.Hours()/HalfLife.Hours())
}

func BaseScore(s domain.RoomLiveStats) float64 {
	score := float64(s.ListenerCount)*ListenerWeight + float64(s.SpeakerCount)*SpeakerWeight
	if s.Featured {
		score += FeaturedBoost
	}
	return score
}

// ScoreAt is the trending score of s as observed at now. A room with no
// recorded activity is not decayed.
func ScoreAt(s domain.RoomLiveStats, now time.Time) float64 {
	if s.LastActiveAt.IsZero() {
		return BaseScore(s)
	}
	return BaseScore(s) * Decay(now.Sub(s.LastActiveAt))
}

type SortKey string

const (
	SortFeatured SortKey = "featured"
	SortTrending SortKey = "trending"
	SortActive   SortKey = "active"
)

func ParseSort(raw string) (SortKey, error) {
	switch k := SortKey(raw); k {
	case SortFeatured, SortTrending, SortActive:
		return k, nil
	case "":
		return SortTrending, nil
	default:
		return "", fmt.Errorf("sort %q: %w", raw, ErrMalformed)
	}
}

func compareFor(key SortKey) func(a, b domain.RoomLiveStats) int {
	byRecent := func(a, b domain.RoomLiveStats) int {
		if c := b.LastActiveAt.Compare(a.LastActiveAt); c != 0 {
			return c
		}
		return strings.Compare(string(a.RoomID), string(b.RoomID))
	}
	byScore := func(a, b domain.RoomLiveStats) int { return cmpDesc(a.TrendingScore, b.TrendingScore) }
	switch key {
	case SortFeatured:
		return func(a, b domain.RoomLiveStats) int {
			if a.Featured != b.Featured {
				if a.Featured {
					return -1
				}
				return 1
			}
			if c := byScore(a, b); c != 0 {
				return c
			}
			return byRecent(a, b)
		}
	case SortActive:
		return func(a, b domain.RoomLiveStats) int {
			if c := cmpDesc(a.ListenerCount, b.ListenerCount); c != 0 {
				return c
			}
			if c := cmpDesc(a.SpeakerCount, b.SpeakerCount); c != 0 {
				return c
			}
			return byRecent(a, b)
		}
	default:
		return func(a, b domain.RoomLiveStats) int {
			if c := byScore(a, b); c != 0 {
				return c
			}
			return byRecent(a, b)
		}
	}
}

func cmpDesc[T int | float64](a, b T) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	default:
		return 0
	}
}
