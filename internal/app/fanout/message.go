package fanout

import "github.com/dkeye/voicestage/internal/domain"

type MessageType string

const (
	TypeSnapshot MessageType = "snapshot"
	TypeUpdate   MessageType = "update"
	TypeEvicted  MessageType = "evicted"
)

// Row is a change stamped with the room channel's sequence number.
type Row struct {
	domain.Change
	Version uint64 `json:"version"`
}

// Message is what a subscriber handler receives. A snapshot carries every
// live row of the room; an update carries exactly one row.
type Message struct {
	Type    MessageType   `json:"type"`
	Room    domain.RoomID `json:"room"`
	Version uint64        `json:"version"`
	Rows    []Row         `json:"rows,omitempty"`
}

type Handler func(Message)

type rowKey struct {
	kind domain.ChangeKind
	key  string
}

func keyOf(ch domain.Change) rowKey { return rowKey{kind: ch.Kind, key: ch.Key} }

// Cursor is the subscriber-side guard: within one row, anything strictly
// older than the last applied version is discarded.
type Cursor struct {
	seen map[rowKey]uint64
}

func NewCursor() *Cursor { return &Cursor{seen: make(map[rowKey]uint64)} }

// Apply returns the rows of m that should be applied.
func (c *Cursor) Apply(m Message) []Row {
	switch m.Type {
	case TypeSnapshot:
		c.seen = make(map[rowKey]uint64, len(m.Rows))
		for _, r := range m.Rows {
			c.seen[keyOf(r.Change)] = r.Version
		}
		return m.Rows
	case TypeUpdate:
		out := make([]Row, 0, len(m.Rows))
		for _, r := range m.Rows {
			k := keyOf(r.Change)
			if r.Version < c.seen[k] {
				continue
			}
			c.seen[k] = r.Version
			out = append(out, r)
		}
		return out
	default:
		return nil
	}
}
