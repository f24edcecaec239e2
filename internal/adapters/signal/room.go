package signal

import (
	"encoding/json"

	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/rs/zerolog/log"
)

// feed forwards hub messages to one connection. A row older than what the
// client already holds is never sent; a connection that cannot keep up is
// closed so the client reconnects and starts from a fresh snapshot.
type feed struct {
	s      *session
	cursor *fanout.Cursor
}

func newFeed(s *session) *feed {
	return &feed{s: s, cursor: fanout.NewCursor()}
}

func (f *feed) forward(m fanout.Message) {
	rows := f.cursor.Apply(m)
	if m.Type == fanout.TypeUpdate {
		if len(rows) == 0 {
			return
		}
		m.Rows = rows
	}
	b, err := json.Marshal(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("feed marshal")
		return
	}
	if err := f.s.conn.TrySend(b); err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(f.s.sid)).Str("room", string(f.s.room)).Msg("feed dropped, closing")
		f.s.cancel()
		return
	}
	if m.Type == fanout.TypeEvicted {
		f.s.cancel()
	}
}
