package signal

import (
	"encoding/json"
	"strings"

	"github.com/dkeye/voicestage/internal/domain"
	"github.com/rs/zerolog/log"
)

const maxNameLen = 36

func (ctl *SignalWSController) handleRename(s *session, data []byte) {
	var p struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad rename payload")
		ctl.sendJSON(s.conn, errorReply{Type: "error", Op: "rename", Error: "bad_payload"})
		return
	}
	name := strings.TrimSpace(p.Name)
	if name == "" || len(name) > maxNameLen {
		ctl.sendJSON(s.conn, errorReply{Type: "error", Op: "rename", Error: "invalid_name"})
		return
	}
	if !ctl.Orch.Registry.UpdateUsername(s.sid, name) {
		ctl.sendJSON(s.conn, errorReply{Type: "error", Op: "rename", Error: "not_a_guest"})
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(s.sid)).Str("name", name).Msg("rename")
	ctl.handleWhoAmI(s)
}

func (ctl *SignalWSController) handleWhoAmI(s *session) {
	resp := struct {
		Type     string                  `json:"type"`
		User     domain.UserID           `json:"user"`
		Username string                  `json:"username,omitempty"`
		Room     domain.RoomID           `json:"room"`
		Seat     *domain.ParticipantSeat `json:"seat,omitempty"`
	}{
		Type: "whoami",
		User: s.user,
		Room: s.room,
	}
	if strings.HasPrefix(string(s.user), "guest-") {
		resp.Username = ctl.Orch.Registry.GetOrCreateUser(s.sid).Username
	}
	if seats, err := ctl.Orch.Seats(s.room); err == nil {
		for i := range seats {
			if seats[i].UserID == s.user {
				resp.Seat = &seats[i]
			}
		}
	}
	ctl.sendJSON(s.conn, resp)
}
