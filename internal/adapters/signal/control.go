package signal

import (
	"context"

	"github.com/dkeye/voicestage/internal/domain"
)

type errorReply struct {
	Type  string `json:"type"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

type ackReply struct {
	Type string `json:"type"`
	Op   string `json:"op"`
	Data any    `json:"data,omitempty"`
}

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, struct {
		Type string `json:"type"`
	}{Type: "pong"})
}

func (ctl *SignalWSController) reply(s *session, op string, data any, err error) {
	if err != nil {
		ctl.sendJSON(s.conn, errorReply{Type: "error", Op: op, Error: string(domain.CodeOf(err))})
		return
	}
	ctl.sendJSON(s.conn, ackReply{Type: "ack", Op: op, Data: data})
}

func (ctl *SignalWSController) handleHand(ctx context.Context, s *session) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(s.user) {
		ctl.sendJSON(s.conn, errorReply{Type: "error", Op: "hand", Error: "RATE_LIMITED"})
		return
	}
	req, err := ctl.Orch.RaiseHand(ctx, s.room, s.user)
	ctl.reply(s, "hand", req, err)
}

func (ctl *SignalWSController) handleCancelHand(ctx context.Context, s *session) {
	req, err := ctl.Orch.CancelHand(ctx, s.room, s.user)
	ctl.reply(s, "cancel_hand", req, err)
}

func (ctl *SignalWSController) handleTakeSeat(ctx context.Context, s *session) {
	seat, err := ctl.Orch.TakeSeat(ctx, s.room, s.user)
	ctl.reply(s, "take_seat", seat, err)
}

// handleLeave drops the caller from the roster; the feed stays open.
func (ctl *SignalWSController) handleLeave(ctx context.Context, s *session) {
	err := ctl.Orch.Leave(ctx, s.room, s.user)
	ctl.reply(s, "leave", nil, err)
}
