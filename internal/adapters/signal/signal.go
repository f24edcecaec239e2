// Package signal serves room subscriptions over WebSocket: the room feed
// goes out, a few control messages come in.
package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/core"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrClosed       = errors.New("connection closed")
)

const (
	DefaultReadLimit  = 32768
	DefaultPingPeriod = 54 * time.Second
	writeWait         = 5 * time.Second
	sendBuffer        = 64
)

type SignalWSController struct {
	Orch       *orch.Orchestrator
	Limiter    *RoomRateLimiter
	ReadLimit  int64
	PingPeriod time.Duration
}

func NewSignalWSController(o *orch.Orchestrator, limiter *RoomRateLimiter) *SignalWSController {
	return &SignalWSController{
		Orch:       o,
		Limiter:    limiter,
		ReadLimit:  DefaultReadLimit,
		PingPeriod: DefaultPingPeriod,
	}
}

// WsSignalConn implements core.SignalConnection over one WebSocket.
type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// session is the per-connection state shared by the pumps.
type session struct {
	sid    core.SessionID
	room   domain.RoomID
	user   domain.UserID
	conn   *WsSignalConn
	cancel context.CancelFunc
}

// HandleSubscribe upgrades the request and streams the room feed until
// the client goes away or ctx is done.
func (ctl *SignalWSController) HandleSubscribe(ctx context.Context, c *gin.Context, room domain.RoomID, user domain.UserID) {
	sid := core.SessionID(c.GetString("client_token"))
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("room", string(room)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.ReadLimit > 0 {
		ws.SetReadLimit(ctl.ReadLimit)
	}

	conn := &WsSignalConn{conn: ws, send: make(chan core.Frame, sendBuffer)}
	ctx, cancel := context.WithCancel(ctx)
	s := &session{sid: sid, room: room, user: user, conn: conn, cancel: cancel}
	ctl.Orch.Registry.Bind(sid, room, user, conn, cancel)

	unsubscribe := ctl.Orch.Subscribe(room, newFeed(s).forward)
	go func() {
		<-ctx.Done()
		unsubscribe()
		ctl.Orch.Registry.Unbind(sid, conn)
		conn.Close()
	}()

	go ctl.writePump(ctx, s)
	go ctl.readPump(ctx, s)
}
