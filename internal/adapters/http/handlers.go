package http

import (
	"strconv"

	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// RoomHandlers serves the control API of the rooms.
type RoomHandlers struct {
	Orch *orch.Orchestrator
}

func roomParam(c *gin.Context) (domain.RoomID, bool) {
	id, err := domain.ParseRoomID(c.Param("room"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return id, true
}

func userParam(c *gin.Context) (domain.UserID, bool) {
	id, err := domain.ParseUserID(c.Param("user"))
	if err != nil {
		badRequest(c, err.Error())
		return "", false
	}
	return id, true
}

func (h *RoomHandlers) List(c *gin.Context) {
	ok(c, gin.H{"rooms": h.Orch.ListRooms()})
}

func (h *RoomHandlers) Join(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	seat, err := h.Orch.Join(c.Request.Context(), room, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"seat": seat})
}

func (h *RoomHandlers) Leave(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	if err := h.Orch.Leave(c.Request.Context(), room, caller(c)); err != nil {
		fail(c, err)
		return
	}
	ok(c, nil)
}

func (h *RoomHandlers) RaiseHand(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	req, err := h.Orch.RaiseHand(c.Request.Context(), room, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"request": req})
}

func (h *RoomHandlers) CancelHand(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	req, err := h.Orch.CancelHand(c.Request.Context(), room, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"request": req})
}

func (h *RoomHandlers) TakeSeat(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	seat, err := h.Orch.TakeSeat(c.Request.Context(), room, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"seat": seat})
}

func (h *RoomHandlers) Approve(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	user, valid := userParam(c)
	if !valid {
		return
	}
	seat, err := h.Orch.Approve(c.Request.Context(), room, user, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"seat": seat})
}

func (h *RoomHandlers) Deny(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	user, valid := userParam(c)
	if !valid {
		return
	}
	req, err := h.Orch.Deny(c.Request.Context(), room, user, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"request": req})
}

func (h *RoomHandlers) Revoke(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	user, valid := userParam(c)
	if !valid {
		return
	}
	seat, err := h.Orch.Revoke(c.Request.Context(), room, user, caller(c))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"seat": seat})
}

func (h *RoomHandlers) Queue(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	q, err := h.Orch.Queue(c.Request.Context(), room)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"queue": q})
}

func (h *RoomHandlers) History(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	user, valid := userParam(c)
	if !valid {
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		badRequest(c, "limit must be a non-negative integer")
		return
	}
	reqs, err := h.Orch.RequestHistory(c.Request.Context(), room, user, caller(c), limit)
	if err != nil {
		fail(c, err)
		return
	}
	if reqs == nil {
		reqs = []domain.MicRequest{}
	}
	ok(c, gin.H{"requests": reqs})
}

func (h *RoomHandlers) Stats(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	ok(c, gin.H{"stats": h.Orch.Stats(room)})
}

func (h *RoomHandlers) SetFeatured(c *gin.Context) {
	room, valid := roomParam(c)
	if !valid {
		return
	}
	var body struct {
		Featured *bool `json:"featured"`
	}
	if err := c.ShouldBindJSON(&body); err != nil || body.Featured == nil {
		badRequest(c, "featured flag required")
		return
	}
	st, err := h.Orch.SetFeatured(c.Request.Context(), room, caller(c), *body.Featured)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"stats": st})
}

func (h *RoomHandlers) Explore(c *gin.Context) {
	sort, err := presence.ParseSort(c.DefaultQuery("sort", string(presence.SortTrending)))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequest(c, "limit must be a non-negative integer")
			return
		}
	}
	rooms := h.Orch.Explore(sort, limit)
	log.Debug().Str("module", "adapters.http").Str("sort", string(sort)).Int("rooms", len(rooms)).Msg("explore")
	ok(c, gin.H{"sort": sort, "rooms": rooms})
}
