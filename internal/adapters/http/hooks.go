package http

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	SignatureHeader = "X-Voice-Signature"
	maxHookBody     = 1 << 20
)

// HookHandler receives voice-provider lifecycle events.
type HookHandler struct {
	Orch   *orch.Orchestrator
	Secret []byte
}

// Sign returns the header value for body under secret.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// verify checks the body signature. Without a configured secret no
// signature can be checked, so every delivery is refused.
func (h *HookHandler) verify(header string, body []byte) bool {
	if len(h.Secret) == 0 {
		return false
	}
	got, found := strings.CutPrefix(header, "sha256=")
	if !found {
		return false
	}
	sig, err := hex.DecodeString(got)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, h.Secret)
	mac.Write(body)
	return hmac.Equal(sig, mac.Sum(nil))
}

type hookResult struct {
	EventID string `json:"event_id"`
	Applied bool   `json:"applied"`
	Error   string `json:"error,omitempty"`
}

func (h *HookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxHookBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	if !h.verify(c.GetHeader(SignatureHeader), body) {
		log.Warn().Str("module", "adapters.http").Str("remote", c.ClientIP()).Msg("webhook signature mismatch")
		fail(c, domain.ErrAuth)
		return
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		h.handleBatch(c, trimmed)
		return
	}

	var ev presence.Event
	if err := json.Unmarshal(trimmed, &ev); err != nil {
		badRequest(c, "malformed event")
		return
	}
	withEventID(&ev)
	applied, err := h.Orch.HandleEvent(c.Request.Context(), ev)
	switch {
	case errors.Is(err, presence.ErrMalformed):
		badRequest(c, err.Error())
	case err != nil:
		log.Error().Err(err).Str("module", "adapters.http").Str("event_id", ev.EventID).Msg("webhook failed")
		fail(c, err)
	case !applied:
		ok(c, gin.H{"duplicate": true, "event_id": ev.EventID})
	default:
		ok(c, gin.H{"event_id": ev.EventID})
	}
}

// handleBatch applies every event it can. Malformed entries are reported
// per event; a store failure on any entry turns the whole answer into 503
// so the provider redelivers, and the entries already applied dedupe.
func (h *HookHandler) handleBatch(c *gin.Context, body []byte) {
	var events []presence.Event
	if err := json.Unmarshal(body, &events); err != nil {
		badRequest(c, "malformed batch")
		return
	}
	for i := range events {
		withEventID(&events[i])
	}
	out := h.Orch.HandleBatch(c.Request.Context(), events)
	results := make([]hookResult, len(out))
	retry := false
	for i, res := range out {
		results[i] = hookResult{EventID: res.EventID, Applied: res.Applied}
		if res.Err == nil {
			continue
		}
		if errors.Is(res.Err, presence.ErrMalformed) {
			results[i].Error = codeBadRequest
		} else {
			results[i].Error = string(domain.CodeOf(res.Err))
		}
		if domain.Retryable(res.Err) {
			retry = true
		}
	}
	if retry {
		c.JSON(http.StatusServiceUnavailable, gin.H{"ok": false, "error": domain.CodeNetwork, "results": results})
		return
	}
	ok(c, gin.H{"results": results})
}

func withEventID(ev *presence.Event) {
	if ev.EventID != "" {
		return
	}
	ev.EventID = uuid.NewString()
	log.Warn().Str("module", "adapters.http").Str("room", string(ev.RoomID)).Str("event", string(ev.Type)).
		Str("event_id", ev.EventID).Msg("event without id, assigned one")
}
