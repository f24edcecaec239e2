package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/voicestage/internal/app"
	"github.com/dkeye/voicestage/internal/app/fanout"
	"github.com/dkeye/voicestage/internal/app/orch"
	"github.com/dkeye/voicestage/internal/app/presence"
	"github.com/dkeye/voicestage/internal/config"
	"github.com/dkeye/voicestage/internal/domain"
	"github.com/gin-gonic/gin"
)

const hookSecret = "hook-secret"

type fixture struct {
	router *gin.Engine
	tokens *TokenIssuer
}

func newFixture(t *testing.T, allowGuests bool) *fixture {
	t.Helper()
	return newFixtureConfig(t, &config.Config{Mode: "test", Secret: "cookie-secret", AllowGuests: allowGuests, WebhookSecret: hookSecret})
}

func newFixtureConfig(t *testing.T, cfg *config.Config) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)
	hub := fanout.NewHub(32, nil)
	t.Cleanup(hub.Shutdown)
	scorer := presence.NewScorer(presence.Options{Pub: hub})
	rooms := app.NewRoomManager(app.ManagerOptions{
		Policies: func(domain.RoomID) domain.RoomSeatPolicy {
			return domain.RoomSeatPolicy{MaxSpeakers: 1, Mode: domain.SeatModeQueue, Moderators: []domain.UserID{"mod"}}
		},
		Hub:    hub,
		Scorer: scorer,
	})
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    rooms,
		Policy:   app.SimplePolicy{},
		Hub:      hub,
		Scorer:   scorer,
	}
	tokens := NewTokenIssuer("jwt-secret", time.Hour)
	return &fixture{router: SetupRouter(context.Background(), cfg, o, tokens, nil), tokens: tokens}
}

type reply struct {
	Ok        bool                `json:"ok"`
	Error     string              `json:"error"`
	Duplicate bool                `json:"duplicate"`
	Seat      json.RawMessage     `json:"seat"`
	Queue     json.RawMessage     `json:"queue"`
	Stats     json.RawMessage     `json:"stats"`
	Rooms     json.RawMessage     `json:"rooms"`
	Requests  []domain.MicRequest `json:"requests"`
	Results   []hookResult        `json:"results"`
}

func (f *fixture) do(t *testing.T, method, path string, user domain.UserID, body string, header ...string) (int, reply) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if user != "" {
		tok, err := f.tokens.Issue(user)
		if err != nil {
			t.Fatal(err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	var r reply
	if err := json.Unmarshal(w.Body.Bytes(), &r); err != nil {
		t.Fatalf("%s %s: body %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, r
}

func TestControlFlow(t *testing.T) {
	f := newFixture(t, false)
	for _, u := range []domain.UserID{"mod", "a", "b"} {
		if code, r := f.do(t, "POST", "/api/rooms/stage/join", u, ""); code != 200 || !r.Ok {
			t.Fatalf("join %s = %d %+v", u, code, r)
		}
	}
	for _, u := range []domain.UserID{"a", "b"} {
		if code, _ := f.do(t, "POST", "/api/rooms/stage/hand", u, ""); code != 200 {
			t.Fatalf("hand %s = %d", u, code)
		}
	}

	steps := []struct {
		method, path string
		user         domain.UserID
		code         int
		err          string
	}{
		{"POST", "/api/rooms/stage/requests/a/approve", "b", 403, "FORBIDDEN"},
		{"POST", "/api/rooms/stage/requests/a/approve", "mod", 200, ""},
		{"POST", "/api/rooms/stage/requests/b/approve", "mod", 409, "SEAT_FULL"},
		{"POST", "/api/rooms/stage/requests/nobody/deny", "mod", 404, "NOT_FOUND"},
		{"POST", "/api/rooms/stage/hand", "a", 409, "CONFLICT"},
		{"DELETE", "/api/rooms/stage/seats/a", "mod", 200, ""},
		{"POST", "/api/rooms/stage/requests/b/approve", "mod", 200, ""},
		{"POST", "/api/rooms/elsewhere/hand", "a", 404, "NOT_FOUND"},
	}
	for _, s := range steps {
		code, r := f.do(t, s.method, s.path, s.user, "")
		if code != s.code || r.Error != s.err {
			t.Errorf("%s %s as %s = %d %q, want %d %q", s.method, s.path, s.user, code, r.Error, s.code, s.err)
		}
	}

	code, r := f.do(t, "GET", "/api/rooms/stage/queue", "", "")
	if code != 200 || string(r.Queue) != "[]" {
		t.Errorf("queue = %d %s", code, r.Queue)
	}
}

func TestRequestHistoryRoute(t *testing.T) {
	f := newFixture(t, false)
	for _, u := range []domain.UserID{"mod", "a"} {
		if code, _ := f.do(t, "POST", "/api/rooms/stage/join", u, ""); code != 200 {
			t.Fatalf("join %s = %d", u, code)
		}
	}
	f.do(t, "POST", "/api/rooms/stage/hand", "a", "")
	f.do(t, "POST", "/api/rooms/stage/requests/a/deny", "mod", "")
	f.do(t, "POST", "/api/rooms/stage/hand", "a", "")

	code, r := f.do(t, "GET", "/api/rooms/stage/requests/a/history", "a", "")
	if code != 200 || len(r.Requests) != 2 || r.Requests[0].Status != domain.StatusDenied || r.Requests[1].Status != domain.StatusPending {
		t.Fatalf("own history = %d %+v", code, r)
	}
	code, r = f.do(t, "GET", "/api/rooms/stage/requests/a/history?limit=1", "mod", "")
	if code != 200 || len(r.Requests) != 1 || r.Requests[0].Status != domain.StatusPending {
		t.Errorf("moderator history = %d %+v", code, r)
	}
	code, r = f.do(t, "GET", "/api/rooms/stage/requests/mod/history", "mod", "")
	if code != 200 || r.Requests == nil || len(r.Requests) != 0 {
		t.Errorf("empty history = %d %+v", code, r)
	}

	steps := []struct {
		path string
		user domain.UserID
		code int
		err  string
	}{
		{"/api/rooms/stage/requests/a/history", "", 401, "AUTH"},
		{"/api/rooms/stage/requests/a/history", "b", 403, "FORBIDDEN"},
		{"/api/rooms/stage/requests/a/history?limit=x", "a", 400, "BAD_REQUEST"},
		{"/api/rooms/elsewhere/requests/a/history", "a", 404, "NOT_FOUND"},
	}
	for _, s := range steps {
		code, r := f.do(t, "GET", s.path, s.user, "")
		if code != s.code || r.Error != s.err {
			t.Errorf("GET %s as %s = %d %q, want %d %q", s.path, s.user, code, r.Error, s.code, s.err)
		}
	}
}

func TestIdentity(t *testing.T) {
	f := newFixture(t, false)
	if code, r := f.do(t, "POST", "/api/rooms/stage/join", "", ""); code != 401 || r.Error != "AUTH" {
		t.Errorf("anonymous join = %d %+v", code, r)
	}
	if code, _ := f.do(t, "POST", "/api/rooms/stage/join", "", "", "Authorization", "Bearer nope"); code != 401 {
		t.Errorf("bad token = %d", code)
	}
	other := NewTokenIssuer("other-secret", time.Hour)
	tok, _ := other.Issue("a")
	if code, _ := f.do(t, "POST", "/api/rooms/stage/join", "", "", "Authorization", "Bearer "+tok); code != 401 {
		t.Errorf("foreign token = %d", code)
	}
	if code, _ := f.do(t, "GET", "/api/rooms/stage/stats", "", ""); code != 200 {
		t.Errorf("public stats = %d", code)
	}
}

func TestGuestIdentity(t *testing.T) {
	f := newFixture(t, true)
	code, r := f.do(t, "POST", "/api/rooms/stage/join", "", "")
	if code != 200 {
		t.Fatalf("guest join = %d %+v", code, r)
	}
	var seat domain.ParticipantSeat
	if err := json.Unmarshal(r.Seat, &seat); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(seat.UserID), "guest-") {
		t.Errorf("guest user = %q", seat.UserID)
	}
}

func TestTokenExpiry(t *testing.T) {
	tokens := NewTokenIssuer("s", time.Minute)
	base := time.Now()
	tokens.now = func() time.Time { return base }
	tok, err := tokens.Issue("a")
	if err != nil {
		t.Fatal(err)
	}
	if c, err := tokens.Validate(tok); err != nil || c.UserID != "a" {
		t.Fatalf("validate = %+v, %v", c, err)
	}
	tokens.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := tokens.Validate(tok); err == nil {
		t.Error("expired token accepted")
	}
}

func TestFeaturedAndExplore(t *testing.T) {
	f := newFixture(t, false)
	if code, _ := f.do(t, "PUT", "/api/rooms/stage/featured", "mod", `{}`); code != 400 {
		t.Errorf("featured without flag = %d", code)
	}
	if code, r := f.do(t, "PUT", "/api/rooms/stage/featured", "a", `{"featured":true}`); code != 403 {
		t.Errorf("featured by listener = %d %+v", code, r)
	}
	if code, _ := f.do(t, "PUT", "/api/rooms/stage/featured", "mod", `{"featured":true}`); code != 200 {
		t.Errorf("featured by moderator = %d", code)
	}
	if code, _ := f.do(t, "GET", "/api/explore?sort=loudest", "", ""); code != 400 {
		t.Errorf("bad sort = %d", code)
	}
	if code, _ := f.do(t, "GET", "/api/explore?sort=featured&limit=-1", "", ""); code != 400 {
		t.Errorf("bad limit = %d", code)
	}
	if code, r := f.do(t, "GET", "/api/explore?sort=featured&limit=5", "", ""); code != 200 || !r.Ok {
		t.Errorf("explore = %d %+v", code, r)
	}
}

func signed(body string) []string {
	return []string{SignatureHeader, Sign([]byte(hookSecret), []byte(body))}
}

func TestWebhook(t *testing.T) {
	f := newFixture(t, false)
	joined := `{"event":"peer.joined","room_id":"stage","event_id":"e1","peer":{"id":"a","role":"listener"}}`

	if code, _ := f.do(t, "POST", "/api/hooks/voice", "", joined); code != 401 {
		t.Errorf("unsigned = %d", code)
	}
	if code, _ := f.do(t, "POST", "/api/hooks/voice", "", joined, SignatureHeader, "sha256=00"); code != 401 {
		t.Errorf("wrong signature = %d", code)
	}
	if code, _ := f.do(t, "POST", "/api/hooks/voice", "", "{not json", signed("{not json")...); code != 400 {
		t.Errorf("malformed = %d", code)
	}
	bad := `{"event":"peer.joined","room_id":"stage","event_id":"e0"}`
	if code, _ := f.do(t, "POST", "/api/hooks/voice", "", bad, signed(bad)...); code != 400 {
		t.Errorf("peer event without peer = %d", code)
	}

	if code, r := f.do(t, "POST", "/api/hooks/voice", "", joined, signed(joined)...); code != 200 || r.Duplicate {
		t.Fatalf("first delivery = %d %+v", code, r)
	}
	if code, r := f.do(t, "POST", "/api/hooks/voice", "", joined, signed(joined)...); code != 200 || !r.Duplicate {
		t.Errorf("redelivery = %d %+v", code, r)
	}

	_, r := f.do(t, "GET", "/api/rooms/stage/stats", "", "")
	var st domain.RoomLiveStats
	if err := json.Unmarshal(r.Stats, &st); err != nil {
		t.Fatal(err)
	}
	if st.ListenerCount != 1 || !st.IsLive {
		t.Errorf("stats after join = %+v", st)
	}
}

func TestWebhookWithoutSecretRejectsEverything(t *testing.T) {
	f := newFixtureConfig(t, &config.Config{Mode: "test", Secret: "cookie-secret"})
	body := `{"event":"peer.joined","room_id":"stage","event_id":"x1","peer":{"id":"a","role":"speaker"}}`
	for i := range 3 {
		if code, r := f.do(t, "POST", "/api/hooks/voice", "", body); code != 401 || r.Error != "AUTH" {
			t.Errorf("unsigned delivery %d = %d %+v", i, code, r)
		}
	}
	if code, _ := f.do(t, "POST", "/api/hooks/voice", "", body, SignatureHeader, Sign(nil, []byte(body))); code != 401 {
		t.Errorf("delivery signed with an empty key = %d", code)
	}

	_, r := f.do(t, "GET", "/api/rooms/stage/stats", "", "")
	var st domain.RoomLiveStats
	if err := json.Unmarshal(r.Stats, &st); err != nil {
		t.Fatal(err)
	}
	if st.SpeakerCount != 0 || st.IsLive {
		t.Errorf("rejected events changed stats: %+v", st)
	}
}

func TestWebhookBatch(t *testing.T) {
	f := newFixture(t, false)
	var buf bytes.Buffer
	buf.WriteString(`[`)
	buf.WriteString(`{"event":"peer.joined","room_id":"stage","event_id":"b1","peer":{"id":"a","role":"speaker"}},`)
	buf.WriteString(`{"event":"track.updated","room_id":"stage"},`)
	buf.WriteString(`{"event":"peer.joined","room_id":"stage","event_id":"b1","peer":{"id":"a","role":"speaker"}},`)
	buf.WriteString(`{"event":"bogus","room_id":"stage","event_id":"b3"}`)
	buf.WriteString(`]`)
	body := buf.String()

	code, r := f.do(t, "POST", "/api/hooks/voice", "", body, signed(body)...)
	if code != 200 || len(r.Results) != 4 {
		t.Fatalf("batch = %d %+v", code, r)
	}
	if !r.Results[0].Applied || r.Results[0].EventID != "b1" {
		t.Errorf("first = %+v", r.Results[0])
	}
	if !r.Results[1].Applied || r.Results[1].EventID == "" {
		t.Errorf("event without id = %+v", r.Results[1])
	}
	if r.Results[2].Applied || r.Results[2].Error != "" {
		t.Errorf("duplicate in batch = %+v", r.Results[2])
	}
	if r.Results[3].Error != codeBadRequest {
		t.Errorf("bogus event = %+v", r.Results[3])
	}
}

func TestStatusMapping(t *testing.T) {
	cases := map[domain.Code]int{
		domain.CodeAuth:      http.StatusUnauthorized,
		domain.CodeForbidden: http.StatusForbidden,
		domain.CodeNotFound:  http.StatusNotFound,
		domain.CodeConflict:  http.StatusConflict,
		domain.CodeSeatFull:  http.StatusConflict,
		domain.CodeNetwork:   http.StatusServiceUnavailable,
		domain.CodeInternal:  http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := statusOf(code); got != want {
			t.Errorf("statusOf(%s) = %d, want %d", code, got, want)
		}
	}
}
