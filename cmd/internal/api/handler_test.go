package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/delivery"
	"messenger/cmd/internal/messages"
	"messenger/cmd/internal/presence"
	"messenger/cmd/internal/realtime"
	"messenger/cmd/internal/rooms"
	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/golang-jwt/jwt/v5"
)

const apiTestSecret = "api-test-secret-0123456789abcdef012"

type apiHarness struct {
	t       *testing.T
	srv     *httptest.Server
	store   *messages.MemoryStore
	tracker *presence.Tracker
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	return newAPIHarnessWithConfig(t, Config{MaxBodyBytes: 4096, MaxHistoryLimit: 200})
}

func newAPIHarnessWithConfig(t *testing.T, cfg Config) *apiHarness {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	verifier, err := auth.NewJWTVerifier(apiTestSecret, "", 0)
	if err != nil {
		t.Fatalf("NewJWTVerifier: %v", err)
	}

	members := realtime.NewMemoryMembershipIndex()
	members.SetMember("r1", "alice", true)
	members.SetMember("r1", "bob", true)
	router := realtime.NewRouter(log, members)

	store := messages.NewMemoryStore()
	svc, err := messages.NewService(log, store, members, router)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	coord, err := delivery.NewCoordinator(log, store, router)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	tracker := presence.NewTracker(log, presence.NewMemoryStore())
	rms, err := rooms.NewService(log, rooms.NewMemoryStore(members), store)
	if err != nil {
		t.Fatalf("rooms.NewService: %v", err)
	}

	h, err := NewHandler(log, cfg, verifier, rms, svc, coord, tracker)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	mux := http.NewServeMux()
	h.Register(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &apiHarness{t: t, srv: srv, store: store, tracker: tracker}
}

func (h *apiHarness) token(userID string) string {
	h.t.Helper()
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": userID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}).SignedString([]byte(apiTestSecret))
	if err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return tok
}

func (h *apiHarness) do(method, path, userID string, body any) (int, []byte) {
	h.t.Helper()

	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = bytes.NewBufferString(b)
		default:
			raw, err := json.Marshal(b)
			if err != nil {
				h.t.Fatalf("marshal: %v", err)
			}
			rdr = bytes.NewReader(raw)
		}
	}

	req, err := http.NewRequest(method, h.srv.URL+path, rdr)
	if err != nil {
		h.t.Fatalf("NewRequest: %v", err)
	}
	if userID != "" {
		req.Header.Set("Authorization", "Bearer "+h.token(userID))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := h.srv.Client().Do(req)
	if err != nil {
		h.t.Fatalf("Do: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, out
}

func errorCode(t *testing.T, body []byte) string {
	t.Helper()
	var e errorResponse
	if err := json.Unmarshal(body, &e); err != nil {
		t.Fatalf("decode error body %q: %v", body, err)
	}
	return e.Error
}

func TestAPI_RequiresBearer(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	for _, path := range []string{"/rooms", "/rooms/r1", "/rooms/r1/messages", "/rooms/r1/unread", "/users/alice/presence"} {
		status, body := h.do(http.MethodGet, path, "", nil)
		if status != http.StatusUnauthorized {
			t.Fatalf("%s: status=%d want 401", path, status)
		}
		if code := errorCode(t, body); code != "unauthorized" {
			t.Fatalf("%s: error=%q", path, code)
		}
	}
}

func TestAPI_SendAndHistory(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	status, body := h.do(http.MethodPost, "/rooms/r1/messages", "alice", map[string]any{"content": "hello"})
	if status != http.StatusCreated {
		t.Fatalf("send status=%d body=%s", status, body)
	}
	var sent v1.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if sent.RoomID != "r1" || sent.SenderID != "alice" || sent.Status != v1.StatusSent {
		t.Fatalf("sent=%+v", sent)
	}

	status, body = h.do(http.MethodGet, "/rooms/r1/messages?limit=10", "bob", nil)
	if status != http.StatusOK {
		t.Fatalf("history status=%d body=%s", status, body)
	}
	var hist historyResponse
	if err := json.Unmarshal(body, &hist); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(hist.Messages) != 1 || hist.Messages[0].ID != sent.ID {
		t.Fatalf("history=%+v", hist.Messages)
	}
}

func TestAPI_SendErrors(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	tests := []struct {
		name   string
		user   string
		body   any
		status int
		code   string
	}{
		{name: "non member", user: "mallory", body: map[string]any{"content": "hi"}, status: http.StatusForbidden, code: "forbidden"},
		{name: "empty", user: "alice", body: map[string]any{}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "blocked", user: "alice", body: map[string]any{"content": "free spam"}, status: http.StatusBadRequest, code: "blocked"},
		{name: "unknown field", user: "alice", body: map[string]any{"content": "hi", "extra": 1}, status: http.StatusBadRequest, code: "invalid_json"},
		{name: "bad json", user: "alice", body: "{", status: http.StatusBadRequest, code: "invalid_json"},
		{name: "negative ttl", user: "alice", body: map[string]any{"content": "hi", "ttl": -1}, status: http.StatusBadRequest, code: "invalid_request"},
	}

	for _, tc := range tests {
		status, body := h.do(http.MethodPost, "/rooms/r1/messages", tc.user, tc.body)
		if status != tc.status {
			t.Fatalf("%s: status=%d want %d body=%s", tc.name, status, tc.status, body)
		}
		if code := errorCode(t, body); code != tc.code {
			t.Fatalf("%s: code=%q want %q", tc.name, code, tc.code)
		}
	}
}

func TestAPI_HistoryRejectsBadQuery(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)
	for _, q := range []string{"?limit=abc", "?limit=0", "?before=yesterday"} {
		status, _ := h.do(http.MethodGet, "/rooms/r1/messages"+q, "alice", nil)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: status=%d want 400", q, status)
		}
	}
	if status, _ := h.do(http.MethodGet, "/rooms/r1/messages", "mallory", nil); status != http.StatusForbidden {
		t.Fatalf("non member history status=%d want 403", status)
	}
}

func TestAPI_DeleteSenderOnly(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	_, body := h.do(http.MethodPost, "/rooms/r1/messages", "alice", map[string]any{"content": "oops"})
	var sent v1.Message
	if err := json.Unmarshal(body, &sent); err != nil {
		t.Fatalf("decode: %v", err)
	}

	if status, _ := h.do(http.MethodDelete, "/messages/"+sent.ID, "bob", nil); status != http.StatusForbidden {
		t.Fatalf("bob delete status=%d want 403", status)
	}
	if status, _ := h.do(http.MethodDelete, "/messages/"+sent.ID, "alice", nil); status != http.StatusNoContent {
		t.Fatalf("alice delete status=%d want 204", status)
	}
	if status, _ := h.do(http.MethodDelete, "/messages/"+sent.ID, "alice", nil); status != http.StatusNotFound {
		t.Fatalf("second delete status=%d want 404", status)
	}
}

func TestAPI_ReadAndUnread(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	for _, c := range []string{"one", "two"} {
		if status, body := h.do(http.MethodPost, "/rooms/r1/messages", "alice", map[string]any{"content": c}); status != http.StatusCreated {
			t.Fatalf("send status=%d body=%s", status, body)
		}
	}

	unread := func() int64 {
		t.Helper()
		status, body := h.do(http.MethodGet, "/rooms/r1/unread", "bob", nil)
		if status != http.StatusOK {
			t.Fatalf("unread status=%d body=%s", status, body)
		}
		var out unreadResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out.UnreadCount
	}

	if n := unread(); n != 2 {
		t.Fatalf("unread=%d want 2", n)
	}
	if status, body := h.do(http.MethodPost, "/rooms/r1/read", "bob", nil); status != http.StatusOK {
		t.Fatalf("read status=%d body=%s", status, body)
	}
	if n := unread(); n != 0 {
		t.Fatalf("unread after read=%d want 0", n)
	}
	if status, _ := h.do(http.MethodPost, "/rooms/r1/read", "mallory", nil); status != http.StatusForbidden {
		t.Fatalf("non member read status=%d want 403", status)
	}
}

func TestAPI_Presence(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	get := func() presenceResponse {
		t.Helper()
		status, body := h.do(http.MethodGet, "/users/carol/presence", "alice", nil)
		if status != http.StatusOK {
			t.Fatalf("presence status=%d body=%s", status, body)
		}
		var out presenceResponse
		if err := json.Unmarshal(body, &out); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return out
	}

	if p := get(); p.Online || p.Status != presence.StatusOffline {
		t.Fatalf("before connect: %+v", p)
	}
	if _, err := h.tracker.RecordConnect(context.Background(), "carol", "c1"); err != nil {
		t.Fatalf("RecordConnect: %v", err)
	}
	if p := get(); !p.Online || p.Status != presence.StatusOnline {
		t.Fatalf("after connect: %+v", p)
	}
}

func TestAPI_RateLimitedPerUser(t *testing.T) {
	t.Parallel()

	h := newAPIHarnessWithConfig(t, Config{
		MaxBodyBytes:      4096,
		MaxHistoryLimit:   200,
		RateLimitRequests: 2,
		RateLimitWindow:   time.Hour,
	})

	for i := 0; i < 2; i++ {
		if status, body := h.do(http.MethodGet, "/rooms/r1/unread", "alice", nil); status != http.StatusOK {
			t.Fatalf("request %d status=%d body=%s", i, status, body)
		}
	}
	status, body := h.do(http.MethodGet, "/rooms/r1/unread", "alice", nil)
	if status != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", status)
	}
	if code := errorCode(t, body); code != "rate_limited" {
		t.Fatalf("code=%q", code)
	}
	if status, _ := h.do(http.MethodGet, "/rooms/r1/unread", "bob", nil); status != http.StatusOK {
		t.Fatalf("bob status=%d want 200", status)
	}
}

func TestAPI_RoomLifecycle(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	status, body := h.do(http.MethodPost, "/rooms", "alice", map[string]any{
		"type": "group", "name": "team", "memberIds": []string{"bob"},
	})
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", status, body)
	}
	var room rooms.Detail
	if err := json.Unmarshal(body, &room); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if room.ID == "" || room.Name != "team" || len(room.Members) != 2 {
		t.Fatalf("room=%+v", room)
	}
	path := "/rooms/" + room.ID

	// The new room is usable for messages straight away.
	if status, body := h.do(http.MethodPost, path+"/messages", "bob", map[string]any{"content": "hi"}); status != http.StatusCreated {
		t.Fatalf("send status=%d body=%s", status, body)
	}

	status, body = h.do(http.MethodGet, "/rooms", "alice", nil)
	if status != http.StatusOK {
		t.Fatalf("list status=%d body=%s", status, body)
	}
	var list roomListResponse
	if err := json.Unmarshal(body, &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Rooms) != 1 || list.Rooms[0].ID != room.ID || list.Rooms[0].UnreadCount != 1 {
		t.Fatalf("list=%+v", list.Rooms)
	}

	if status, _ := h.do(http.MethodPost, path+"/members", "bob", map[string]any{"userId": "carol"}); status != http.StatusForbidden {
		t.Fatalf("member add status=%d want 403", status)
	}
	if status, body := h.do(http.MethodPost, path+"/members", "alice", map[string]any{"userId": "carol"}); status != http.StatusOK {
		t.Fatalf("admin add status=%d body=%s", status, body)
	}
	if status, _ := h.do(http.MethodGet, path, "carol", nil); status != http.StatusOK {
		t.Fatalf("carol get status=%d want 200", status)
	}

	if status, body := h.do(http.MethodDelete, path+"/members/carol", "alice", nil); status != http.StatusOK {
		t.Fatalf("remove status=%d body=%s", status, body)
	}
	if status, _ := h.do(http.MethodGet, path, "carol", nil); status != http.StatusNotFound {
		t.Fatalf("removed get status=%d want 404", status)
	}
	if status, _ := h.do(http.MethodPost, path+"/messages", "carol", map[string]any{"content": "still here?"}); status != http.StatusForbidden {
		t.Fatalf("removed send status=%d want 403", status)
	}
}

func TestAPI_RoomErrors(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		status int
		code   string
	}{
		{name: "bad type", method: http.MethodPost, path: "/rooms", body: map[string]any{"type": "channel", "memberIds": []string{"bob"}}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "no members", method: http.MethodPost, path: "/rooms", body: map[string]any{"type": "group"}, status: http.StatusBadRequest, code: "invalid_request"},
		{name: "unknown field", method: http.MethodPost, path: "/rooms", body: map[string]any{"type": "group", "memberIds": []string{"bob"}, "x": 1}, status: http.StatusBadRequest, code: "invalid_json"},
		{name: "unknown room", method: http.MethodGet, path: "/rooms/nope", status: http.StatusNotFound, code: "not_found"},
		{name: "add to unknown room", method: http.MethodPost, path: "/rooms/nope/members", body: map[string]any{"userId": "bob"}, status: http.StatusNotFound, code: "not_found"},
		{name: "remove from unknown room", method: http.MethodDelete, path: "/rooms/nope/members/bob", status: http.StatusNotFound, code: "not_found"},
	}

	for _, tc := range tests {
		status, body := h.do(tc.method, tc.path, "alice", tc.body)
		if status != tc.status {
			t.Fatalf("%s: status=%d want %d body=%s", tc.name, status, tc.status, body)
		}
		if code := errorCode(t, body); code != tc.code {
			t.Fatalf("%s: code=%q want %q", tc.name, code, tc.code)
		}
	}
}

func TestAPI_DirectRoomCreatedOnce(t *testing.T) {
	t.Parallel()

	h := newAPIHarness(t)

	status, body := h.do(http.MethodPost, "/rooms", "alice", map[string]any{"type": "direct", "memberIds": []string{"carol"}})
	if status != http.StatusCreated {
		t.Fatalf("create status=%d body=%s", status, body)
	}
	var first rooms.Detail
	if err := json.Unmarshal(body, &first); err != nil {
		t.Fatalf("decode: %v", err)
	}

	status, body = h.do(http.MethodPost, "/rooms", "carol", map[string]any{"type": "direct", "memberIds": []string{"alice"}})
	if status != http.StatusOK {
		t.Fatalf("second create status=%d want 200 body=%s", status, body)
	}
	var second rooms.Detail
	if err := json.Unmarshal(body, &second); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("second id=%s want %s", second.ID, first.ID)
	}
}
