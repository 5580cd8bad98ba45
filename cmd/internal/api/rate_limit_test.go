package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestUserLimiter_PerUserBudget(t *testing.T) {
	t.Parallel()

	l := newUserLimiter(2, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	for i := 0; i < 2; i++ {
		if !l.allow("alice", now) {
			t.Fatalf("alice request %d denied", i)
		}
	}
	if l.allow("alice", now) {
		t.Fatalf("alice third request allowed")
	}
	if !l.allow("bob", now) {
		t.Fatalf("bob shares alice's budget")
	}
	if !l.allow("alice", now.Add(time.Minute+time.Second)) {
		t.Fatalf("alice still denied after the window")
	}
}

func TestUserLimiter_SweepsIdleUsers(t *testing.T) {
	t.Parallel()

	l := newUserLimiter(1, time.Minute)
	now := time.Unix(1_700_000_000, 0)

	l.allow("alice", now)
	l.allow("bob", now.Add(2*time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.users["alice"]; ok {
		t.Fatalf("idle alice was not swept")
	}
	if _, ok := l.users["bob"]; !ok {
		t.Fatalf("bob missing")
	}
}

func TestWriteRateLimited(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	writeRateLimited(rec, 15*time.Minute)

	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status=%d want 429", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "900" {
		t.Fatalf("Retry-After=%q want 900", got)
	}
	if code := errorCode(t, rec.Body.Bytes()); code != "rate_limited" {
		t.Fatalf("code=%q", code)
	}
}
