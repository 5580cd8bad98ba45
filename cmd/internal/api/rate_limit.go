package api

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/realtime"
)

// userLimiter throttles API requests per authenticated user with one sliding
// window each. Users idle for a full window are swept.
type userLimiter struct {
	limit  int
	window time.Duration

	mu        sync.Mutex
	users     map[string]*realtime.RateLimiter
	lastSeen  map[string]time.Time
	lastSweep time.Time
}

func newUserLimiter(limit int, window time.Duration) *userLimiter {
	return &userLimiter{
		limit:    limit,
		window:   window,
		users:    make(map[string]*realtime.RateLimiter),
		lastSeen: make(map[string]time.Time),
	}
}

func (l *userLimiter) allow(userID string, now time.Time) bool {
	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.window {
		for id, seen := range l.lastSeen {
			if now.Sub(seen) >= l.window {
				delete(l.lastSeen, id)
				delete(l.users, id)
			}
		}
		l.lastSweep = now
	}
	rl, ok := l.users[userID]
	if !ok {
		rl = realtime.NewRateLimiter(l.limit, l.window)
		l.users[userID] = rl
	}
	l.lastSeen[userID] = now
	l.mu.Unlock()

	return rl.Allow(now)
}

// throttle must run behind auth.RequireIdentity.
func (h *Handler) throttle(next http.Handler) http.Handler {
	if h.limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.IdentityFrom(r.Context())
		if !h.limiter.allow(id.UserID, time.Now()) {
			h.log.Info("api.rate_limited", "user_id", id.UserID, "path", r.URL.Path)
			writeRateLimited(w, h.limiter.window)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(int64(retryAfter.Seconds()), 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
}
