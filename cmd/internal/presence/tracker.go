package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"messenger/cmd/internal/metrics"
)

// Tracker records connection lifecycle events against a Store and mirrors
// transitions to an optional StatusWriter.
//
// Store failures are logged at warn level and returned wrapped in
// ErrStoreUnavailable; they never abort the caller's connection lifecycle.
type Tracker struct {
	store   Store
	writer  StatusWriter
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// WithStatusWriter mirrors transitions to w.
func WithStatusWriter(w StatusWriter) TrackerOption {
	return func(t *Tracker) { t.writer = w }
}

// WithMetrics records transitions and failures.
func WithMetrics(m *metrics.Metrics) TrackerOption {
	return func(t *Tracker) { t.metrics = m }
}

// WithClock overrides the time source used for last-seen timestamps.
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

// NewTracker constructs a Tracker. A nil store falls back to MemoryStore.
func NewTracker(log *slog.Logger, store Store, opts ...TrackerOption) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	t := &Tracker{
		store: store,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// RecordConnect adds connID to the user's set and reports whether this was the online transition.
func (t *Tracker) RecordConnect(ctx context.Context, userID, connID string) (bool, error) {
	first, err := t.store.AddConnection(ctx, userID, connID)
	if err != nil {
		err = unavailable(err)
		t.metrics.PresenceError("connect")
		t.log.Warn("presence.connect.fail", "user_id", userID, "conn_id", connID, "err", err)
		return false, err
	}
	if first {
		t.transition(ctx, userID, StatusOnline)
	}
	return first, nil
}

// RecordDisconnect removes connID and reports whether this was the offline transition.
func (t *Tracker) RecordDisconnect(ctx context.Context, userID, connID string) (bool, error) {
	last, err := t.store.RemoveConnection(ctx, userID, connID)
	if err != nil {
		err = unavailable(err)
		t.metrics.PresenceError("disconnect")
		t.log.Warn("presence.disconnect.fail", "user_id", userID, "conn_id", connID, "err", err)
		return false, err
	}
	if last {
		t.transition(ctx, userID, StatusOffline)
	}
	return last, nil
}

// IsOnline reports whether the user has at least one open connection.
func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := t.store.ConnectionCount(ctx, userID)
	if err != nil {
		return false, unavailable(err)
	}
	return n > 0, nil
}

// Status returns the last-known status.
func (t *Tracker) Status(ctx context.Context, userID string) (string, error) {
	st, err := t.store.Status(ctx, userID)
	if err != nil {
		return "", unavailable(err)
	}
	return st, nil
}

func (t *Tracker) transition(ctx context.Context, userID, status string) {
	t.metrics.PresenceTransition(status)
	t.log.Info("presence.transition", "user_id", userID, "status", status)

	if t.writer == nil {
		return
	}
	if err := t.writer.PersistStatus(ctx, userID, status, t.now()); err != nil {
		t.metrics.PresenceError("persist")
		t.log.Warn("presence.persist.fail", "user_id", userID, "status", status, "err", err)
	}
}

func unavailable(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
