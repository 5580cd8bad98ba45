// Package delivery applies delivery and read receipts and announces them to rooms.
package delivery

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"messenger/cmd/internal/ids"
	"messenger/cmd/internal/metrics"
	v1 "messenger/shared/contracts/realtime/v1"
)

// Emitter is the room fan-out used to announce receipts.
type Emitter interface {
	EmitToRoom(roomID string, env v1.Envelope)
	EmitToRoomExcept(roomID string, env v1.Envelope, exceptConnID string)
}

// Coordinator persists receipt transitions and emits the matching events.
//
// Every successful call emits, whether or not the stored status changed, so a
// client that missed an earlier event converges on the next receipt.
type Coordinator struct {
	log     *slog.Logger
	store   Store
	emitter Emitter
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithMetrics records receipt outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		if now != nil {
			c.now = now
		}
	}
}

// NewCoordinator constructs a Coordinator.
func NewCoordinator(log *slog.Logger, store Store, emitter Emitter, opts ...Option) (*Coordinator, error) {
	if store == nil || emitter == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	c := &Coordinator{
		log:     log,
		store:   store,
		emitter: emitter,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// MarkDelivered records that messageID reached a client and announces
// message_status_updated{delivered} to the message's room.
//
// roomID, when set, must match the message's room. A mismatch writes nothing
// and is reported as ErrMessageNotFound.
func (c *Coordinator) MarkDelivered(ctx context.Context, messageID, roomID string) error {
	messageID = strings.TrimSpace(messageID)
	roomID = strings.TrimSpace(roomID)
	if messageID == "" {
		return ErrInvalidInput
	}

	storedRoom, changed, err := c.store.MarkDelivered(ctx, messageID, roomID)
	if errors.Is(err, ErrMessageNotFound) {
		c.metrics.Receipt("delivered", "not_found")
		c.log.Info("delivery.delivered.not_found", "message_id", messageID, "room_id", roomID)
		return err
	}
	if err != nil {
		c.metrics.Receipt("delivered", "error")
		c.log.Error("delivery.delivered.fail", "message_id", messageID, "err", err)
		return err
	}
	c.metrics.Receipt("delivered", outcome(changed))

	env, err := c.event(v1.TypeMessageStatusUpdated, v1.MessageStatusUpdatedPayload{
		MessageID: messageID,
		Status:    v1.StatusDelivered,
	})
	if err != nil {
		return err
	}
	c.emitter.EmitToRoom(storedRoom, env)
	return nil
}

// MarkRoomRead marks roomID read for readerID and announces messages_read to
// the room. exceptConnID ("" for none) is the originating connection, which
// does not receive its own announcement.
func (c *Coordinator) MarkRoomRead(ctx context.Context, roomID, readerID, exceptConnID string) error {
	roomID = strings.TrimSpace(roomID)
	readerID = strings.TrimSpace(readerID)
	if roomID == "" || readerID == "" {
		return ErrInvalidInput
	}

	n, err := c.store.MarkRoomRead(ctx, roomID, readerID, c.now())
	if err != nil {
		c.metrics.Receipt("read", "error")
		c.log.Error("delivery.read.fail", "room_id", roomID, "user_id", readerID, "err", err)
		return err
	}
	c.metrics.Receipt("read", outcome(n > 0))
	c.log.Debug("delivery.read", "room_id", roomID, "user_id", readerID, "updated", n)

	env, err := c.event(v1.TypeMessagesRead, v1.MessagesReadEventPayload{RoomID: roomID, UserID: readerID})
	if err != nil {
		return err
	}
	c.emitter.EmitToRoomExcept(roomID, env, exceptConnID)
	return nil
}

func (c *Coordinator) event(typ string, payload any) (v1.Envelope, error) {
	now := c.now()
	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.NewEnvelope(typ, id, now, payload)
}

func outcome(changed bool) string {
	if changed {
		return "updated"
	}
	return "unchanged"
}
