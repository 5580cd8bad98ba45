// Package messages implements the message send, history, and delete paths.
//
// A sent message is persisted first and only then announced to the room with
// new_message; side work such as translation runs afterwards on the task queue.
package messages

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"messenger/cmd/internal/ids"
	"messenger/cmd/internal/tasks"
	v1 "messenger/shared/contracts/realtime/v1"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
	maxTTL              = 7 * 24 * time.Hour
)

// Attachment types accepted on send.
const (
	AttachmentImage = "image"
	AttachmentFile  = "file"
)

// Membership answers whether a user may act in a room.
type Membership interface {
	IsActiveMember(ctx context.Context, userID, roomID string) (bool, error)
}

// Emitter announces events to every connection in a room.
type Emitter interface {
	EmitToRoom(roomID string, env v1.Envelope)
}

// Submitter runs side work off the request path.
type Submitter interface {
	Submit(name string, t tasks.Task) error
}

// SendInput describes a message to post.
type SendInput struct {
	RoomID         string
	SenderID       string
	Content        *string
	AttachmentURL  *string
	AttachmentType *string
	ReplyToID      *string
	TTL            time.Duration
}

// Service coordinates message persistence and fan-out.
type Service struct {
	log        *slog.Logger
	store      Store
	members    Membership
	emitter    Emitter
	tasks      Submitter
	translator Translator
	moderator  Moderator
	sanitizer  *Sanitizer
	now        func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithTasks runs translation hooks on q. Without it no translation is attempted.
func WithTasks(q Submitter) Option {
	return func(s *Service) { s.tasks = q }
}

// WithTranslator overrides the default NoopTranslator.
func WithTranslator(t Translator) Option {
	return func(s *Service) {
		if t != nil {
			s.translator = t
		}
	}
}

// WithModerator overrides the default keyword moderator.
func WithModerator(m Moderator) Option {
	return func(s *Service) {
		if m != nil {
			s.moderator = m
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, store Store, members Membership, emitter Emitter, opts ...Option) (*Service, error) {
	if store == nil || members == nil || emitter == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:        log,
		store:      store,
		members:    members,
		emitter:    emitter,
		translator: NoopTranslator{},
		moderator:  NewKeywordModerator(),
		sanitizer:  NewSanitizer(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Send validates, persists, and announces a message.
func (s *Service) Send(ctx context.Context, in SendInput) (v1.Message, error) {
	roomID := strings.TrimSpace(in.RoomID)
	senderID := strings.TrimSpace(in.SenderID)
	if roomID == "" || senderID == "" {
		return v1.Message{}, ErrInvalidInput
	}

	if err := s.requireMember(ctx, senderID, roomID); err != nil {
		return v1.Message{}, err
	}

	content := trimPtr(in.Content)
	attachmentURL := trimPtr(in.AttachmentURL)
	attachmentType := trimPtr(in.AttachmentType)

	if content == nil && attachmentURL == nil {
		return v1.Message{}, ErrEmptyMessage
	}
	if attachmentType != nil {
		if attachmentURL == nil {
			return v1.Message{}, fmt.Errorf("%w: attachmentType without attachmentUrl", ErrInvalidInput)
		}
		if *attachmentType != AttachmentImage && *attachmentType != AttachmentFile {
			return v1.Message{}, fmt.Errorf("%w: attachmentType must be image or file", ErrInvalidInput)
		}
	}

	if content != nil {
		clean := s.sanitizer.Clean(*content)
		if utf8.RuneCountInString(clean) > MaxContentRunes {
			return v1.Message{}, ErrContentTooLong
		}
		allowed, err := s.moderator.Allow(ctx, clean)
		if err != nil {
			return v1.Message{}, fmt.Errorf("moderation: %w", err)
		}
		if !allowed {
			s.log.Info("messages.send.blocked", "room_id", roomID, "user_id", senderID)
			return v1.Message{}, ErrBlocked
		}
		if clean == "" {
			content = nil
		} else {
			content = &clean
		}
		if content == nil && attachmentURL == nil {
			return v1.Message{}, ErrEmptyMessage
		}
	}

	now := s.now()
	msg := v1.Message{
		ID:             ids.NewMessageID(),
		RoomID:         roomID,
		SenderID:       senderID,
		Content:        content,
		AttachmentURL:  attachmentURL,
		AttachmentType: attachmentType,
		Status:         v1.StatusSent,
		ReplyToID:      trimPtr(in.ReplyToID),
		CreatedAt:      now,
	}
	if in.TTL > 0 {
		ttl := in.TTL
		if ttl > maxTTL {
			ttl = maxTTL
		}
		exp := now.Add(ttl)
		msg.ExpiresAt = &exp
	}

	if err := s.store.Insert(ctx, msg); err != nil {
		return v1.Message{}, fmt.Errorf("insert message: %w", err)
	}

	eventID, err := ids.NewULID(now)
	if err != nil {
		return v1.Message{}, err
	}
	env, err := v1.NewEnvelope(v1.TypeNewMessage, eventID, now, msg)
	if err != nil {
		return v1.Message{}, err
	}
	s.emitter.EmitToRoom(roomID, env)
	s.log.Debug("messages.send", "room_id", roomID, "user_id", senderID, "message_id", msg.ID)

	if msg.Content != nil && s.tasks != nil {
		text := *msg.Content
		err := s.tasks.Submit("translate", func(ctx context.Context) error {
			return s.translateForMembers(ctx, msg.ID, roomID, senderID, text)
		})
		if err != nil {
			s.log.Warn("messages.translate.submit.fail", "message_id", msg.ID, "err", err)
		}
	}

	return msg, nil
}

// History returns up to limit messages created before before, oldest first.
// A zero before means now; limit defaults to 50 and is capped at 200.
func (s *Service) History(ctx context.Context, viewerID, roomID string, before time.Time, limit int) ([]v1.Message, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, ErrInvalidInput
	}
	if err := s.requireMember(ctx, viewerID, roomID); err != nil {
		return nil, err
	}

	now := s.now()
	if before.IsZero() {
		before = now
	}
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	return s.store.History(ctx, HistoryQuery{RoomID: roomID, Before: before, Limit: limit, Now: now})
}

// Delete soft-deletes a message sent by userID.
func (s *Service) Delete(ctx context.Context, userID, messageID string) error {
	messageID = strings.TrimSpace(messageID)
	if messageID == "" {
		return ErrInvalidInput
	}

	rec, err := s.store.Get(ctx, messageID)
	if err != nil {
		return err
	}
	if rec.IsDeleted {
		return ErrNotFound
	}
	if rec.SenderID != userID {
		return ErrNotSender
	}
	if err := s.store.SoftDelete(ctx, messageID); err != nil {
		return err
	}
	s.log.Info("messages.delete", "message_id", messageID, "room_id", rec.RoomID, "user_id", userID)
	return nil
}

// UnreadCount returns how many messages in roomID userID has not read.
func (s *Service) UnreadCount(ctx context.Context, userID, roomID string) (int64, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return 0, ErrInvalidInput
	}
	if err := s.requireMember(ctx, userID, roomID); err != nil {
		return 0, err
	}
	return s.store.UnreadCount(ctx, roomID, userID, s.now())
}

// RequireMember reports ErrNotMember unless userID is an active member of roomID.
func (s *Service) RequireMember(ctx context.Context, userID, roomID string) error {
	return s.requireMember(ctx, userID, roomID)
}

func (s *Service) requireMember(ctx context.Context, userID, roomID string) error {
	ok, err := s.members.IsActiveMember(ctx, userID, roomID)
	if err != nil {
		return fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		return ErrNotMember
	}
	return nil
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	if v == "" {
		return nil
	}
	return &v
}

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyMessage) ||
		errors.Is(err, ErrContentTooLong) ||
		errors.Is(err, ErrBlocked)
}
