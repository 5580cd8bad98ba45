package messages

import (
	"context"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"
)

// Record is a stored message plus the fields the API never exposes.
type Record struct {
	v1.Message
	IsDeleted bool
}

// HistoryQuery selects a page of a room's visible messages.
type HistoryQuery struct {
	RoomID string
	Before time.Time
	Limit  int
	Now    time.Time
}

// Translation is one stored translation of a message.
type Translation struct {
	MessageID  string
	Language   string
	Content    string
	Confidence float64
}

// Store persists messages.
type Store interface {
	// Insert stores m and bumps the room's last_message_at in one transaction.
	Insert(ctx context.Context, m v1.Message) error

	// Get returns a message by id, deleted or not, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// History returns up to q.Limit visible messages created before q.Before,
	// oldest first. Deleted and expired messages are not visible.
	History(ctx context.Context, q HistoryQuery) ([]v1.Message, error)

	// SoftDelete marks a message deleted. Unknown ids return ErrNotFound.
	SoftDelete(ctx context.Context, id string) error

	// UnreadCount counts visible messages in roomID newer than userID's last
	// read time and not sent by userID.
	UnreadCount(ctx context.Context, roomID, userID string, now time.Time) (int64, error)

	// MemberLanguages returns the distinct preferred languages of the room's
	// active members other than exceptUserID.
	MemberLanguages(ctx context.Context, roomID, exceptUserID string) ([]string, error)

	// SaveTranslation upserts a translation.
	SaveTranslation(ctx context.Context, t Translation) error
}
