package delivery

import (
	"context"
	"time"
)

// Store applies receipt transitions to persisted message state.
//
// Status only moves forward (sent -> delivered -> read); both operations are
// idempotent with respect to what they persist.
type Store interface {
	// MarkDelivered moves messageID from sent to delivered. A non-empty roomID
	// must match the message's room, otherwise nothing is written. It returns
	// the message's room and whether the row changed, or ErrMessageNotFound.
	MarkDelivered(ctx context.Context, messageID, roomID string) (storedRoomID string, changed bool, err error)

	// MarkRoomRead marks every message in roomID not sent by readerID as read and
	// records the reader's last read time. It returns the number of messages
	// that changed status.
	MarkRoomRead(ctx context.Context, roomID, readerID string, at time.Time) (int64, error)
}
