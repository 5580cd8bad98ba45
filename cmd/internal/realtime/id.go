package realtime

import (
	"time"

	"messenger/cmd/internal/ids"
	v1 "messenger/shared/contracts/realtime/v1"
)

// NewConnID returns a ULID used as websocket connection id.
func NewConnID(now time.Time) (string, error) {
	return ids.NewULID(now)
}

// NewEvent builds a server envelope stamped with a fresh ULID and the current time.
func NewEvent(typ string, payload any) (v1.Envelope, error) {
	now := time.Now().UTC()
	id, err := ids.NewULID(now)
	if err != nil {
		return v1.Envelope{}, err
	}
	return v1.NewEnvelope(typ, id, now, payload)
}
