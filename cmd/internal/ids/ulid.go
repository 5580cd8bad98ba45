// Package ids provides the identifier primitives used across the server.
package ids

import (
	"crypto/rand"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// NewULID returns a new ULID string (26 chars).
// Connection and envelope ids use ULIDs so they sort by creation time in logs.
func NewULID(now time.Time) (string, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	id, err := ulid.New(ulid.Timestamp(now), rand.Reader)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// NewMessageID returns a random UUIDv4 used as message primary key.
func NewMessageID() string {
	return uuid.NewString()
}

// NewRoomID returns a random UUIDv4 used as room primary key.
func NewRoomID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
