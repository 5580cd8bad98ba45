// Package presence tracks which users have at least one open connection.
//
// A user's presence is the set of their open connection ids. The set going from
// empty to non-empty is the online transition; going back to empty is the offline
// transition. Each backend performs add-and-check / remove-and-check atomically so
// racing connects or disconnects of the same user fire a transition exactly once.
package presence

import (
	"context"

	v1 "messenger/shared/contracts/realtime/v1"
)

// Status values stored as the last-known status.
const (
	StatusOnline  = v1.PresenceOnline
	StatusOffline = v1.PresenceOffline
)

// Store is the shared presence backend.
type Store interface {
	// AddConnection adds connID to the user's set. first is true when the set was
	// empty before the add; the store has then already recorded StatusOnline.
	AddConnection(ctx context.Context, userID, connID string) (first bool, err error)

	// RemoveConnection removes connID. last is true when this removal emptied the
	// set; the store has then already recorded StatusOffline.
	RemoveConnection(ctx context.Context, userID, connID string) (last bool, err error)

	// ConnectionCount returns the size of the user's set.
	ConnectionCount(ctx context.Context, userID string) (int64, error)

	// Status returns the last-known status (StatusOffline when never recorded).
	Status(ctx context.Context, userID string) (string, error)
}
