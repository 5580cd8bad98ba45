package presence

import "errors"

// ErrStoreUnavailable wraps any backing-store failure. Callers treat it as a
// warning: the connection lifecycle proceeds without presence bookkeeping.
var ErrStoreUnavailable = errors.New("presence: store unavailable")
