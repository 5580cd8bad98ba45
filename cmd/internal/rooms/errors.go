package rooms

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound is returned for unknown rooms and for rooms the caller is not
	// an active member of.
	ErrNotFound = errors.New("room not found")

	// ErrForbidden is returned when the caller lacks the room role an action needs.
	ErrForbidden = errors.New("insufficient room role")

	// ErrUnknownUser is returned when a member id does not name a known user.
	ErrUnknownUser = errors.New("unknown user")

	// ErrDirectRoom is returned when changing the membership of a direct room.
	ErrDirectRoom = errors.New("direct room membership is fixed")
)

// IsClientError reports whether err is caused by the request rather than the server.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrUnknownUser) ||
		errors.Is(err, ErrDirectRoom)
}
