package delivery

import "errors"

var (
	// ErrMessageNotFound is returned when a receipt names an unknown message, or
	// a message that does not belong to the stated room.
	ErrMessageNotFound = errors.New("message not found")

	ErrInvalidInput = errors.New("invalid input")
)
