package messages

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotMember is returned when the caller has no active membership in the room.
	ErrNotMember = errors.New("not a member of this room")

	// ErrNotSender is returned when deleting a message someone else sent.
	ErrNotSender = errors.New("can only delete own messages")

	ErrNotFound = errors.New("message not found")

	// ErrEmptyMessage is returned when neither content nor an attachment is given.
	ErrEmptyMessage = errors.New("message must have content or attachment")

	ErrContentTooLong = errors.New("content too long")

	// ErrBlocked is returned when moderation rejects the content.
	ErrBlocked = errors.New("message blocked by moderation")
)
