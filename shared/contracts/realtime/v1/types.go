package v1

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Message delivery statuses. The order is sent -> delivered -> read and never regresses.
const (
	StatusSent      = "sent"
	StatusDelivered = "delivered"
	StatusRead      = "read"
)

// Presence statuses.
const (
	PresenceOnline  = "online"
	PresenceOffline = "offline"
)

// ---- Inbound payloads ----

// JoinRoomPayload requests an interactive room join.
//
// Clients may send either a bare JSON string ("room-id") or an object ({"roomId": "room-id"}).
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
}

// UnmarshalJSON accepts both the bare string and the object form.
func (p *JoinRoomPayload) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		p.RoomID = strings.TrimSpace(id)
		return nil
	}

	type alias JoinRoomPayload
	var a alias
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	p.RoomID = strings.TrimSpace(a.RoomID)
	return nil
}

// TypingPayload is sent by a client for typing_start / typing_stop.
type TypingPayload struct {
	RoomID string `json:"roomId"`
}

// MessageDeliveredPayload acknowledges that a message reached the client.
type MessageDeliveredPayload struct {
	MessageID string `json:"messageId"`
	RoomID    string `json:"roomId"`
}

// MessagesReadPayload marks every message in a room as read by the sender.
type MessagesReadPayload struct {
	RoomID string `json:"roomId"`
}

// ---- Outbound payloads ----

// UserJoinedPayload announces that userId joined roomId.
type UserJoinedPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// TypingEventPayload mirrors a typing signal to the other room members.
type TypingEventPayload struct {
	UserID string `json:"userId"`
	RoomID string `json:"roomId"`
}

// MessageStatusUpdatedPayload announces a message delivery status.
type MessageStatusUpdatedPayload struct {
	MessageID string `json:"messageId"`
	Status    string `json:"status"`
}

// MessagesReadEventPayload announces that userId read roomId.
type MessagesReadEventPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// PresenceUpdatePayload announces an online/offline change.
type PresenceUpdatePayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// Message is the full message record carried by new_message and returned by the HTTP API.
type Message struct {
	ID             string     `json:"id"`
	RoomID         string     `json:"roomId"`
	SenderID       string     `json:"senderId"`
	Content        *string    `json:"content"`
	AttachmentURL  *string    `json:"attachmentUrl"`
	AttachmentType *string    `json:"attachmentType"`
	Status         string     `json:"status"`
	ReplyToID      *string    `json:"replyToId"`
	ExpiresAt      *time.Time `json:"expiresAt"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// ErrorPayload is a generic error response payload.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ErrMissingRoomID is returned by payload validation when roomId is blank.
var ErrMissingRoomID = errors.New("missing field: roomId")

// ErrMissingMessageID is returned by payload validation when messageId is blank.
var ErrMissingMessageID = errors.New("missing field: messageId")

// Validate checks required fields.
func (p JoinRoomPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return ErrMissingRoomID
	}
	return nil
}

// Validate checks required fields.
func (p TypingPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return ErrMissingRoomID
	}
	return nil
}

// Validate checks required fields.
func (p MessageDeliveredPayload) Validate() error {
	if strings.TrimSpace(p.MessageID) == "" {
		return ErrMissingMessageID
	}
	if strings.TrimSpace(p.RoomID) == "" {
		return ErrMissingRoomID
	}
	return nil
}

// Validate checks required fields.
func (p MessagesReadPayload) Validate() error {
	if strings.TrimSpace(p.RoomID) == "" {
		return ErrMissingRoomID
	}
	return nil
}
