// Package v1 defines the messenger realtime protocol v1 contract.
//
// This package is intentionally stable and dependency-light.
// It is shared between server and clients to keep the wire protocol authoritative.
// Every payload is serialized with camelCase field names; there is no alternate spelling.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Version is the protocol version identifier embedded into every envelope.
const Version = "v1"

// Event type constants (wire-stable). Types shared by both directions
// (typing_start, typing_stop, messages_read) carry a different payload per direction.
const (
	// TypeJoinRoom asks the server to add the connection to a room (client -> server).
	TypeJoinRoom = "join_room"

	// TypeTypingStart / TypeTypingStop are ephemeral typing signals (both directions).
	TypeTypingStart = "typing_start"
	TypeTypingStop  = "typing_stop"

	// TypeMessageDelivered acknowledges receipt of a message (client -> server).
	TypeMessageDelivered = "message_delivered"

	// TypeMessagesRead marks a room read (client -> server) and announces it (server -> room).
	TypeMessagesRead = "messages_read"

	// TypeNewMessage carries a persisted message (server -> room).
	TypeNewMessage = "new_message"

	// TypeUserJoined announces an interactive join (server -> room, joiner excluded).
	TypeUserJoined = "user_joined"

	// TypeMessageStatusUpdated announces a delivery status (server -> room).
	TypeMessageStatusUpdated = "message_status_updated"

	// TypePresenceUpdate announces an online/offline change (server -> room).
	TypePresenceUpdate = "presence_update"

	// TypeError is a protocol-level error envelope for malformed frames (server -> client).
	TypeError = "error"
)

// Envelope is the canonical wire wrapper.
type Envelope struct {
	V       string          `json:"v"`
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	TS      time.Time       `json:"ts,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Validate performs strict structural validation for an Envelope.
func (e Envelope) Validate() error {
	if strings.TrimSpace(e.V) == "" {
		return errors.New("missing field: v")
	}
	if e.V != Version {
		return fmt.Errorf("unsupported protocol version: %q", e.V)
	}
	if strings.TrimSpace(e.Type) == "" {
		return errors.New("missing field: type")
	}
	if !IsKnownType(e.Type) {
		return fmt.Errorf("unknown type: %q", e.Type)
	}
	return nil
}

// IsKnownType reports whether typ is part of the v1 protocol.
func IsKnownType(typ string) bool {
	switch typ {
	case TypeJoinRoom,
		TypeTypingStart,
		TypeTypingStop,
		TypeMessageDelivered,
		TypeMessagesRead,
		TypeNewMessage,
		TypeUserJoined,
		TypeMessageStatusUpdated,
		TypePresenceUpdate,
		TypeError:
		return true
	default:
		return false
	}
}

// IsInbound reports whether clients may send typ to the server.
func IsInbound(typ string) bool {
	switch typ {
	case TypeJoinRoom, TypeTypingStart, TypeTypingStop, TypeMessageDelivered, TypeMessagesRead:
		return true
	default:
		return false
	}
}

// NewEnvelope marshals payload and wraps it into an envelope.
func NewEnvelope(typ, id string, ts time.Time, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Envelope{
		V:       Version,
		Type:    typ,
		ID:      id,
		TS:      ts,
		Payload: raw,
	}, nil
}
