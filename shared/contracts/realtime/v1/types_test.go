package v1

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestJoinRoomPayload_AcceptsStringAndObject(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		in   string
		want string
	}{
		{name: "bare string", in: `"room-1"`, want: "room-1"},
		{name: "bare string padded", in: `"  room-2 "`, want: "room-2"},
		{name: "object", in: `{"roomId":"room-3"}`, want: "room-3"},
		{name: "empty object", in: `{}`, want: ""},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			var p JoinRoomPayload
			if err := json.Unmarshal([]byte(tc.in), &p); err != nil {
				t.Fatalf("unmarshal %s: %v", tc.in, err)
			}
			if p.RoomID != tc.want {
				t.Fatalf("roomId=%q want=%q", p.RoomID, tc.want)
			}
		})
	}
}

func TestJoinRoomPayload_RejectsNumbers(t *testing.T) {
	t.Parallel()

	var p JoinRoomPayload
	if err := json.Unmarshal([]byte(`42`), &p); err == nil {
		t.Fatalf("expected error for numeric payload")
	}
}

func TestPayloadValidate(t *testing.T) {
	t.Parallel()

	if err := (TypingPayload{}).Validate(); !errors.Is(err, ErrMissingRoomID) {
		t.Fatalf("typing: expected ErrMissingRoomID, got %v", err)
	}
	if err := (MessagesReadPayload{RoomID: " "}).Validate(); !errors.Is(err, ErrMissingRoomID) {
		t.Fatalf("read: expected ErrMissingRoomID, got %v", err)
	}
	if err := (MessageDeliveredPayload{RoomID: "r"}).Validate(); !errors.Is(err, ErrMissingMessageID) {
		t.Fatalf("delivered: expected ErrMissingMessageID, got %v", err)
	}
	if err := (MessageDeliveredPayload{MessageID: "m"}).Validate(); !errors.Is(err, ErrMissingRoomID) {
		t.Fatalf("delivered: expected ErrMissingRoomID, got %v", err)
	}
	if err := (MessageDeliveredPayload{MessageID: "m", RoomID: "r"}).Validate(); err != nil {
		t.Fatalf("delivered: unexpected error %v", err)
	}
}

func TestEnvelopeValidate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		env     Envelope
		wantErr string
	}{
		{name: "ok", env: Envelope{V: Version, Type: TypeJoinRoom}},
		{name: "missing version", env: Envelope{Type: TypeJoinRoom}, wantErr: "missing field: v"},
		{name: "bad version", env: Envelope{V: "v0", Type: TypeJoinRoom}, wantErr: "unsupported protocol version"},
		{name: "missing type", env: Envelope{V: Version}, wantErr: "missing field: type"},
		{name: "unknown type", env: Envelope{V: Version, Type: "hello"}, wantErr: "unknown type"},
	}

	for _, tc := range cases {
		err := tc.env.Validate()
		if tc.wantErr == "" {
			if err != nil {
				t.Fatalf("%s: unexpected error %v", tc.name, err)
			}
			continue
		}
		if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
			t.Fatalf("%s: expected error containing %q, got %v", tc.name, tc.wantErr, err)
		}
	}
}

func TestIsInbound(t *testing.T) {
	t.Parallel()

	for _, typ := range []string{TypeJoinRoom, TypeTypingStart, TypeTypingStop, TypeMessageDelivered, TypeMessagesRead} {
		if !IsInbound(typ) {
			t.Fatalf("expected %q to be inbound", typ)
		}
	}
	for _, typ := range []string{TypeNewMessage, TypeUserJoined, TypeMessageStatusUpdated, TypePresenceUpdate, TypeError} {
		if IsInbound(typ) {
			t.Fatalf("expected %q to be outbound only", typ)
		}
	}
}

func TestNewEnvelope_CamelCasePayload(t *testing.T) {
	t.Parallel()

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env, err := NewEnvelope(TypeMessageStatusUpdated, "01J00000000000000000000000", ts, MessageStatusUpdatedPayload{
		MessageID: "m-1",
		Status:    StatusDelivered,
	})
	if err != nil {
		t.Fatalf("new envelope: %v", err)
	}
	if env.V != Version || env.Type != TypeMessageStatusUpdated {
		t.Fatalf("unexpected envelope header: %+v", env)
	}
	if got := string(env.Payload); got != `{"messageId":"m-1","status":"delivered"}` {
		t.Fatalf("payload=%s", got)
	}
}

func TestMessage_NullableFields(t *testing.T) {
	t.Parallel()

	b, err := json.Marshal(Message{ID: "m", RoomID: "r", SenderID: "u", Status: StatusSent})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(b)
	for _, want := range []string{`"roomId":"r"`, `"senderId":"u"`, `"content":null`, `"attachmentUrl":null`, `"replyToId":null`} {
		if !strings.Contains(s, want) {
			t.Fatalf("expected %s in %s", want, s)
		}
	}
}
