package realtime

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/nats-io/nats.go"
)

func TestNATSBus_Subject(t *testing.T) {
	t.Parallel()

	b := &NATSBus{prefix: "messenger"}
	cases := map[string]string{
		"room-1":     "messenger.room.room-1",
		"a.b":        "messenger.room.a_b",
		"wild*card>": "messenger.room.wild_card_",
		"with space": "messenger.room.with_space",
	}
	for in, want := range cases {
		if got := b.Subject(in); got != want {
			t.Fatalf("Subject(%q)=%q want %q", in, got, want)
		}
	}
}

// Requires a reachable server; set MESSENGER_NATS_URL to run.
func TestNATSBus_RelaysBetweenRouters(t *testing.T) {
	raw := strings.TrimSpace(os.Getenv("MESSENGER_NATS_URL"))
	if raw == "" {
		t.Skip("integration test skipped: MESSENGER_NATS_URL is not set")
	}

	connect := func() *nats.Conn {
		nc, err := nats.Connect(raw, nats.Timeout(3*time.Second))
		if err != nil {
			t.Fatalf("nats connect: %v", err)
		}
		return nc
	}

	prefix := "msgtest" + strings.ToLower(randomSuffix(t))

	busA, err := NewNATSBus(discardLogger(), connect(), prefix, "node-a")
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	busB, err := NewNATSBus(discardLogger(), connect(), prefix, "node-b")
	if err != nil {
		t.Fatalf("NewNATSBus: %v", err)
	}
	t.Cleanup(func() {
		_ = busA.Close()
		_ = busB.Close()
	})

	idx := NewMemoryMembershipIndex()
	idx.SetMember("r1", "alice", true)
	idx.SetMember("r1", "bob", true)

	a := NewRouter(discardLogger(), idx)
	b := NewRouter(discardLogger(), idx)
	if err := a.UseBus(busA, "node-a"); err != nil {
		t.Fatalf("UseBus: %v", err)
	}
	if err := b.UseBus(busB, "node-b"); err != nil {
		t.Fatalf("UseBus: %v", err)
	}
	if err := busB.nc.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	bob := newTestClient("b", "bob", 8)
	if _, err := b.Attach(context.Background(), bob); err != nil {
		t.Fatalf("attach: %v", err)
	}

	a.EmitToRoom("r1", mustEvent(t, v1.TypeTypingStart, v1.TypingEventPayload{UserID: "alice", RoomID: "r1"}))

	select {
	case env := <-bob.Send:
		if env.Type != v1.TypeTypingStart {
			t.Fatalf("bob got %s", env.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("event not relayed over nats")
	}
}

func randomSuffix(t *testing.T) string {
	t.Helper()
	id, err := NewConnID(time.Now())
	if err != nil {
		t.Fatalf("NewConnID: %v", err)
	}
	return id[len(id)-8:]
}
