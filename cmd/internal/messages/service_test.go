package messages

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"messenger/cmd/internal/auth"
	"messenger/cmd/internal/delivery"
	"messenger/cmd/internal/realtime"
	"messenger/cmd/internal/tasks"
	v1 "messenger/shared/contracts/realtime/v1"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func strp(s string) *string { return &s }

type recordingEmitter struct {
	mu  sync.Mutex
	out []v1.Envelope
}

func (e *recordingEmitter) EmitToRoom(_ string, env v1.Envelope) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.out = append(e.out, env)
}

func (e *recordingEmitter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.out)
}

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	members *realtime.MemoryMembershipIndex
	emitter *recordingEmitter
	clock   *fixedClock
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	f := &fixture{
		store:   NewMemoryStore(),
		members: realtime.NewMemoryMembershipIndex(),
		emitter: &recordingEmitter{},
		clock:   &fixedClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}
	f.members.SetMember("r1", "alice", true)
	f.members.SetMember("r1", "bob", true)

	all := append([]Option{WithClock(f.clock.Now)}, opts...)
	svc, err := NewService(discardLogger(), f.store, f.members, f.emitter, all...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	f.svc = svc
	return f
}

func TestService_SendValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   SendInput
		want error
	}{
		{name: "non member", in: SendInput{RoomID: "r1", SenderID: "mallory", Content: strp("hi")}, want: ErrNotMember},
		{name: "empty", in: SendInput{RoomID: "r1", SenderID: "alice"}, want: ErrEmptyMessage},
		{name: "blank content", in: SendInput{RoomID: "r1", SenderID: "alice", Content: strp("   ")}, want: ErrEmptyMessage},
		{name: "markup only", in: SendInput{RoomID: "r1", SenderID: "alice", Content: strp("<b></b>")}, want: ErrEmptyMessage},
		{name: "blocked", in: SendInput{RoomID: "r1", SenderID: "alice", Content: strp("this is a SCAM")}, want: ErrBlocked},
		{name: "too long", in: SendInput{RoomID: "r1", SenderID: "alice", Content: strp(strings.Repeat("x", MaxContentRunes+1))}, want: ErrContentTooLong},
		{name: "bad attachment type", in: SendInput{RoomID: "r1", SenderID: "alice", AttachmentURL: strp("https://x/y.png"), AttachmentType: strp("video")}, want: ErrInvalidInput},
		{name: "type without url", in: SendInput{RoomID: "r1", SenderID: "alice", Content: strp("hi"), AttachmentType: strp("image")}, want: ErrInvalidInput},
	}

	for _, tc := range cases {
		if _, err := f.svc.Send(ctx, tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
	if n := f.emitter.count(); n != 0 {
		t.Fatalf("rejected sends emitted %d events", n)
	}
}

func TestService_SendPersistsThenEmits(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendInput{
		RoomID:   "r1",
		SenderID: "alice",
		Content:  strp(`hello <script>alert(1)</script>world`),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if msg.Status != v1.StatusSent || msg.Content == nil || strings.Contains(*msg.Content, "<script>") {
		t.Fatalf("unexpected message %+v", msg)
	}

	stored, err := f.store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.ID != msg.ID {
		t.Fatalf("stored=%+v", stored)
	}

	if f.emitter.count() != 1 {
		t.Fatalf("events=%d want 1", f.emitter.count())
	}
	env := f.emitter.out[0]
	if env.Type != v1.TypeNewMessage {
		t.Fatalf("type=%s", env.Type)
	}
	var got v1.Message
	if err := json.Unmarshal(env.Payload, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != msg.ID || got.RoomID != "r1" || got.SenderID != "alice" {
		t.Fatalf("payload=%+v", got)
	}
}

func TestService_HistoryPagingAndVisibility(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	var sent []v1.Message
	for i := 0; i < 5; i++ {
		in := SendInput{RoomID: "r1", SenderID: "alice", Content: strp("m")}
		if i == 2 {
			in.TTL = time.Minute
		}
		m, err := f.svc.Send(ctx, in)
		if err != nil {
			t.Fatalf("Send: %v", err)
		}
		sent = append(sent, m)
		f.clock.Advance(time.Second)
	}
	if err := f.svc.Delete(ctx, "alice", sent[3].ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	got, err := f.svc.History(ctx, "bob", "r1", time.Time{}, 0)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	wantIDs := []string{sent[0].ID, sent[1].ID, sent[2].ID, sent[4].ID}
	if len(got) != len(wantIDs) {
		t.Fatalf("history len=%d want %d", len(got), len(wantIDs))
	}
	for i, m := range got {
		if m.ID != wantIDs[i] {
			t.Fatalf("history[%d]=%s want %s", i, m.ID, wantIDs[i])
		}
	}

	page, err := f.svc.History(ctx, "bob", "r1", sent[2].CreatedAt, 1)
	if err != nil || len(page) != 1 || page[0].ID != sent[1].ID {
		t.Fatalf("page=%v err=%v", page, err)
	}

	// The TTL message disappears once expired.
	f.clock.Advance(2 * time.Minute)
	got, _ = f.svc.History(ctx, "bob", "r1", time.Time{}, 0)
	for _, m := range got {
		if m.ID == sent[2].ID {
			t.Fatalf("expired message still visible")
		}
	}

	if _, err := f.svc.History(ctx, "mallory", "r1", time.Time{}, 0); !errors.Is(err, ErrNotMember) {
		t.Fatalf("expected ErrNotMember, got %v", err)
	}
}

func TestService_Delete(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	m, err := f.svc.Send(ctx, SendInput{RoomID: "r1", SenderID: "alice", Content: strp("hi")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if err := f.svc.Delete(ctx, "bob", m.ID); !errors.Is(err, ErrNotSender) {
		t.Fatalf("expected ErrNotSender, got %v", err)
	}
	if err := f.svc.Delete(ctx, "alice", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := f.svc.Delete(ctx, "alice", m.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := f.svc.Delete(ctx, "alice", m.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete: expected ErrNotFound, got %v", err)
	}
}

type upperTranslator struct{}

func (upperTranslator) Translate(_ context.Context, text, lang string) (string, float64, error) {
	if lang == "xx" {
		return "", 0, ErrNoTranslation
	}
	return strings.ToUpper(text) + "@" + lang, 0.9, nil
}

func TestService_TranslationHookRunsAfterSend(t *testing.T) {
	t.Parallel()

	q := tasks.NewQueue(discardLogger(), 1, 8)
	f := newFixture(t, WithTasks(q), WithTranslator(upperTranslator{}))
	f.store.SetMemberLanguage("r1", "alice", "en")
	f.store.SetMemberLanguage("r1", "bob", "fr")
	f.store.SetMemberLanguage("r1", "carol", "xx")

	m, err := f.svc.Send(context.Background(), SendInput{RoomID: "r1", SenderID: "alice", Content: strp("salut")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Close(ctx); err != nil {
		t.Fatalf("Close: %v", err)
	}

	got := f.store.Translations(m.ID)
	if len(got) != 1 || got[0].Language != "fr" || got[0].Content != "SALUT@fr" {
		t.Fatalf("translations=%+v", got)
	}
}

func TestService_UnreadCount(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := f.svc.Send(ctx, SendInput{RoomID: "r1", SenderID: "alice", Content: strp("m")}); err != nil {
			t.Fatalf("Send: %v", err)
		}
		f.clock.Advance(time.Second)
	}
	if _, err := f.svc.Send(ctx, SendInput{RoomID: "r1", SenderID: "bob", Content: strp("mine")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n, err := f.svc.UnreadCount(ctx, "bob", "r1"); err != nil || n != 3 {
		t.Fatalf("unread=%d err=%v want 3", n, err)
	}

	if _, err := f.store.MarkRoomRead(ctx, "r1", "bob", f.clock.Now()); err != nil {
		t.Fatalf("MarkRoomRead: %v", err)
	}
	f.clock.Advance(time.Second)
	if _, err := f.svc.Send(ctx, SendInput{RoomID: "r1", SenderID: "alice", Content: strp("new")}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if n, err := f.svc.UnreadCount(ctx, "bob", "r1"); err != nil || n != 1 {
		t.Fatalf("unread=%d err=%v want 1", n, err)
	}
}

// Alice sends, Bob acknowledges delivery and then reads; both members see each
// status change and the stored status ends at read.
func TestSendDeliverRead_EndToEnd(t *testing.T) {
	t.Parallel()

	log := discardLogger()
	members := realtime.NewMemoryMembershipIndex()
	members.SetMember("r1", "alice", true)
	members.SetMember("r1", "bob", true)

	router := realtime.NewRouter(log, members)
	store := NewMemoryStore()

	svc, err := NewService(log, store, members, router)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	coord, err := delivery.NewCoordinator(log, store, router)
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}

	ctx := context.Background()
	alice := realtime.NewClient("conn-alice", auth.Identity{UserID: "alice"}, 16)
	bob := realtime.NewClient("conn-bob", auth.Identity{UserID: "bob"}, 16)
	if _, err := router.Attach(ctx, alice); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if _, err := router.Attach(ctx, bob); err != nil {
		t.Fatalf("attach: %v", err)
	}

	msg, err := svc.Send(ctx, SendInput{RoomID: "r1", SenderID: "alice", Content: strp("hi bob")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	expectNext(t, alice, v1.TypeNewMessage)
	expectNext(t, bob, v1.TypeNewMessage)

	if err := coord.MarkDelivered(ctx, msg.ID, "r1"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	for _, c := range []*realtime.Client{alice, bob} {
		env := expectNext(t, c, v1.TypeMessageStatusUpdated)
		var p v1.MessageStatusUpdatedPayload
		_ = json.Unmarshal(env.Payload, &p)
		if p.MessageID != msg.ID || p.Status != v1.StatusDelivered {
			t.Fatalf("status payload=%+v", p)
		}
	}

	if err := coord.MarkRoomRead(ctx, "r1", "bob", bob.ConnID); err != nil {
		t.Fatalf("MarkRoomRead: %v", err)
	}
	env := expectNext(t, alice, v1.TypeMessagesRead)
	var rp v1.MessagesReadEventPayload
	_ = json.Unmarshal(env.Payload, &rp)
	if rp.RoomID != "r1" || rp.UserID != "bob" {
		t.Fatalf("read payload=%+v", rp)
	}
	select {
	case env := <-bob.Send:
		t.Fatalf("reader's own connection got %s", env.Type)
	default:
	}

	rec, err := store.Get(ctx, msg.ID)
	if err != nil || rec.Status != v1.StatusRead {
		t.Fatalf("final status=%q err=%v", rec.Status, err)
	}
}

func expectNext(t *testing.T, c *realtime.Client, typ string) v1.Envelope {
	t.Helper()
	select {
	case env := <-c.Send:
		if env.Type != typ {
			t.Fatalf("%s got %s want %s", c.UserID, env.Type, typ)
		}
		return env
	default:
		t.Fatalf("%s has no queued event, want %s", c.UserID, typ)
	}
	return v1.Envelope{}
}

// A delivery receipt that names another room leaves the message untouched.
func TestMemoryStore_DeliveredReceiptForOtherRoom(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	f.members.SetMember("secret", "alice", true)
	ctx := context.Background()

	msg, err := f.svc.Send(ctx, SendInput{RoomID: "secret", SenderID: "alice", Content: strp("hush")})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	coord, err := delivery.NewCoordinator(discardLogger(), f.store, &roomEmitter{f.emitter})
	if err != nil {
		t.Fatalf("NewCoordinator: %v", err)
	}
	before := f.emitter.count()

	if err := coord.MarkDelivered(ctx, msg.ID, "r1"); !errors.Is(err, delivery.ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
	rec, err := f.store.Get(ctx, msg.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rec.Status != v1.StatusSent {
		t.Fatalf("status=%q want sent", rec.Status)
	}
	if f.emitter.count() != before {
		t.Fatalf("receipt for another room emitted an event")
	}

	if err := coord.MarkDelivered(ctx, msg.ID, "secret"); err != nil {
		t.Fatalf("MarkDelivered: %v", err)
	}
	if rec, _ := f.store.Get(ctx, msg.ID); rec.Status != v1.StatusDelivered {
		t.Fatalf("status=%q want delivered", rec.Status)
	}
}

// roomEmitter adds EmitToRoomExcept to recordingEmitter for the coordinator.
type roomEmitter struct{ *recordingEmitter }

func (e *roomEmitter) EmitToRoomExcept(roomID string, env v1.Envelope, _ string) {
	e.EmitToRoom(roomID, env)
}
