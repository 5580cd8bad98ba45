package rooms

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"messenger/cmd/internal/messages"
	"messenger/cmd/internal/pgsql/pgtest"
	"messenger/cmd/internal/realtime"
	v1 "messenger/shared/contracts/realtime/v1"
)

func TestPostgresStore_RoomLifecycle(t *testing.T) {
	t.Parallel()

	pool := pgtest.OpenPool(t)
	schema := pgtest.NewSchema(t, pool)
	for _, u := range []string{"alice", "bob", "carol"} {
		pgtest.InsertUser(t, pool, schema, u)
	}

	st, err := NewPostgresStore(pool, WithSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresStore: %v", err)
	}
	msgs, err := messages.NewPostgresStore(pool, messages.WithSchema(schema))
	if err != nil {
		t.Fatalf("messages.NewPostgresStore: %v", err)
	}
	index, err := realtime.NewPostgresMembershipIndex(pool, realtime.WithMembershipSchema(schema))
	if err != nil {
		t.Fatalf("NewPostgresMembershipIndex: %v", err)
	}
	svc, err := NewService(slog.New(slog.NewTextHandler(io.Discard, nil)), st, msgs)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	group, created, err := svc.Create(ctx, CreateInput{CreatorID: "alice", Type: TypeGroup, Name: "team", MemberIDs: []string{"bob"}})
	if err != nil || !created {
		t.Fatalf("Create group: created=%v err=%v", created, err)
	}
	if _, _, err := svc.Create(ctx, CreateInput{CreatorID: "alice", Type: TypeGroup, MemberIDs: []string{"nobody"}}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("unknown member: err=%v want ErrUnknownUser", err)
	}

	dm, created, err := svc.Create(ctx, CreateInput{CreatorID: "bob", Type: TypeDirect, MemberIDs: []string{"carol"}})
	if err != nil || !created {
		t.Fatalf("Create direct: created=%v err=%v", created, err)
	}
	again, created, err := svc.Create(ctx, CreateInput{CreatorID: "carol", Type: TypeDirect, MemberIDs: []string{"bob"}})
	if err != nil || created || again.ID != dm.ID {
		t.Fatalf("direct dedupe: id=%s created=%v err=%v", again.ID, created, err)
	}

	content := "hi"
	if err := msgs.Insert(ctx, v1.Message{
		ID: "m1", RoomID: group.ID, SenderID: "alice", Content: &content,
		Status: v1.StatusSent, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	list, err := svc.List(ctx, "bob")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 || list[0].ID != group.ID || list[1].ID != dm.ID {
		t.Fatalf("list=%+v", list)
	}
	if list[0].UnreadCount != 1 || list[0].LastMessage == nil || list[0].LastMessage.ID != "m1" {
		t.Fatalf("group summary=%+v", list[0])
	}
	if list[1].OtherUserID == nil || *list[1].OtherUserID != "carol" {
		t.Fatalf("direct other user=%v", list[1].OtherUserID)
	}

	if err := svc.AddMember(ctx, "alice", group.ID, "carol"); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if err := svc.AddMember(ctx, "alice", group.ID, "nobody"); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("AddMember unknown: err=%v want ErrUnknownUser", err)
	}
	if err := svc.RemoveMember(ctx, "alice", group.ID, "bob"); err != nil {
		t.Fatalf("RemoveMember: %v", err)
	}
	if ok, err := index.IsActiveMember(ctx, "bob", group.ID); err != nil || ok {
		t.Fatalf("index after removal: ok=%v err=%v", ok, err)
	}
	if _, err := svc.Get(ctx, "bob", group.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get by removed member: err=%v want ErrNotFound", err)
	}

	d, err := svc.Get(ctx, "alice", group.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(d.Members) != 2 || d.Members[0].UserID != "alice" || d.Members[0].Role != RoleAdmin || d.Members[1].UserID != "carol" {
		t.Fatalf("members=%+v", d.Members)
	}

	if err := svc.AddMember(ctx, "alice", group.ID, "bob"); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	m, err := st.Member(ctx, group.ID, "bob")
	if err != nil || !m.Active || m.Role != RoleMember {
		t.Fatalf("re-added member=%+v err=%v", m, err)
	}
}
