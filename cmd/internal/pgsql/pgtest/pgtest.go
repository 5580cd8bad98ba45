// Package pgtest provides PostgreSQL integration-test helpers.
//
// Tests using it are skipped unless MESSENGER_DATABASE_URL is set. Each test gets
// its own throwaway schema holding the tables the stores read and write.
package pgtest

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"messenger/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// EnvDatabaseURL names the variable gating integration tests.
const EnvDatabaseURL = "MESSENGER_DATABASE_URL"

// OpenPool connects to the test database or skips the test.
func OpenPool(t testing.TB) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv(EnvDatabaseURL))
	if raw == "" {
		t.Skip("integration test skipped: " + EnvDatabaseURL + " is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse %s: %v", EnvDatabaseURL, err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	t.Cleanup(pool.Close)
	return pool
}

// NewSchema creates an isolated schema with the messenger tables and drops it on cleanup.
func NewSchema(t testing.TB, pool *pgxpool.Pool) string {
	t.Helper()

	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("rand: %v", err)
	}
	schema := "msg_it_" + hex.EncodeToString(b)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	t.Cleanup(func() {
		dropCtx, dropCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer dropCancel()
		_, _ = pool.Exec(dropCtx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
	})

	users := pgsql.Ident(schema, "users")
	rooms := pgsql.Ident(schema, "rooms")
	members := pgsql.Ident(schema, "room_members")
	messages := pgsql.Ident(schema, "messages")
	translations := pgsql.Ident(schema, "message_translations")

	ddl := fmt.Sprintf(`
CREATE TABLE %[1]s (
  id             TEXT PRIMARY KEY,
  email          TEXT NOT NULL DEFAULT '',
  preferred_lang TEXT,
  status         TEXT NOT NULL DEFAULT 'offline',
  last_seen      TIMESTAMPTZ
);

CREATE TABLE %[2]s (
  id              TEXT PRIMARY KEY,
  type            TEXT NOT NULL DEFAULT 'group' CHECK (type IN ('direct', 'group')),
  name            TEXT NOT NULL DEFAULT '',
  created_by      TEXT,
  last_message_at TIMESTAMPTZ,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %[3]s (
  room_id      TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  user_id      TEXT NOT NULL REFERENCES %[1]s(id) ON DELETE CASCADE,
  role         TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('admin', 'member')),
  is_active    BOOLEAN NOT NULL DEFAULT true,
  last_read_at TIMESTAMPTZ,
  joined_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (room_id, user_id)
);

CREATE TABLE %[4]s (
  id              TEXT PRIMARY KEY,
  room_id         TEXT NOT NULL REFERENCES %[2]s(id) ON DELETE CASCADE,
  sender_id       TEXT NOT NULL REFERENCES %[1]s(id),
  content         TEXT,
  attachment_url  TEXT,
  attachment_type TEXT CHECK (attachment_type IN ('image', 'file')),
  status          TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
  reply_to_id     TEXT,
  expires_at      TIMESTAMPTZ,
  is_deleted      BOOLEAN NOT NULL DEFAULT false,
  created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX ON %[4]s (room_id, created_at DESC);

CREATE TABLE %[5]s (
  message_id         TEXT NOT NULL REFERENCES %[4]s(id) ON DELETE CASCADE,
  language           TEXT NOT NULL,
  translated_content TEXT NOT NULL,
  confidence         DOUBLE PRECISION,
  PRIMARY KEY (message_id, language)
);
`, users, rooms, members, messages, translations)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
	return schema
}

// InsertUser inserts a user row.
func InsertUser(t testing.TB, pool *pgxpool.Pool, schema, userID string) {
	t.Helper()
	exec(t, pool, `INSERT INTO `+pgsql.Ident(schema, "users")+` (id, email) VALUES ($1, $1 || '@example.com')`, userID)
}

// InsertRoom inserts a room row.
func InsertRoom(t testing.TB, pool *pgxpool.Pool, schema, roomID string) {
	t.Helper()
	exec(t, pool, `INSERT INTO `+pgsql.Ident(schema, "rooms")+` (id, name) VALUES ($1, $1)`, roomID)
}

// InsertMember inserts a room membership row.
func InsertMember(t testing.TB, pool *pgxpool.Pool, schema, roomID, userID string, active bool) {
	t.Helper()
	exec(t, pool,
		`INSERT INTO `+pgsql.Ident(schema, "room_members")+` (room_id, user_id, is_active) VALUES ($1, $2, $3)`,
		roomID, userID, active,
	)
}

// InsertMessage inserts a message with the given status and creation time.
func InsertMessage(t testing.TB, pool *pgxpool.Pool, schema, id, roomID, senderID, status string, createdAt time.Time) {
	t.Helper()
	exec(t, pool,
		`INSERT INTO `+pgsql.Ident(schema, "messages")+` (id, room_id, sender_id, content, status, created_at)
		 VALUES ($1, $2, $3, 'hello', $4, $5)`,
		id, roomID, senderID, status, createdAt,
	)
}

// MessageStatus reads a message status.
func MessageStatus(t testing.TB, pool *pgxpool.Pool, schema, id string) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var status string
	if err := pool.QueryRow(ctx,
		`SELECT status FROM `+pgsql.Ident(schema, "messages")+` WHERE id = $1`, id,
	).Scan(&status); err != nil {
		t.Fatalf("select status: %v", err)
	}
	return status
}

func exec(t testing.TB, pool *pgxpool.Pool, sql string, args ...any) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, sql, args...); err != nil {
		t.Fatalf("exec %q: %v", sql, err)
	}
}
