package messages

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"messenger/cmd/internal/pgsql"
	v1 "messenger/shared/contracts/realtime/v1"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// It does not own the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "public").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.NormalizeSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("messages: nil pool")
	}
	return st, nil
}

const messageColumns = `id, room_id, sender_id, content, attachment_url, attachment_type, status, reply_to_id, expires_at, created_at`

// Insert implements Store.
func (s *PostgresStore) Insert(ctx context.Context, m v1.Message) error {
	if m.ID == "" || m.RoomID == "" || m.SenderID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx,
		`INSERT INTO `+s.table("messages")+` (`+messageColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.RoomID, m.SenderID, m.Content, m.AttachmentURL, m.AttachmentType,
		m.Status, m.ReplyToID, m.ExpiresAt, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+s.table("rooms")+` SET last_message_at = $2 WHERE id = $1`,
		m.RoomID, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("bump last_message_at: %w", err)
	}

	return tx.Commit(ctx)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+messageColumns+`, is_deleted FROM `+s.table("messages")+` WHERE id = $1`,
		id,
	)

	var rec Record
	err := row.Scan(
		&rec.ID, &rec.RoomID, &rec.SenderID, &rec.Content, &rec.AttachmentURL, &rec.AttachmentType,
		&rec.Status, &rec.ReplyToID, &rec.ExpiresAt, &rec.CreatedAt, &rec.IsDeleted,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// History implements Store. Rows are read newest first and reversed.
func (s *PostgresStore) History(ctx context.Context, q HistoryQuery) ([]v1.Message, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+messageColumns+`
		   FROM `+s.table("messages")+`
		  WHERE room_id = $1
		    AND created_at < $2
		    AND is_deleted = false
		    AND (expires_at IS NULL OR expires_at > $3)
		  ORDER BY created_at DESC
		  LIMIT $4`,
		q.RoomID, q.Before, q.Now, q.Limit,
	)
	if err != nil {
		return nil, err
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (v1.Message, error) {
		var m v1.Message
		err := row.Scan(
			&m.ID, &m.RoomID, &m.SenderID, &m.Content, &m.AttachmentURL, &m.AttachmentType,
			&m.Status, &m.ReplyToID, &m.ExpiresAt, &m.CreatedAt,
		)
		return m, err
	})
	if err != nil {
		return nil, err
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SoftDelete implements Store.
func (s *PostgresStore) SoftDelete(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("messages")+` SET is_deleted = true WHERE id = $1`,
		id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UnreadCount implements Store. A member who never read counts every message.
func (s *PostgresStore) UnreadCount(ctx context.Context, roomID, userID string, now time.Time) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT count(*)
		   FROM `+s.table("messages")+` m
		   LEFT JOIN `+s.table("room_members")+` rm
		     ON rm.room_id = m.room_id AND rm.user_id = $2
		  WHERE m.room_id = $1
		    AND m.sender_id <> $2
		    AND m.is_deleted = false
		    AND (m.expires_at IS NULL OR m.expires_at > $3)
		    AND (rm.last_read_at IS NULL OR m.created_at > rm.last_read_at)`,
		roomID, userID, now,
	).Scan(&n)
	return n, err
}

// MemberLanguages implements Store.
func (s *PostgresStore) MemberLanguages(ctx context.Context, roomID, exceptUserID string) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT u.preferred_lang
		   FROM `+s.table("room_members")+` rm
		   JOIN `+s.table("users")+` u ON u.id = rm.user_id
		  WHERE rm.room_id = $1
		    AND rm.is_active = true
		    AND rm.user_id <> $2
		    AND u.preferred_lang IS NOT NULL
		    AND u.preferred_lang <> ''
		  ORDER BY u.preferred_lang`,
		roomID, exceptUserID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// SaveTranslation implements Store.
func (s *PostgresStore) SaveTranslation(ctx context.Context, t Translation) error {
	if strings.TrimSpace(t.MessageID) == "" || strings.TrimSpace(t.Language) == "" {
		return ErrInvalidInput
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("message_translations")+` (message_id, language, translated_content, confidence)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (message_id, language)
		 DO UPDATE SET translated_content = EXCLUDED.translated_content, confidence = EXCLUDED.confidence`,
		t.MessageID, t.Language, t.Content, t.Confidence,
	)
	return err
}

func (s *PostgresStore) table(name string) string {
	return pgsql.Ident(s.schema, name)
}

var _ Store = (*PostgresStore)(nil)
