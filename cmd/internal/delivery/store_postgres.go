package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"messenger/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore applies receipts to the messages and room_members tables.
//
// It does not own the pool.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "public").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		v, err := pgsql.NormalizeSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
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
		return nil, ErrInvalidInput
	}
	return st, nil
}

// MarkDelivered implements Store. The CASE keeps read messages read.
func (s *PostgresStore) MarkDelivered(ctx context.Context, messageID, roomID string) (string, bool, error) {
	messageID = strings.TrimSpace(messageID)
	roomID = strings.TrimSpace(roomID)
	if messageID == "" {
		return "", false, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return "", false, err
	}

	messages := pgsql.Ident(s.schema, "messages")

	var (
		storedRoom string
		changed    bool
	)
	err := s.pool.QueryRow(ctx,
		`WITH prev AS (
		     SELECT id, status FROM `+messages+`
		      WHERE id = $1 AND ($2::text = '' OR room_id = $2::text)
		        FOR UPDATE
		 )
		 UPDATE `+messages+` AS m
		    SET status = CASE WHEN prev.status = 'sent' THEN 'delivered' ELSE prev.status END
		   FROM prev
		  WHERE m.id = prev.id
		RETURNING m.room_id, prev.status = 'sent'`,
		messageID, roomID,
	).Scan(&storedRoom, &changed)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, ErrMessageNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("mark delivered: %w", err)
	}
	return storedRoom, changed, nil
}

// MarkRoomRead implements Store. Both updates commit together.
func (s *PostgresStore) MarkRoomRead(ctx context.Context, roomID, readerID string, at time.Time) (int64, error) {
	roomID = strings.TrimSpace(roomID)
	readerID = strings.TrimSpace(readerID)
	if roomID == "" || readerID == "" {
		return 0, ErrInvalidInput
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE `+pgsql.Ident(s.schema, "messages")+`
		    SET status = 'read'
		  WHERE room_id = $1 AND sender_id <> $2 AND status <> 'read'`,
		roomID, readerID,
	)
	if err != nil {
		return 0, fmt.Errorf("mark messages read: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE `+pgsql.Ident(s.schema, "room_members")+`
		    SET last_read_at = $3
		  WHERE room_id = $1 AND user_id = $2`,
		roomID, readerID, at,
	); err != nil {
		return 0, fmt.Errorf("update last_read_at: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Store = (*PostgresStore)(nil)
