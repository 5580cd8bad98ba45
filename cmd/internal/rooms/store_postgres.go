package rooms

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"messenger/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by the rooms and room_members tables.
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
		return nil, errors.New("rooms: nil pool")
	}
	return st, nil
}

const roomColumns = `r.id, r.type, r.name, COALESCE(r.created_by, ''), r.created_at, r.last_message_at`

// Create implements Store.
func (s *PostgresStore) Create(ctx context.Context, r Room, members []Member) error {
	if r.ID == "" {
		return ErrInvalidInput
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
		`INSERT INTO `+s.table("rooms")+` (id, type, name, created_by, created_at)
		 VALUES ($1, $2, $3, NULLIF($4, ''), $5)`,
		r.ID, r.Type, r.Name, r.CreatedBy, r.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert room: %w", mapWriteErr(err))
	}

	batch := &pgx.Batch{}
	for _, m := range members {
		batch.Queue(
			`INSERT INTO `+s.table("room_members")+` (room_id, user_id, role, is_active)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (room_id, user_id) DO NOTHING`,
			r.ID, m.UserID, m.Role, m.Active,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert members: %w", mapWriteErr(err))
	}

	return tx.Commit(ctx)
}

// Get implements Store.
func (s *PostgresStore) Get(ctx context.Context, roomID string) (Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+` FROM `+s.table("rooms")+` r WHERE r.id = $1`,
		roomID,
	)
	r, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	return r, err
}

// FindDirect implements Store.
func (s *PostgresStore) FindDirect(ctx context.Context, userA, userB string) (Room, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+roomColumns+`
		   FROM `+s.table("rooms")+` r
		   JOIN `+s.table("room_members")+` a ON a.room_id = r.id AND a.user_id = $1
		   JOIN `+s.table("room_members")+` b ON b.room_id = r.id AND b.user_id = $2
		  WHERE r.type = 'direct'
		  ORDER BY r.created_at
		  LIMIT 1`,
		userA, userB,
	)
	r, err := scanRoom(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Room{}, ErrNotFound
	}
	return r, err
}

// ListForUser implements Store.
func (s *PostgresStore) ListForUser(ctx context.Context, userID string) ([]Room, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+roomColumns+`
		   FROM `+s.table("rooms")+` r
		   JOIN `+s.table("room_members")+` rm ON rm.room_id = r.id
		  WHERE rm.user_id = $1 AND rm.is_active = true
		  ORDER BY COALESCE(r.last_message_at, r.created_at) DESC, r.id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Room, error) {
		return scanRoom(row)
	})
}

// Member implements Store.
func (s *PostgresStore) Member(ctx context.Context, roomID, userID string) (Member, error) {
	m := Member{UserID: userID}
	err := s.pool.QueryRow(ctx,
		`SELECT role, is_active FROM `+s.table("room_members")+` WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	).Scan(&m.Role, &m.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Member{}, ErrNotFound
	}
	if err != nil {
		return Member{}, err
	}
	return m, nil
}

// ActiveMembers implements Store.
func (s *PostgresStore) ActiveMembers(ctx context.Context, roomID string) ([]Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT user_id, role FROM `+s.table("room_members")+`
		  WHERE room_id = $1 AND is_active = true
		  ORDER BY user_id`,
		roomID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Member, error) {
		m := Member{Active: true}
		err := row.Scan(&m.UserID, &m.Role)
		return m, err
	})
}

// AddMember implements Store.
func (s *PostgresStore) AddMember(ctx context.Context, roomID string, m Member) error {
	role := m.Role
	if role == "" {
		role = RoleMember
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+s.table("room_members")+` (room_id, user_id, role, is_active)
		 VALUES ($1, $2, $3, true)
		 ON CONFLICT (room_id, user_id) DO UPDATE SET is_active = true`,
		roomID, m.UserID, role,
	)
	return mapWriteErr(err)
}

// DeactivateMember implements Store.
func (s *PostgresStore) DeactivateMember(ctx context.Context, roomID, userID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+s.table("room_members")+` SET is_active = false
		  WHERE room_id = $1 AND user_id = $2 AND is_active = true`,
		roomID, userID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) table(name string) string {
	return pgsql.Ident(s.schema, name)
}

func scanRoom(row pgx.Row) (Room, error) {
	var r Room
	err := row.Scan(&r.ID, &r.Type, &r.Name, &r.CreatedBy, &r.CreatedAt, &r.LastMessageAt)
	return r, err
}

// mapWriteErr turns foreign-key violations into domain errors: a missing
// users row is ErrUnknownUser, a missing rooms row is ErrNotFound.
func mapWriteErr(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23503" {
		return err
	}
	if strings.Contains(pgErr.ConstraintName, "user_id") {
		return ErrUnknownUser
	}
	return ErrNotFound
}

var _ Store = (*PostgresStore)(nil)
