package presence

import (
	"context"
	"errors"
	"time"

	"messenger/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5/pgxpool"
)

// StatusWriter persists the last-known status outside the presence store,
// where profile and search queries read it.
type StatusWriter interface {
	PersistStatus(ctx context.Context, userID, status string, at time.Time) error
}

// PostgresStatusWriter writes users.status and users.last_seen.
//
// It does not own the pool.
type PostgresStatusWriter struct {
	pool   *pgxpool.Pool
	schema string
}

// StatusWriterOption configures PostgresStatusWriter.
type StatusWriterOption func(*PostgresStatusWriter) error

// WithStatusSchema sets the DB schema (default: "public").
func WithStatusSchema(schema string) StatusWriterOption {
	return func(w *PostgresStatusWriter) error {
		s, err := pgsql.NormalizeSchema(schema)
		if err != nil {
			return err
		}
		w.schema = s
		return nil
	}
}

// NewPostgresStatusWriter constructs a PostgresStatusWriter.
func NewPostgresStatusWriter(pool *pgxpool.Pool, opts ...StatusWriterOption) (*PostgresStatusWriter, error) {
	w := &PostgresStatusWriter{pool: pool, schema: pgsql.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(w); err != nil {
			return nil, err
		}
	}
	if w.pool == nil {
		return nil, errors.New("presence: nil pool")
	}
	return w, nil
}

// PersistStatus implements StatusWriter. Writing the same status twice is harmless.
func (w *PostgresStatusWriter) PersistStatus(ctx context.Context, userID, status string, at time.Time) error {
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := w.pool.Exec(ctx,
		`UPDATE `+pgsql.Ident(w.schema, "users")+` SET status = $2, last_seen = $3 WHERE id = $1`,
		userID, status, at,
	)
	return err
}
