package realtime

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"messenger/cmd/internal/pgsql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipIndex is the read path over persisted room membership.
//
// Results are a snapshot at call time: a member removed while connected keeps
// receiving room broadcasts until reconnect.
type MembershipIndex interface {
	// ActiveRoomIDs returns every room the user is an active member of.
	ActiveRoomIDs(ctx context.Context, userID string) ([]string, error)

	// IsActiveMember reports whether the user has an active membership in roomID.
	IsActiveMember(ctx context.Context, userID, roomID string) (bool, error)
}

// PostgresMembershipIndex reads room_members.
//
// It does not own the pool.
type PostgresMembershipIndex struct {
	pool   *pgxpool.Pool
	schema string
}

// MembershipOption configures PostgresMembershipIndex behavior.
type MembershipOption func(*PostgresMembershipIndex) error

// WithMembershipSchema sets the DB schema used by the index (default: "public").
func WithMembershipSchema(schema string) MembershipOption {
	return func(s *PostgresMembershipIndex) error {
		v, err := pgsql.NormalizeSchema(schema)
		if err != nil {
			return err
		}
		s.schema = v
		return nil
	}
}

// NewPostgresMembershipIndex constructs a membership index backed by PostgreSQL.
func NewPostgresMembershipIndex(pool *pgxpool.Pool, opts ...MembershipOption) (*PostgresMembershipIndex, error) {
	st := &PostgresMembershipIndex{
		pool:   pool,
		schema: pgsql.DefaultSchema,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("realtime: nil pool")
	}
	return st, nil
}

// ActiveRoomIDs implements MembershipIndex.
func (s *PostgresMembershipIndex) ActiveRoomIDs(ctx context.Context, userID string) ([]string, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT room_id FROM `+pgsql.Ident(s.schema, "room_members")+`
		 WHERE user_id = $1 AND is_active = true
		 ORDER BY room_id`,
		userID,
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

// IsActiveMember implements MembershipIndex.
func (s *PostgresMembershipIndex) IsActiveMember(ctx context.Context, userID, roomID string) (bool, error) {
	userID = strings.TrimSpace(userID)
	roomID = strings.TrimSpace(roomID)
	if userID == "" || roomID == "" {
		return false, nil
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+pgsql.Ident(s.schema, "room_members")+`
		 WHERE user_id = $1 AND room_id = $2 AND is_active = true`,
		userID, roomID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// MemoryMembershipIndex is an in-process MembershipIndex for development and tests.
type MemoryMembershipIndex struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool // roomID -> userID -> active
}

// NewMemoryMembershipIndex constructs an empty index.
func NewMemoryMembershipIndex() *MemoryMembershipIndex {
	return &MemoryMembershipIndex{rooms: make(map[string]map[string]bool)}
}

// SetMember records (or updates) a membership row.
func (m *MemoryMembershipIndex) SetMember(roomID, userID string, active bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	users := m.rooms[roomID]
	if users == nil {
		users = make(map[string]bool)
		m.rooms[roomID] = users
	}
	users[userID] = active
}

// ActiveRoomIDs implements MembershipIndex.
func (m *MemoryMembershipIndex) ActiveRoomIDs(_ context.Context, userID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for roomID, users := range m.rooms {
		if users[userID] {
			out = append(out, roomID)
		}
	}
	sort.Strings(out)
	return out, nil
}

// IsActiveMember implements MembershipIndex.
func (m *MemoryMembershipIndex) IsActiveMember(_ context.Context, userID, roomID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID][userID], nil
}

// ActiveMembers returns the active user ids of roomID, sorted.
func (m *MemoryMembershipIndex) ActiveMembers(roomID string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for userID, active := range m.rooms[roomID] {
		if active {
			out = append(out, userID)
		}
	}
	sort.Strings(out)
	return out
}

var (
	_ MembershipIndex = (*PostgresMembershipIndex)(nil)
	_ MembershipIndex = (*MemoryMembershipIndex)(nil)
)
