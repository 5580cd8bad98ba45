package rooms

import (
	"context"
	"sort"
	"sync"

	"messenger/cmd/internal/realtime"
)

// MemoryStore is an in-process Store for development and tests.
//
// Membership activity lives in the shared realtime.MemoryMembershipIndex, so
// the websocket router and message service see every change made here. The
// store itself only keeps room rows and member roles.
type MemoryStore struct {
	index *realtime.MemoryMembershipIndex

	mu    sync.RWMutex
	rooms map[string]Room
	roles map[string]map[string]string // roomID -> userID -> role
}

// NewMemoryStore constructs a MemoryStore writing membership into index.
// A nil index gets a private one.
func NewMemoryStore(index *realtime.MemoryMembershipIndex) *MemoryStore {
	if index == nil {
		index = realtime.NewMemoryMembershipIndex()
	}
	return &MemoryStore{
		index: index,
		rooms: make(map[string]Room),
		roles: make(map[string]map[string]string),
	}
}

// Create implements Store.
func (m *MemoryStore) Create(ctx context.Context, r Room, members []Member) error {
	if r.ID == "" {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rooms[r.ID]; ok {
		return ErrInvalidInput
	}
	m.rooms[r.ID] = r
	roles := make(map[string]string, len(members))
	m.roles[r.ID] = roles
	for _, mem := range members {
		roles[mem.UserID] = mem.Role
		m.index.SetMember(r.ID, mem.UserID, mem.Active)
	}
	return nil
}

// Get implements Store.
func (m *MemoryStore) Get(_ context.Context, roomID string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.rooms[roomID]
	if !ok {
		return Room{}, ErrNotFound
	}
	return r, nil
}

// FindDirect implements Store.
func (m *MemoryStore) FindDirect(_ context.Context, userA, userB string) (Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found []Room
	for id, r := range m.rooms {
		if r.Type != TypeDirect {
			continue
		}
		roles := m.roles[id]
		_, a := roles[userA]
		_, b := roles[userB]
		if a && b {
			found = append(found, r)
		}
	}
	if len(found) == 0 {
		return Room{}, ErrNotFound
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })
	return found[0], nil
}

// ListForUser implements Store.
func (m *MemoryStore) ListForUser(ctx context.Context, userID string) ([]Room, error) {
	roomIDs, err := m.index.ActiveRoomIDs(ctx, userID)
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Room, 0, len(roomIDs))
	for _, id := range roomIDs {
		// Memberships seeded straight into the index have no room row.
		if r, ok := m.rooms[id]; ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// Member implements Store.
func (m *MemoryStore) Member(ctx context.Context, roomID, userID string) (Member, error) {
	m.mu.RLock()
	role, ok := m.roles[roomID][userID]
	m.mu.RUnlock()
	if !ok {
		return Member{}, ErrNotFound
	}

	active, err := m.index.IsActiveMember(ctx, userID, roomID)
	if err != nil {
		return Member{}, err
	}
	return Member{UserID: userID, Role: role, Active: active}, nil
}

// ActiveMembers implements Store.
func (m *MemoryStore) ActiveMembers(_ context.Context, roomID string) ([]Member, error) {
	userIDs := m.index.ActiveMembers(roomID)

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Member, 0, len(userIDs))
	for _, id := range userIDs {
		role, ok := m.roles[roomID][id]
		if !ok {
			role = RoleMember
		}
		out = append(out, Member{UserID: id, Role: role, Active: true})
	}
	return out, nil
}

// AddMember implements Store.
func (m *MemoryStore) AddMember(ctx context.Context, roomID string, mem Member) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	roles, ok := m.roles[roomID]
	if !ok {
		return ErrNotFound
	}
	if _, ok := roles[mem.UserID]; !ok {
		role := mem.Role
		if role == "" {
			role = RoleMember
		}
		roles[mem.UserID] = role
	}
	m.index.SetMember(roomID, mem.UserID, true)
	return nil
}

// DeactivateMember implements Store.
func (m *MemoryStore) DeactivateMember(ctx context.Context, roomID, userID string) error {
	active, err := m.index.IsActiveMember(ctx, userID, roomID)
	if err != nil {
		return err
	}
	if !active {
		return ErrNotFound
	}
	m.index.SetMember(roomID, userID, false)
	return nil
}

var _ Store = (*MemoryStore)(nil)
