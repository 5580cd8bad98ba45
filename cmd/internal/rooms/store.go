package rooms

import (
	"context"
	"time"
)

// Room types.
const (
	TypeDirect = "direct"
	TypeGroup  = "group"
)

// Member roles.
const (
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// Room is a stored room.
type Room struct {
	ID            string     `json:"id"`
	Type          string     `json:"type"`
	Name          string     `json:"name"`
	CreatedBy     string     `json:"createdBy,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
	LastMessageAt *time.Time `json:"lastMessageAt"`
}

// Member is one membership row.
type Member struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Active bool   `json:"-"`
}

// Store persists rooms and their membership rows.
type Store interface {
	// Create inserts the room and its members in one transaction.
	Create(ctx context.Context, r Room, members []Member) error

	// Get returns a room by id or ErrNotFound.
	Get(ctx context.Context, roomID string) (Room, error)

	// FindDirect returns the direct room both users have membership rows in,
	// active or not, or ErrNotFound.
	FindDirect(ctx context.Context, userA, userB string) (Room, error)

	// ListForUser returns the rooms userID is an active member of.
	ListForUser(ctx context.Context, userID string) ([]Room, error)

	// Member returns userID's membership row in roomID, or ErrNotFound.
	Member(ctx context.Context, roomID, userID string) (Member, error)

	// ActiveMembers returns the active members of roomID ordered by user id.
	ActiveMembers(ctx context.Context, roomID string) ([]Member, error)

	// AddMember inserts an active membership row. An inactive row is
	// reactivated and keeps its role.
	AddMember(ctx context.Context, roomID string, m Member) error

	// DeactivateMember clears is_active on an active row. Returns ErrNotFound
	// when userID has no active row.
	DeactivateMember(ctx context.Context, roomID, userID string) error
}
