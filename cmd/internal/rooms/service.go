// Package rooms manages rooms and their membership: creating direct and group
// rooms, listing a user's rooms with unread counts, and admin-controlled
// member changes.
//
// Membership changes are not pushed to open websocket sessions. A removed
// member keeps the rooms their session already attached until reconnect, but
// any later join_room is checked against the updated rows.
package rooms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"messenger/cmd/internal/ids"
	"messenger/cmd/internal/messages"
	v1 "messenger/shared/contracts/realtime/v1"
)

const (
	maxNameRunes = 100
	maxMembers   = 256
)

// MessageReader is the slice of the message store the room list needs.
type MessageReader interface {
	History(ctx context.Context, q messages.HistoryQuery) ([]v1.Message, error)
	UnreadCount(ctx context.Context, roomID, userID string, now time.Time) (int64, error)
}

// Summary is one entry of a user's room list.
type Summary struct {
	Room
	// OtherUserID is the other participant of a direct room.
	OtherUserID *string     `json:"otherUserId,omitempty"`
	LastMessage *v1.Message `json:"lastMessage"`
	UnreadCount int64       `json:"unreadCount"`
}

// Detail is a room plus its active members.
type Detail struct {
	Room
	Members []Member `json:"members"`
}

// CreateInput describes a room to create.
type CreateInput struct {
	CreatorID string
	Type      string
	Name      string
	MemberIDs []string
}

// Service coordinates room persistence.
type Service struct {
	log       *slog.Logger
	store     Store
	msgs      MessageReader
	sanitizer *messages.Sanitizer
	now       func() time.Time
}

// Option configures the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService constructs a Service.
func NewService(log *slog.Logger, store Store, msgs MessageReader, opts ...Option) (*Service, error) {
	if store == nil || msgs == nil {
		return nil, ErrInvalidInput
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		log:       log,
		store:     store,
		msgs:      msgs,
		sanitizer: messages.NewSanitizer(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Create creates a room with the creator as admin and every other member as
// member. A direct room between two users is created once: asking again
// returns the existing room with created=false.
func (s *Service) Create(ctx context.Context, in CreateInput) (Detail, bool, error) {
	creatorID := strings.TrimSpace(in.CreatorID)
	if creatorID == "" {
		return Detail{}, false, ErrInvalidInput
	}
	typ := strings.TrimSpace(in.Type)
	if typ != TypeDirect && typ != TypeGroup {
		return Detail{}, false, fmt.Errorf("%w: type must be direct or group", ErrInvalidInput)
	}

	name := s.sanitizer.Clean(strings.TrimSpace(in.Name))
	if utf8.RuneCountInString(name) > maxNameRunes {
		return Detail{}, false, fmt.Errorf("%w: name is too long", ErrInvalidInput)
	}

	others := otherMembers(creatorID, in.MemberIDs)
	switch {
	case len(others) == 0:
		return Detail{}, false, fmt.Errorf("%w: at least one other member is required", ErrInvalidInput)
	case typ == TypeDirect && len(others) != 1:
		return Detail{}, false, fmt.Errorf("%w: a direct room has exactly one other member", ErrInvalidInput)
	case len(others) > maxMembers:
		return Detail{}, false, fmt.Errorf("%w: too many members", ErrInvalidInput)
	}

	if typ == TypeDirect {
		existing, err := s.store.FindDirect(ctx, creatorID, others[0])
		switch {
		case err == nil:
			// Re-opening a direct room the creator had left rejoins it.
			if err := s.store.AddMember(ctx, existing.ID, Member{UserID: creatorID, Role: RoleAdmin, Active: true}); err != nil {
				return Detail{}, false, fmt.Errorf("rejoin direct room: %w", err)
			}
			d, err := s.detail(ctx, existing)
			return d, false, err
		case !errors.Is(err, ErrNotFound):
			return Detail{}, false, fmt.Errorf("find direct room: %w", err)
		}
	}

	room := Room{
		ID:        ids.NewRoomID(),
		Type:      typ,
		Name:      name,
		CreatedBy: creatorID,
		CreatedAt: s.now(),
	}
	members := make([]Member, 0, len(others)+1)
	members = append(members, Member{UserID: creatorID, Role: RoleAdmin, Active: true})
	for _, id := range others {
		members = append(members, Member{UserID: id, Role: RoleMember, Active: true})
	}

	if err := s.store.Create(ctx, room, members); err != nil {
		return Detail{}, false, fmt.Errorf("create room: %w", err)
	}
	s.log.Info("rooms.create", "room_id", room.ID, "type", typ, "user_id", creatorID, "members", len(members))

	return Detail{Room: room, Members: sortedMembers(members)}, true, nil
}

// List returns the rooms userID is an active member of, most recently active
// first, each with its latest visible message and userID's unread count.
func (s *Service) List(ctx context.Context, userID string) ([]Summary, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, ErrInvalidInput
	}

	rs, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}

	now := s.now()
	out := make([]Summary, 0, len(rs))
	for _, r := range rs {
		sum := Summary{Room: r}

		last, err := s.msgs.History(ctx, messages.HistoryQuery{RoomID: r.ID, Before: now.Add(time.Millisecond), Limit: 1, Now: now})
		if err != nil {
			return nil, fmt.Errorf("last message: %w", err)
		}
		if len(last) > 0 {
			m := last[0]
			sum.LastMessage = &m
			if sum.LastMessageAt == nil || m.CreatedAt.After(*sum.LastMessageAt) {
				at := m.CreatedAt
				sum.LastMessageAt = &at
			}
		}

		if sum.UnreadCount, err = s.msgs.UnreadCount(ctx, r.ID, userID, now); err != nil {
			return nil, fmt.Errorf("unread count: %w", err)
		}

		if r.Type == TypeDirect {
			members, err := s.store.ActiveMembers(ctx, r.ID)
			if err != nil {
				return nil, fmt.Errorf("room members: %w", err)
			}
			for _, m := range members {
				if m.UserID != userID {
					other := m.UserID
					sum.OtherUserID = &other
					break
				}
			}
		}
		out = append(out, sum)
	}

	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := activity(out[i].Room), activity(out[j].Room)
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// Get returns the room and its active members. Rooms viewerID is not an
// active member of are reported as ErrNotFound.
func (s *Service) Get(ctx context.Context, viewerID, roomID string) (Detail, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return Detail{}, ErrInvalidInput
	}
	if _, err := s.activeMember(ctx, roomID, viewerID); err != nil {
		return Detail{}, err
	}
	r, err := s.store.Get(ctx, roomID)
	if err != nil {
		return Detail{}, err
	}
	return s.detail(ctx, r)
}

// AddMember adds userID to a group room. Only room admins may add members.
func (s *Service) AddMember(ctx context.Context, requesterID, roomID, userID string) error {
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" || userID == "" {
		return ErrInvalidInput
	}

	req, err := s.activeMember(ctx, roomID, requesterID)
	if err != nil {
		return err
	}
	if req.Role != RoleAdmin {
		return ErrForbidden
	}
	r, err := s.store.Get(ctx, roomID)
	if err != nil {
		return err
	}
	if r.Type == TypeDirect {
		return ErrDirectRoom
	}

	if err := s.store.AddMember(ctx, roomID, Member{UserID: userID, Role: RoleMember, Active: true}); err != nil {
		return err
	}
	s.log.Info("rooms.member.add", "room_id", roomID, "user_id", userID, "by", req.UserID)
	return nil
}

// RemoveMember deactivates userID's membership. Admins may remove anyone;
// other members may only remove themselves. Direct rooms can only be left.
func (s *Service) RemoveMember(ctx context.Context, requesterID, roomID, userID string) error {
	roomID = strings.TrimSpace(roomID)
	userID = strings.TrimSpace(userID)
	if roomID == "" || userID == "" {
		return ErrInvalidInput
	}

	req, err := s.activeMember(ctx, roomID, requesterID)
	if err != nil {
		return err
	}
	self := req.UserID == userID
	if !self && req.Role != RoleAdmin {
		return ErrForbidden
	}
	if !self {
		r, err := s.store.Get(ctx, roomID)
		if err != nil {
			return err
		}
		if r.Type == TypeDirect {
			return ErrDirectRoom
		}
	}

	if err := s.store.DeactivateMember(ctx, roomID, userID); err != nil {
		return err
	}
	s.log.Info("rooms.member.remove", "room_id", roomID, "user_id", userID, "by", req.UserID)
	return nil
}

func (s *Service) activeMember(ctx context.Context, roomID, userID string) (Member, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return Member{}, ErrNotFound
	}
	m, err := s.store.Member(ctx, roomID, userID)
	if err != nil {
		return Member{}, err
	}
	if !m.Active {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func (s *Service) detail(ctx context.Context, r Room) (Detail, error) {
	members, err := s.store.ActiveMembers(ctx, r.ID)
	if err != nil {
		return Detail{}, fmt.Errorf("room members: %w", err)
	}
	if members == nil {
		members = []Member{}
	}
	return Detail{Room: r, Members: members}, nil
}

// otherMembers trims, dedupes, and drops creatorID and blanks.
func otherMembers(creatorID string, in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, id := range in {
		id = strings.TrimSpace(id)
		if id == "" || id == creatorID {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sortedMembers(in []Member) []Member {
	out := append([]Member(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func activity(r Room) time.Time {
	if r.LastMessageAt != nil {
		return *r.LastMessageAt
	}
	return r.CreatedAt
}
