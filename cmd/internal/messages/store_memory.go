package messages

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"messenger/cmd/internal/delivery"
	v1 "messenger/shared/contracts/realtime/v1"
)

const memMaxMessagesPerRoom = 10_000

// MemoryStore is the dev fallback when no database is configured.
//
// It also applies receipts (delivery.Store) so the in-memory server keeps one
// view of message status.
type MemoryStore struct {
	mu           sync.Mutex
	byID         map[string]*Record
	rooms        map[string][]*Record // ordered by CreatedAt
	lastRead     map[string]time.Time // roomID/userID -> last read
	langs        map[string]map[string]string
	translations map[string]Translation // messageID/lang
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byID:         make(map[string]*Record),
		rooms:        make(map[string][]*Record),
		lastRead:     make(map[string]time.Time),
		langs:        make(map[string]map[string]string),
		translations: make(map[string]Translation),
	}
}

// SetMemberLanguage records a room member's preferred language.
func (s *MemoryStore) SetMemberLanguage(roomID, userID, lang string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.langs[roomID]
	if m == nil {
		m = make(map[string]string)
		s.langs[roomID] = m
	}
	m[userID] = lang
}

// Translations returns the stored translations of messageID, sorted by language.
func (s *MemoryStore) Translations(messageID string) []Translation {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Translation
	for _, t := range s.translations {
		if t.MessageID == messageID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

// Insert implements Store.
func (s *MemoryStore) Insert(ctx context.Context, m v1.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.ID == "" || m.RoomID == "" || m.SenderID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.byID[m.ID]; dup {
		return ErrInvalidInput
	}
	rec := &Record{Message: m}
	s.byID[m.ID] = rec

	list := append(s.rooms[m.RoomID], rec)
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	if len(list) > memMaxMessagesPerRoom {
		for _, old := range list[:len(list)-memMaxMessagesPerRoom] {
			delete(s.byID, old.ID)
		}
		list = list[len(list)-memMaxMessagesPerRoom:]
	}
	s.rooms[m.RoomID] = list
	return nil
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return *rec, nil
}

// History implements Store.
func (s *MemoryStore) History(ctx context.Context, q HistoryQuery) ([]v1.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.rooms[q.RoomID]
	out := make([]v1.Message, 0, q.Limit)
	for i := len(list) - 1; i >= 0 && len(out) < q.Limit; i-- {
		rec := list[i]
		if !rec.CreatedAt.Before(q.Before) || !visible(rec, q.Now) {
			continue
		}
		out = append(out, rec.Message)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// SoftDelete implements Store.
func (s *MemoryStore) SoftDelete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[id]
	if !ok {
		return ErrNotFound
	}
	rec.IsDeleted = true
	return nil
}

// UnreadCount implements Store.
func (s *MemoryStore) UnreadCount(_ context.Context, roomID, userID string, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	since := s.lastRead[roomID+"/"+userID]
	var n int64
	for _, rec := range s.rooms[roomID] {
		if rec.SenderID == userID || !visible(rec, now) {
			continue
		}
		if since.IsZero() || rec.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// MemberLanguages implements Store.
func (s *MemoryStore) MemberLanguages(_ context.Context, roomID, exceptUserID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for userID, lang := range s.langs[roomID] {
		lang = strings.TrimSpace(lang)
		if userID == exceptUserID || lang == "" {
			continue
		}
		seen[lang] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out, nil
}

// SaveTranslation implements Store.
func (s *MemoryStore) SaveTranslation(_ context.Context, t Translation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[t.MessageID]; !ok {
		return ErrNotFound
	}
	s.translations[t.MessageID+"/"+t.Language] = t
	return nil
}

// MarkDelivered implements delivery.Store.
func (s *MemoryStore) MarkDelivered(_ context.Context, messageID, roomID string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.byID[messageID]
	if !ok || (roomID != "" && rec.RoomID != roomID) {
		return "", false, delivery.ErrMessageNotFound
	}
	if rec.Status != v1.StatusSent {
		return rec.RoomID, false, nil
	}
	rec.Status = v1.StatusDelivered
	return rec.RoomID, true, nil
}

// MarkRoomRead implements delivery.Store.
func (s *MemoryStore) MarkRoomRead(_ context.Context, roomID, readerID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.rooms[roomID] {
		if rec.SenderID != readerID && rec.Status != v1.StatusRead {
			rec.Status = v1.StatusRead
			n++
		}
	}
	s.lastRead[roomID+"/"+readerID] = at
	return n, nil
}

func visible(rec *Record, now time.Time) bool {
	if rec.IsDeleted {
		return false
	}
	return rec.ExpiresAt == nil || rec.ExpiresAt.After(now)
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ delivery.Store = (*MemoryStore)(nil)
)
