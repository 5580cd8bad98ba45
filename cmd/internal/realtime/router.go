package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"messenger/cmd/internal/metrics"
	v1 "messenger/shared/contracts/realtime/v1"
)

// ErrRouterClosed is returned by Attach after Shutdown.
var ErrRouterClosed = errors.New("realtime: router closed")

// ErrUnknownConnection is returned when a connection id is not attached.
var ErrUnknownConnection = errors.New("realtime: unknown connection")

// Router is the process-owned registry of attached connections and the
// room -> connections table used for fan-out.
//
// One Router is constructed at startup and passed to every handler; Shutdown
// closes all attached sessions so their disconnect paths run.
type Router struct {
	log     *slog.Logger
	members MembershipIndex
	metrics *metrics.Metrics

	bus    Bus
	nodeID string

	mu      sync.RWMutex
	closed  bool
	rooms   map[string]*Room
	clients map[string]*Client
}

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithRouterMetrics records deliveries and drops.
func WithRouterMetrics(m *metrics.Metrics) RouterOption {
	return func(r *Router) { r.metrics = m }
}

// NewRouter constructs a Router. A nil index denies every join and attaches no rooms.
func NewRouter(log *slog.Logger, members MembershipIndex, opts ...RouterOption) *Router {
	if log == nil {
		log = slog.Default()
	}
	if members == nil {
		members = NewMemoryMembershipIndex()
	}
	r := &Router{
		log:     log,
		members: members,
		rooms:   make(map[string]*Room),
		clients: make(map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// UseBus starts relaying room events through b so connections held by other
// processes receive them. It must be called before the router serves traffic.
func (r *Router) UseBus(b Bus, nodeID string) error {
	if b == nil {
		return errors.New("realtime: nil bus")
	}
	if err := b.Subscribe(r.deliverRemote); err != nil {
		return fmt.Errorf("bus subscribe: %w", err)
	}
	r.mu.Lock()
	r.bus = b
	r.nodeID = nodeID
	r.mu.Unlock()
	return nil
}

// Attach registers c and batch-joins every room the user is an active member of.
// The returned room ids are the set captured at connect time.
//
// When the membership lookup fails the client is still attached with no rooms.
func (r *Router) Attach(ctx context.Context, c *Client) ([]string, error) {
	if c == nil || c.ConnID == "" {
		return nil, errors.New("realtime: invalid client")
	}

	roomIDs, lookupErr := r.members.ActiveRoomIDs(ctx, c.UserID)
	if lookupErr != nil {
		roomIDs = nil
		lookupErr = fmt.Errorf("active rooms: %w", lookupErr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrRouterClosed
	}
	r.clients[c.ConnID] = c

	joined := make([]string, 0, len(roomIDs))
	for _, id := range roomIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		r.roomLocked(id).add(c)
		c.addRoom(id)
		joined = append(joined, id)
	}
	sort.Strings(joined)

	r.log.Info("router.attach", "conn_id", c.ConnID, "user_id", c.UserID, "rooms", len(joined))
	return joined, lookupErr
}

// Join adds the connection to roomID after checking active membership and
// announces user_joined to the other connections in the room.
//
// A non-member join is a silent no-op: it returns (false, nil).
func (r *Router) Join(ctx context.Context, connID, roomID string) (bool, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return false, nil
	}

	c := r.client(connID)
	if c == nil {
		return false, ErrUnknownConnection
	}

	ok, err := r.members.IsActiveMember(ctx, c.UserID, roomID)
	if err != nil {
		return false, fmt.Errorf("membership check: %w", err)
	}
	if !ok {
		r.log.Debug("router.join.denied", "conn_id", connID, "user_id", c.UserID, "room_id", roomID)
		return false, nil
	}

	r.mu.Lock()
	if _, attached := r.clients[connID]; !attached {
		r.mu.Unlock()
		return false, ErrUnknownConnection
	}
	r.roomLocked(roomID).add(c)
	c.addRoom(roomID)
	r.mu.Unlock()

	r.log.Debug("router.join", "conn_id", connID, "user_id", c.UserID, "room_id", roomID)

	env, err := NewEvent(v1.TypeUserJoined, v1.UserJoinedPayload{UserID: c.UserID, RoomID: roomID})
	if err != nil {
		return true, err
	}
	r.EmitToRoomExcept(roomID, env, connID)
	return true, nil
}

// Detach removes the connection from every room it joined and from the registry.
// It returns the rooms the connection was in.
func (r *Router) Detach(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.clients[connID]
	if !ok {
		return nil
	}
	delete(r.clients, connID)

	rooms := c.JoinedRooms()
	for _, id := range rooms {
		room, ok := r.rooms[id]
		if !ok {
			continue
		}
		if room.remove(connID) {
			delete(r.rooms, id)
		}
	}

	r.log.Info("router.detach", "conn_id", connID, "user_id", c.UserID, "rooms", len(rooms))
	return rooms
}

// EmitToRoom delivers env to every connection in roomID (best-effort).
func (r *Router) EmitToRoom(roomID string, env v1.Envelope) {
	r.emit(roomID, env, "")
}

// EmitToRoomExcept delivers env to every connection in roomID but exceptConnID.
func (r *Router) EmitToRoomExcept(roomID string, env v1.Envelope, exceptConnID string) {
	r.emit(roomID, env, exceptConnID)
}

// EmitTo delivers env to a single connection.
func (r *Router) EmitTo(connID string, env v1.Envelope) bool {
	c := r.client(connID)
	if c == nil {
		return false
	}
	ok := c.offer(env)
	if ok {
		r.metrics.Delivered(1)
	} else {
		r.metrics.Dropped(1)
	}
	return ok
}

func (r *Router) emit(roomID string, env v1.Envelope, exceptConnID string) {
	r.deliverLocal(roomID, env, exceptConnID)

	r.mu.RLock()
	bus := r.bus
	r.mu.RUnlock()
	if bus == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := bus.Publish(ctx, roomID, env, exceptConnID); err != nil {
		r.log.Warn("router.bus.publish.fail", "room_id", roomID, "type", env.Type, "err", err)
	}
}

func (r *Router) deliverLocal(roomID string, env v1.Envelope, exceptConnID string) {
	r.mu.RLock()
	room := r.rooms[roomID]
	r.mu.RUnlock()
	if room == nil {
		return
	}

	delivered, dropped := room.broadcast(env, exceptConnID)
	r.metrics.Delivered(delivered)
	r.metrics.Dropped(dropped)
	if dropped > 0 {
		r.log.Debug("router.emit.dropped", "room_id", roomID, "type", env.Type, "dropped", dropped)
	}
}

func (r *Router) deliverRemote(m BusMessage) {
	r.mu.RLock()
	self := r.nodeID
	r.mu.RUnlock()
	if m.NodeID != "" && m.NodeID == self {
		return
	}
	r.deliverLocal(m.RoomID, m.Envelope, m.ExceptConnID)
}

// InRoom reports whether connID is currently in roomID's broadcast set.
func (r *Router) InRoom(roomID, connID string) bool {
	r.mu.RLock()
	room := r.rooms[roomID]
	r.mu.RUnlock()
	return room != nil && room.has(connID)
}

// RoomSize returns the number of local connections joined to roomID.
func (r *Router) RoomSize(roomID string) int {
	r.mu.RLock()
	room := r.rooms[roomID]
	r.mu.RUnlock()
	if room == nil {
		return 0
	}
	return room.Size()
}

// Connections returns the number of attached connections.
func (r *Router) Connections() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// Shutdown refuses new attachments and signals every attached client to close.
// Callers wait for the sessions' disconnect paths separately (see WSGateway.Shutdown).
func (r *Router) Shutdown() {
	r.mu.Lock()
	r.closed = true
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	r.mu.Unlock()

	for _, c := range clients {
		c.Close()
	}
	r.log.Info("router.shutdown", "connections", len(clients))
}

func (r *Router) client(connID string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.clients[connID]
}

// roomLocked returns the room, creating it. r.mu must be held for writing.
func (r *Router) roomLocked(id string) *Room {
	room, ok := r.rooms[id]
	if !ok {
		room = newRoom(id)
		r.rooms[id] = room
	}
	return room
}
