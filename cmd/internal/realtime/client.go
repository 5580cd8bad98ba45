package realtime

import (
	"sort"
	"sync"

	"messenger/cmd/internal/auth"
	v1 "messenger/shared/contracts/realtime/v1"
)

// Client is one connected websocket session.
//
// Send is never closed by the server so concurrent broadcasters cannot panic;
// done signals the session goroutines to stop and Close is idempotent.
type Client struct {
	ConnID string
	UserID string
	Email  string
	Role   string
	Send   chan v1.Envelope

	mu    sync.RWMutex
	rooms map[string]struct{}

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient constructs a Client with a bounded send queue.
func NewClient(connID string, id auth.Identity, sendQueueSize int) *Client {
	if sendQueueSize <= 0 {
		sendQueueSize = 64
	}
	return &Client{
		ConnID: connID,
		UserID: id.UserID,
		Email:  id.Email,
		Role:   id.Role,
		Send:   make(chan v1.Envelope, sendQueueSize),
		rooms:  make(map[string]struct{}),
		done:   make(chan struct{}),
	}
}

// Done returns a channel that is closed when the client is shutting down.
func (c *Client) Done() <-chan struct{} {
	if c == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return c.done
}

// Close signals the client goroutines to stop (idempotent).
func (c *Client) Close() {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// InRoom reports whether the session has joined roomID.
func (c *Client) InRoom(roomID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.rooms[roomID]
	return ok
}

// JoinedRooms returns the joined room ids, sorted.
func (c *Client) JoinedRooms() []string {
	c.mu.RLock()
	out := make([]string, 0, len(c.rooms))
	for id := range c.rooms {
		out = append(out, id)
	}
	c.mu.RUnlock()

	sort.Strings(out)
	return out
}

func (c *Client) addRoom(roomID string) {
	c.mu.Lock()
	c.rooms[roomID] = struct{}{}
	c.mu.Unlock()
}

// offer queues env without blocking. It returns false when the client is
// closing or its queue is full.
func (c *Client) offer(env v1.Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.Send <- env:
		return true
	default:
		return false
	}
}
