package realtime

import (
	"sync"

	v1 "messenger/shared/contracts/realtime/v1"
)

// Room is the in-process set of connections joined to one room id.
//
// Join/Leave are safe under concurrent Broadcast and Broadcast never blocks:
// a full or closing connection queue drops the envelope.
type Room struct {
	ID string

	mu      sync.RWMutex
	members map[string]*Client
}

func newRoom(id string) *Room {
	return &Room{
		ID:      id,
		members: make(map[string]*Client),
	}
}

func (r *Room) add(c *Client) {
	r.mu.Lock()
	r.members[c.ConnID] = c
	r.mu.Unlock()
}

// remove deletes connID and reports whether the room became empty.
func (r *Room) remove(connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, connID)
	return len(r.members) == 0
}

func (r *Room) has(connID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.members[connID]
	return ok
}

// Size returns the number of joined connections.
func (r *Room) Size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

// broadcast offers env to every member except exceptConnID ("" excludes nobody).
func (r *Room) broadcast(env v1.Envelope, exceptConnID string) (delivered, dropped int) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for id, m := range r.members {
		if m == nil || id == exceptConnID {
			continue
		}
		if m.offer(env) {
			delivered++
		} else {
			dropped++
		}
	}
	return delivered, dropped
}
