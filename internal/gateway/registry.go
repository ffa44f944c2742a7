package gateway

import (
	"sort"
	"sync"
)

// Registry maps an item id to the set of connections watching it. It is
// the only source of room membership; empty rooms are discarded.
type Registry struct {
	mu       sync.RWMutex
	rooms    map[string]map[string]struct{}
	memberOf map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		rooms:    make(map[string]map[string]struct{}),
		memberOf: make(map[string]map[string]struct{}),
	}
}

// Join adds connID to the room of itemID and returns the new member count.
// Joining twice is a no-op.
func (r *Registry) Join(connID, itemID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[itemID]
	if !ok {
		room = make(map[string]struct{})
		r.rooms[itemID] = room
	}
	room[connID] = struct{}{}

	joined, ok := r.memberOf[connID]
	if !ok {
		joined = make(map[string]struct{})
		r.memberOf[connID] = joined
	}
	joined[itemID] = struct{}{}
	return len(room)
}

// Leave removes connID from the room of itemID. It reports the remaining
// member count and whether connID was a member at all.
func (r *Registry) Leave(connID, itemID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leave(connID, itemID)
}

func (r *Registry) leave(connID, itemID string) (int, bool) {
	room, ok := r.rooms[itemID]
	if !ok {
		return 0, false
	}
	if _, member := room[connID]; !member {
		return len(room), false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.rooms, itemID)
	}

	if joined, ok := r.memberOf[connID]; ok {
		delete(joined, itemID)
		if len(joined) == 0 {
			delete(r.memberOf, connID)
		}
	}
	return len(room), true
}

// LeaveAll removes connID from every room and returns the remaining count
// of each room it left.
func (r *Registry) LeaveAll(connID string) map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	left := make(map[string]int, len(r.memberOf[connID]))
	for itemID := range r.memberOf[connID] {
		n, _ := r.leave(connID, itemID)
		left[itemID] = n
	}
	return left
}

func (r *Registry) IsMember(connID, itemID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[itemID][connID]
	return ok
}

func (r *Registry) Count(itemID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[itemID])
}

// Members returns the connections in the room of itemID, sorted.
func (r *Registry) Members(itemID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room := r.rooms[itemID]
	out := make([]string, 0, len(room))
	for id := range room {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Rooms returns the member count of every non-empty room.
func (r *Registry) Rooms() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]int, len(r.rooms))
	for id, room := range r.rooms {
		out[id] = len(room)
	}
	return out
}
