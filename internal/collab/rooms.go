package collab

import "sync"

// Rooms is the membership index: document id to the set of connections
// currently editing it. A room exists exactly as long as it has members;
// absence of an entry is the empty-room state.
type Rooms struct {
	mu      sync.RWMutex
	members map[string]map[string]*Conn
}

// NewRooms constructs an empty membership index.
func NewRooms() *Rooms {
	return &Rooms{members: make(map[string]map[string]*Conn)}
}

func (r *Rooms) add(documentID string, conn *Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[documentID]
	if !ok {
		room = make(map[string]*Conn)
		r.members[documentID] = room
	}
	room[conn.ID] = conn
}

// remove reports whether the connection was a member.
func (r *Rooms) remove(documentID, connID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.members[documentID]
	if !ok {
		return false
	}
	if _, member := room[connID]; !member {
		return false
	}
	delete(room, connID)
	if len(room) == 0 {
		delete(r.members, documentID)
	}
	return true
}

// snapshot returns the current member connections of a room.
func (r *Rooms) snapshot(documentID string) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()
	room := r.members[documentID]
	conns := make([]*Conn, 0, len(room))
	for _, conn := range room {
		conns = append(conns, conn)
	}
	return conns
}

// Count reports the current membership size of a room.
func (r *Rooms) Count(documentID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[documentID])
}
