// Package session implements the per-node Session Registry: a
// roomId -> live-session set, safe for concurrent add/remove/snapshot.
package session

import (
	"sync"

	"github.com/chatfabric/fabnode/internal/domain"
)

// Registry tracks live sessions grouped by room. A session belongs to
// at most one room; an empty room entry is pruned immediately.
type Registry struct {
	mu    sync.RWMutex
	rooms map[int]map[string]*domain.Session
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[int]map[string]*domain.Session)}
}

// Add registers s under roomID.
func (r *Registry) Add(roomID int, s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[roomID]
	if !ok {
		set = make(map[string]*domain.Session)
		r.rooms[roomID] = set
	}
	set[s.ID] = s
}

// Remove drops s from its room. No-op if s is not present.
func (r *Registry) Remove(s *domain.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.rooms[s.RoomID]
	if !ok {
		return
	}
	delete(set, s.ID)
	if len(set) == 0 {
		delete(r.rooms, s.RoomID)
	}
}

// SnapshotRoom returns a point-in-time copy of roomID's live sessions.
// The copy is safe to iterate without holding the registry lock; no
// ordering is promised relative to concurrent add/remove.
func (r *Registry) SnapshotRoom(roomID int) []*domain.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]*domain.Session, 0, len(set))
	for _, s := range set {
		out = append(out, s)
	}
	return out
}

// ActiveRooms returns the count of rooms with at least one live session.
func (r *Registry) ActiveRooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// TotalSessions returns the count of all live sessions across all rooms.
func (r *Registry) TotalSessions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	total := 0
	for _, set := range r.rooms {
		total += len(set)
	}
	return total
}
