// Package rooms maps chat rooms to the connections subscribed to them.
package rooms

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry holds chatID -> connections and the inverse connID -> chats.
// Both directions change together under one lock.
//
// A connection must be attached before it can join rooms. Detaching it (via
// LeaveAll) makes later joins for that id no-ops, so a join racing a
// disconnect cannot leave a ghost subscription behind.
type Registry struct {
	mu     sync.RWMutex
	rooms  map[string]map[string]struct{} // chatID -> connIDs
	joined map[string]map[string]struct{} // connID -> chatIDs
	logger *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:  make(map[string]map[string]struct{}),
		joined: make(map[string]map[string]struct{}),
		logger: slog.Default().With("component", "rooms"),
	}
}

// Attach makes connID eligible to join rooms. Attaching twice is a no-op.
func (r *Registry) Attach(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.joined[connID]; !ok {
		r.joined[connID] = make(map[string]struct{})
	}
}

// Join subscribes connID to chatID. It reports whether the subscription was
// added; joining twice or joining with a detached connection returns false.
func (r *Registry) Join(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats, attached := r.joined[connID]
	if !attached {
		r.logger.Debug("Join ignored for detached connection", "conn_id", connID, "chat_id", chatID)
		return false
	}
	if _, already := chats[chatID]; already {
		return false
	}
	chats[chatID] = struct{}{}

	members, ok := r.rooms[chatID]
	if !ok {
		members = make(map[string]struct{})
		r.rooms[chatID] = members
	}
	members[connID] = struct{}{}
	return true
}

// Leave unsubscribes connID from chatID. It reports whether anything changed.
func (r *Registry) Leave(connID, chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats, ok := r.joined[connID]
	if !ok {
		return false
	}
	if _, in := chats[chatID]; !in {
		return false
	}
	delete(chats, chatID)
	r.removeMemberLocked(chatID, connID)
	return true
}

// LeaveAll removes connID from every room and detaches it. It returns the
// rooms that were left.
func (r *Registry) LeaveAll(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	chats, ok := r.joined[connID]
	if !ok {
		return nil
	}
	left := make([]string, 0, len(chats))
	for chatID := range chats {
		r.removeMemberLocked(chatID, connID)
		left = append(left, chatID)
	}
	delete(r.joined, connID)
	sort.Strings(left)
	return left
}

// MembersOf returns a snapshot of the connections subscribed to chatID.
func (r *Registry) MembersOf(chatID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	members := r.rooms[chatID]
	out := make([]string, 0, len(members))
	for connID := range members {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// RoomsOf returns the chats connID is subscribed to, sorted.
func (r *Registry) RoomsOf(connID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	chats := r.joined[connID]
	out := make([]string, 0, len(chats))
	for chatID := range chats {
		out = append(out, chatID)
	}
	sort.Strings(out)
	return out
}

// IsMember reports whether connID is subscribed to chatID.
func (r *Registry) IsMember(connID, chatID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[chatID][connID]
	return ok
}

// RoomCount returns the number of non-empty rooms.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

func (r *Registry) removeMemberLocked(chatID, connID string) {
	members := r.rooms[chatID]
	delete(members, connID)
	if len(members) == 0 {
		delete(r.rooms, chatID)
	}
}
