// Package chat tracks per-room membership through the Directory type.
package chat

import (
	"sort"
	"sync"
)

// Directory is the room store: room name to member-username set. Rooms are
// created lazily on first join and never deleted, so the map only grows over
// the life of the process.
type Directory struct {
	mu    sync.RWMutex
	rooms map[string]map[string]struct{}
}

// NewDirectory creates an empty room directory.
func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[string]struct{})}
}

// Join adds username to the room, creating the room if needed, and reports
// whether the membership is new. Joining a room twice has no further effect
// on the member set.
func (d *Directory) Join(room, username string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	members, ok := d.rooms[room]
	if !ok {
		members = make(map[string]struct{})
		d.rooms[room] = members
	}
	if _, exists := members[username]; exists {
		return false
	}
	members[username] = struct{}{}
	return true
}

// Leave removes username from the room's member set. Unknown rooms and
// non-members are a no-op.
func (d *Directory) Leave(room, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if members, ok := d.rooms[room]; ok {
		delete(members, username)
	}
}

// Exists reports whether the room has been created.
func (d *Directory) Exists(room string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()

	_, ok := d.rooms[room]
	return ok
}

// Members returns the room's current member usernames in sorted order, empty
// for an unknown room.
func (d *Directory) Members(room string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	members := make([]string, 0, len(d.rooms[room]))
	for username := range d.rooms[room] {
		members = append(members, username)
	}
	sort.Strings(members)
	return members
}
