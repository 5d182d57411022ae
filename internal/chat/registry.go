// Package chat tracks known users and their connection state through the
// Registry type, the source of truth for the presence roster.
package chat

import (
	"errors"
	"sync"
)

// ErrUsernameTaken is returned when strictly registering a username that
// already exists, whether or not that user is currently online.
var ErrUsernameTaken = errors.New("username already taken")

// User is one known identity. Users are created on first login or
// registration and never deleted, only marked offline. At most one live
// connection handle is bound to a username at a time.
type User struct {
	Username     string
	Online       bool
	ConnectionID string
}

// Registry is the session store: one entry per known username. Snapshot order
// is insertion order, kept deterministic with an explicit order slice since
// map iteration is not stable.
type Registry struct {
	mu    sync.RWMutex
	users map[string]*User
	order []string
}

// NewRegistry creates an empty session registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// Establish creates or reactivates the identity for username and returns the
// resulting user state. With allowReactivation the call is idempotent and
// never fails: an existing user is simply marked online again. Without it the
// call enforces strict uniqueness and fails with ErrUsernameTaken when the
// username exists at all, online or offline.
func (r *Registry) Establish(username string, allowReactivation bool) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.users[username]; ok {
		if !allowReactivation {
			return User{}, ErrUsernameTaken
		}
		existing.Online = true
		return *existing, nil
	}

	user := &User{Username: username, Online: true}
	r.users[username] = user
	r.order = append(r.order, username)
	return *user, nil
}

// BindConnection records the live connection handle for a username,
// overwriting any prior handle. The prior connection is not closed here; a
// second live login for the same username silently takes over the handle.
func (r *Registry) BindConnection(username, connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[username]; ok {
		user.ConnectionID = connectionID
	}
}

// MarkOffline flags the username as offline and reports whether the user was
// known. Unknown usernames are a no-op.
func (r *Registry) MarkOffline(username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	user, ok := r.users[username]
	if !ok {
		return false
	}
	user.Online = false
	return true
}

// Snapshot returns the current roster in insertion order.
func (r *Registry) Snapshot() []PresenceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]PresenceEntry, 0, len(r.order))
	for _, username := range r.order {
		user := r.users[username]
		entries = append(entries, PresenceEntry{Username: user.Username, Online: user.Online})
	}
	return entries
}
