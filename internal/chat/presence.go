// Package chat derives the public roster broadcast from registry state
// through the Presence type.
package chat

// Presence pushes the full user roster to every connected client. It holds no
// state of its own; each broadcast is a pure projection of the registry.
type Presence struct {
	registry    *Registry
	broadcaster Broadcaster
}

// NewPresence creates a presence broadcaster over the given registry.
func NewPresence(registry *Registry, broadcaster Broadcaster) *Presence {
	return &Presence{registry: registry, broadcaster: broadcaster}
}

// Broadcast sends the current roster to all connected clients. Called after
// every registry mutation: login, registration, logout, and disconnect.
func (p *Presence) Broadcast() {
	p.broadcaster.BroadcastAll(marshalEvent(ServerEvent{
		Event: EventUserList,
		Users: p.registry.Snapshot(),
	}))
}
