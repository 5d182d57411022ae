// Package chat binds inbound client events to the session and room stores and
// computes the outbound broadcast set for each through the Router type.
package chat

import "log"

// Conn is the connection-local state the router needs from the transport
// layer. The username starts empty and is set exactly once, by the login
// event; it never changes for the lifetime of the connection.
type Conn interface {
	ID() string
	Username() string
	SetUsername(username string)
}

// Broadcaster is the single boundary back into the transport layer. Delivery
// is fire and forget: no acknowledgment is awaited and nothing is retried. A
// slow or dead receiver is the transport's problem, not the router's.
type Broadcaster interface {
	BroadcastAll(payload []byte)
	BroadcastRoom(room string, payload []byte)
	BroadcastRoomExcept(room string, sender Conn, payload []byte)
	Subscribe(conn Conn, room string)
	Unsubscribe(conn Conn, room string)
}

// Router is the protocol state machine. Each connection moves from anonymous
// to authenticated on its first login event and stays there until it closes;
// events that need an identity are dropped silently while the connection is
// anonymous, with no feedback to the sender.
//
// Room membership is intentionally not checked for chatMessage, typing, and
// stopTyping: any authenticated connection may emit into any room name.
type Router struct {
	registry    *Registry
	rooms       *Directory
	presence    *Presence
	broadcaster Broadcaster
}

// NewRouter wires the stores and the transport boundary into a router. The
// stores are owned by the router's caller and constructed once at process
// start; tests construct fresh instances per case.
func NewRouter(registry *Registry, rooms *Directory, broadcaster Broadcaster) *Router {
	return &Router{
		registry:    registry,
		rooms:       rooms,
		presence:    NewPresence(registry, broadcaster),
		broadcaster: broadcaster,
	}
}

// Registry exposes the session store.
func (rt *Router) Registry() *Registry { return rt.registry }

// Rooms exposes the room directory.
func (rt *Router) Rooms() *Directory { return rt.rooms }

// HandleEvent dispatches one decoded inbound event from a connection.
func (rt *Router) HandleEvent(conn Conn, ev ClientEvent) {
	switch ev.Event {
	case EventLogin:
		rt.Login(conn, ev.Username)
	case EventJoinRoom:
		rt.JoinRoom(conn, ev.Room)
	case EventLeaveRoom:
		rt.LeaveRoom(conn, ev.Room)
	case EventChatMessage:
		rt.ChatMessage(conn, ev.Room, ev.Message)
	case EventTyping:
		rt.Typing(conn, ev.Room)
	case EventStopTyping:
		rt.StopTyping(conn, ev.Room)
	case EventLogout:
		rt.Logout(ev.Username)
	default:
		log.Printf("Ignoring unknown event %q", ev.Event)
	}
}

// Login establishes the connection's identity. Reactivation is allowed: a
// username that already exists is marked online again and its connection
// handle is taken over by this connection. A login on an already
// authenticated connection is dropped, as is an empty username.
func (rt *Router) Login(conn Conn, username string) {
	if username == "" || conn.Username() != "" {
		return
	}
	if _, err := rt.registry.Establish(username, true); err != nil {
		log.Printf("Login for %q failed: %v", username, err)
		return
	}
	rt.registry.BindConnection(username, conn.ID())
	conn.SetUsername(username)
	rt.presence.Broadcast()
}

// RegisterUser is the non-live registration path. Unlike the login event it
// enforces strict username uniqueness, rejecting names that exist even
// offline, and binds no connection.
func (rt *Router) RegisterUser(username string) error {
	if _, err := rt.registry.Establish(username, false); err != nil {
		return err
	}
	rt.presence.Broadcast()
	return nil
}

// JoinRoom adds the connection's user to the room and subscribes the
// connection to the room's broadcast group. Every join re-notifies the room,
// even when the membership already existed.
func (rt *Router) JoinRoom(conn Conn, room string) {
	username := conn.Username()
	if username == "" {
		return
	}
	rt.rooms.Join(room, username)
	rt.broadcaster.Subscribe(conn, room)
	rt.broadcaster.BroadcastRoom(room, marshalEvent(ServerEvent{
		Event:    EventUserJoined,
		Username: username,
		Room:     room,
	}))
}

// LeaveRoom removes the connection's user from an existing room and
// unsubscribes the connection. The leaver is unsubscribed before the
// notification goes out, so only the remaining members receive it.
func (rt *Router) LeaveRoom(conn Conn, room string) {
	username := conn.Username()
	if username == "" || !rt.rooms.Exists(room) {
		return
	}
	rt.rooms.Leave(room, username)
	rt.broadcaster.Unsubscribe(conn, room)
	rt.broadcaster.BroadcastRoom(room, marshalEvent(ServerEvent{
		Event:    EventUserLeft,
		Username: username,
		Room:     room,
	}))
}

// ChatMessage relays a message to every connection subscribed to the room,
// the sender included. The router itself keeps no message state.
func (rt *Router) ChatMessage(conn Conn, room, message string) {
	username := conn.Username()
	if username == "" {
		return
	}
	rt.broadcaster.BroadcastRoom(room, marshalEvent(ServerEvent{
		Event:    EventMessage,
		Username: username,
		Message:  message,
	}))
}

// Typing notifies the room that the user started typing, excluding the
// sender.
func (rt *Router) Typing(conn Conn, room string) {
	username := conn.Username()
	if username == "" {
		return
	}
	rt.broadcaster.BroadcastRoomExcept(room, conn, marshalEvent(ServerEvent{
		Event:    EventUserTyping,
		Username: username,
	}))
}

// StopTyping notifies the room that the user stopped typing, excluding the
// sender.
func (rt *Router) StopTyping(conn Conn, room string) {
	username := conn.Username()
	if username == "" {
		return
	}
	rt.broadcaster.BroadcastRoomExcept(room, conn, marshalEvent(ServerEvent{
		Event:    EventUserStoppedTyping,
		Username: username,
	}))
}

// Logout marks the named user offline. The connection keeps its identity;
// only presence changes. Unknown usernames are dropped without a broadcast.
func (rt *Router) Logout(username string) {
	if !rt.registry.MarkOffline(username) {
		return
	}
	rt.presence.Broadcast()
}

// Disconnect handles transport-level teardown. An authenticated user goes
// offline and the roster is re-broadcast. Room member sets are left
// untouched: the directory keeps no reverse index from user to rooms, so a
// dropped user stays listed in every joined room until an explicit leaveRoom.
// The transport-side broadcast group is cleaned up by the hub, so the stale
// entry never receives a send.
func (rt *Router) Disconnect(conn Conn) {
	username := conn.Username()
	if username == "" {
		return
	}
	if rt.registry.MarkOffline(username) {
		rt.presence.Broadcast()
	}
}
