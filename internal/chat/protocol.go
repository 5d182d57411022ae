// Package chat defines the wire protocol shared by clients and the event
// router: event names plus the flat JSON envelopes used in both directions.
package chat

import (
	"encoding/json"
	"log"
)

// EventName identifies a protocol event exchanged between client and server.
type EventName string

// Inbound events (client to server).
const (
	EventLogin       EventName = "login"
	EventJoinRoom    EventName = "joinRoom"
	EventLeaveRoom   EventName = "leaveRoom"
	EventChatMessage EventName = "chatMessage"
	EventTyping      EventName = "typing"
	EventStopTyping  EventName = "stopTyping"
	EventLogout      EventName = "logout"
)

// Outbound events (server to clients).
const (
	EventUserList          EventName = "userList"
	EventUserJoined        EventName = "userJoined"
	EventUserLeft          EventName = "userLeft"
	EventMessage           EventName = "message"
	EventUserTyping        EventName = "userTyping"
	EventUserStoppedTyping EventName = "userStoppedTyping"
)

// ClientEvent is the envelope for every inbound frame. Fields a given event
// does not use stay empty.
type ClientEvent struct {
	Event    EventName `json:"event"`
	Username string    `json:"username,omitempty"`
	Room     string    `json:"room,omitempty"`
	Message  string    `json:"message,omitempty"`
}

// ServerEvent is the envelope for every outbound frame. The Users field is
// populated only for userList events; every trigger for a userList broadcast
// follows a registry mutation, so the roster carries at least one entry.
type ServerEvent struct {
	Event    EventName       `json:"event"`
	Username string          `json:"username,omitempty"`
	Room     string          `json:"room,omitempty"`
	Message  string          `json:"message,omitempty"`
	Users    []PresenceEntry `json:"users,omitempty"`
}

// PresenceEntry is one row of the public roster broadcast to all clients.
type PresenceEntry struct {
	Username string `json:"username"`
	Online   bool   `json:"online"`
}

// marshalEvent encodes an outbound event, returning nil on encoding failure
// so callers can hand the result straight to a broadcaster, which skips nil
// payloads.
func marshalEvent(ev ServerEvent) []byte {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("Error encoding %s event: %v", ev.Event, err)
		return nil
	}
	return payload
}
