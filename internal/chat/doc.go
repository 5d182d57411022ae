// Package chat implements the core coordination logic of the relay chat
// server: the session registry (who is known and online), the room directory
// (who belongs to which room), the event router binding inbound client events
// to those stores, and the presence broadcaster that pushes the roster to
// every connected client.
//
// The package is transport-agnostic: outbound delivery happens exclusively
// through the Broadcaster interface, and connection-local state is reached
// through the Conn interface.
package chat
