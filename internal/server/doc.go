// Package server implements the transport layer of the relay chat service:
// HTTP and WebSocket endpoints, per-connection read/write pumps, and the hub
// that fans chat events out to connection and room broadcast groups.
//
// The implementation is organized into specialized files for configuration,
// origin control, hub management, clients, routing, and HTTP handlers to keep
// the codebase maintainable and testable as the project grows.
package server
