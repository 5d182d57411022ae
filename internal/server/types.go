// Package server defines the hub's internal broadcast envelope and shared
// connection-error helpers.
package server

import "strings"

// broadcastScope selects the set of connections a queued event is delivered
// to.
type broadcastScope int

const (
	scopeAll broadcastScope = iota
	scopeRoom
	scopeRoomExceptSender
)

// outbound is one queued broadcast: a payload plus the scope that resolves to
// the receiving connection set at dispatch time.
type outbound struct {
	scope   broadcastScope
	room    string
	sender  *Client
	payload []byte
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
