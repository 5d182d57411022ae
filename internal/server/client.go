// Package server manages individual client connections: read/write pumps,
// keepalive deadlines, and dispatch of decoded events into the chat core.
package server

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nexuschat/relay/internal/chat"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
)

// Client is one live transport connection. It carries the connection-local
// identity the event router reads: the username is empty until the login
// event sets it and never changes afterward.
type Client struct {
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	router         *chat.Router
	id             string
	addr           string
	username       string
	closed         bool
	maxMessageSize int64
}

var _ chat.Conn = (*Client)(nil)

// NewClient creates a Client for an upgraded connection. Each client gets an
// opaque connection identifier and a buffered send channel for queued
// outbound events.
func NewClient(conn *websocket.Conn, hub *Hub, router *chat.Router, addr string) *Client {
	cfg := currentConfig()
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}

	return &Client{
		conn:           conn,
		send:           make(chan []byte, 256),
		hub:            hub,
		router:         router,
		id:             uuid.NewString(),
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
	}
}

// ID returns the opaque connection identifier the registry binds to a
// username on login.
func (c *Client) ID() string { return c.id }

// Username returns the identity established for this connection, or the
// empty string while the connection is anonymous.
func (c *Client) Username() string { return c.username }

// SetUsername records the connection's identity. Called at most once, by the
// login event, on the connection's own read goroutine.
func (c *Client) SetUsername(username string) { c.username = username }

// GetSendChan returns the client's send channel for reading outgoing events.
// Read-only from the caller's perspective.
func (c *Client) GetSendChan() <-chan []byte {
	return c.send
}

// setupReadConnection configures the read deadline and pong handler for the
// connection.
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Error setting initial read deadline for %s: %v", c.addr, err)
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Error setting read deadline in pong handler for %s: %v", c.addr, err)
		}
		return nil
	})
}

// logReadError logs a read failure with the appropriate severity for its
// cause.
func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		log.Printf("Frame from %s exceeded maximum size of %d bytes", c.addr, c.maxMessageSize)
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		log.Printf("Client %s disconnected: %v", c.addr, err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		log.Printf("Client %s connection closed: %v", c.addr, err)
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		log.Printf("Unexpected WebSocket error from %s: %v", c.addr, err)
	default:
		log.Printf("WebSocket read error from %s: %v", c.addr, err)
	}
}

// dispatch decodes one inbound frame and routes it. Malformed frames are
// logged and dropped without feedback to the sender, like any other
// precondition violation on the live path.
func (c *Client) dispatch(rawMessage []byte) {
	var ev chat.ClientEvent
	if err := json.Unmarshal(rawMessage, &ev); err != nil {
		log.Printf("Invalid event from %s: %v", c.addr, err)
		return
	}
	c.router.HandleEvent(c, ev)
}

func (c *Client) readPump() {
	defer func() {
		c.router.Disconnect(c)
		// The run loop stops consuming unregistrations once the hub shuts
		// down; don't block on it forever.
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in readPump: %v", err)
		}
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			break
		}
		c.dispatch(rawMessage)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing connection in writePump: %v", err)
		}
	}()

	for {
		select {
		case <-c.hub.ctx.Done():
			return

		case payload, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for %s: %v", c.addr, err)
				return
			}
			if !ok {
				// The hub closed the send channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil && !isExpectedCloseError(err) {
					log.Printf("Error writing close message to %s: %v", c.addr, err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Printf("Error writing message to %s: %v", c.addr, err)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Printf("Error setting write deadline for ping to %s: %v", c.addr, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error writing ping message to %s: %v", c.addr, err)
				}
				return
			}
		}
	}
}
