// Package server coordinates client connections, room broadcast groups, and
// event fan-out for the relay chat service via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/nexuschat/relay/internal/chat"
)

// Hub owns the set of live client connections and the per-room broadcast
// groups, and fans queued events out to the selected subscriber set. It
// implements chat.Broadcaster, making it the single path from the event
// router back to the transport layer.
type Hub struct {
	clients    map[*Client]bool
	rooms      map[string]map[*Client]bool
	broadcast  chan outbound
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

var _ chat.Broadcaster = (*Hub)(nil)

// NewHub creates and initializes a new Hub instance with all necessary
// channels and maps. The returned Hub is ready to manage connections once
// Run is called.
func NewHub() *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		broadcast:  make(chan outbound),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// GetRegisterChan returns the channel used for registering new clients.
// Write-only from the caller's perspective.
func (h *Hub) GetRegisterChan() chan<- *Client {
	return h.register
}

// GetUnregisterChan returns the channel used for unregistering clients.
// Write-only from the caller's perspective.
func (h *Hub) GetUnregisterChan() chan<- *Client {
	return h.unregister
}

// Run starts the hub's main event loop, handling client registration,
// unregistration, and broadcast dispatch. Call in its own goroutine; it runs
// until Shutdown cancels the hub context.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil client registration; skipping")
				continue
			}
			count := h.addClient(client)
			log.Printf("Client %s connected from %s. Total clients: %d", client.id, client.addr, count)
			h.startPumps(client)

		case client := <-h.unregister:
			h.removeClient(client)

		case msg := <-h.broadcast:
			h.dispatch(msg)
		}
	}
}

// BroadcastAll queues payload for every connected client.
func (h *Hub) BroadcastAll(payload []byte) {
	h.enqueue(outbound{scope: scopeAll, payload: payload})
}

// BroadcastRoom queues payload for every connection subscribed to room,
// the sender's included.
func (h *Hub) BroadcastRoom(room string, payload []byte) {
	h.enqueue(outbound{scope: scopeRoom, room: room, payload: payload})
}

// BroadcastRoomExcept queues payload for the room's subscribers other than
// sender.
func (h *Hub) BroadcastRoomExcept(room string, sender chat.Conn, payload []byte) {
	client, _ := sender.(*Client)
	h.enqueue(outbound{scope: scopeRoomExceptSender, room: room, sender: client, payload: payload})
}

// Subscribe adds the connection to the room's broadcast group, creating the
// group on first use.
func (h *Hub) Subscribe(conn chat.Conn, room string) {
	client, ok := conn.(*Client)
	if !ok {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	group, exists := h.rooms[room]
	if !exists {
		group = make(map[*Client]bool)
		h.rooms[room] = group
	}
	group[client] = true
}

// Unsubscribe removes the connection from the room's broadcast group. The
// group itself stays, mirroring the room directory's lazy-create/never-delete
// behavior.
func (h *Hub) Unsubscribe(conn chat.Conn, room string) {
	client, ok := conn.(*Client)
	if !ok {
		return
	}

	h.mutex.Lock()
	defer h.mutex.Unlock()

	if group, exists := h.rooms[room]; exists {
		delete(group, client)
	}
}

// enqueue hands a broadcast to the run loop. Nil payloads (failed encodes)
// are dropped; a cancelled hub absorbs the send instead of blocking the
// caller forever.
func (h *Hub) enqueue(msg outbound) {
	if msg.payload == nil {
		return
	}
	select {
	case h.broadcast <- msg:
	case <-h.ctx.Done():
	}
}

func (h *Hub) addClient(client *Client) int {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	client.closed = false
	h.clients[client] = true
	return len(h.clients)
}

func (h *Hub) startPumps(client *Client) {
	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient drops the client from the connection set and every broadcast
// group, then closes its send channel.
func (h *Hub) removeClient(client *Client) {
	h.mutex.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client)
	for _, group := range h.rooms {
		delete(group, client)
	}
	client.closed = true
	count := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock.
	close(client.send)
	log.Printf("Client %s disconnected from %s. Total clients: %d", client.id, client.addr, count)
}

// dispatch resolves a queued broadcast to its target set and delivers it,
// dropping clients whose send buffer is full.
func (h *Hub) dispatch(msg outbound) {
	targets := h.targetSnapshot(msg)

	var failed []*Client
	for _, client := range targets {
		if !h.safeSend(client, msg.payload) {
			failed = append(failed, client)
		}
	}
	h.removeFailedClients(failed)
}

// targetSnapshot returns a thread-safe snapshot of the connections the
// broadcast scope selects.
func (h *Hub) targetSnapshot(msg outbound) []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	var source map[*Client]bool
	if msg.scope == scopeAll {
		source = h.clients
	} else {
		source = h.rooms[msg.room]
	}

	targets := make([]*Client, 0, len(source))
	for client := range source {
		if msg.scope == scopeRoomExceptSender && client == msg.sender {
			continue
		}
		targets = append(targets, client)
	}
	return targets
}

func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send so the channel cannot be closed
	// underneath us.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	if _, exists := h.clients[client]; !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// removeFailedClients removes clients that failed to receive a broadcast and
// closes their send channels.
func (h *Hub) removeFailedClients(failed []*Client) {
	if len(failed) == 0 {
		return
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range failed {
		if _, exists := h.clients[client]; !exists {
			continue
		}
		delete(h.clients, client)
		for _, group := range h.rooms {
			delete(group, client)
		}
		client.closed = true
		channelsToClose = append(channelsToClose, client.send)
		log.Printf("Client %s from %s removed due to full send buffer", client.id, client.addr)
	}
	h.mutex.Unlock()

	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients closes all active client connections.
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all client connections...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
			log.Printf("Error closing client connection from %s: %v", client.addr, err)
		}
	}

	log.Printf("Closed %d client connections", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all client
// goroutines to finish, or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
