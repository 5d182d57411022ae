// Package server exposes the HTTP surface of the relay: the WebSocket
// upgrade, the registration endpoint, and the health check.
package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/nexuschat/relay/internal/chat"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// Service owns the hub and the chat core and exposes them as HTTP handlers.
// All chat state is scoped to the Service instance, so a fresh instance per
// process (or per test) starts from an empty roster.
type Service struct {
	hub    *Hub
	router *chat.Router
}

// NewService wires a hub, the session registry, the room directory, and the
// event router into a ready-to-start service.
func NewService() *Service {
	hub := NewHub()
	router := chat.NewRouter(chat.NewRegistry(), chat.NewDirectory(), hub)
	return &Service{hub: hub, router: router}
}

// Start launches the hub event loop. Must be called before serving traffic.
func (s *Service) Start() {
	go s.hub.Run()
	log.Println("Hub started and ready to manage connections")
}

// Hub returns the underlying hub for shutdown coordination.
func (s *Service) Hub() *Hub { return s.hub }

// Router returns the event router, giving callers access to the session and
// room stores.
func (s *Service) Router() *chat.Router { return s.router }

// WebSocketHandler handles WebSocket upgrade requests. It validates the
// method, upgrades the connection, and registers the resulting client with
// the hub, which launches the client's read/write pumps.
func (s *Service) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, s.hub, s.router, r.RemoteAddr)
	s.hub.register <- client
}

type loginRequest struct {
	Username string `json:"username"`
}

type loginResponse struct {
	Username string `json:"username"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// LoginHandler is the non-live registration path. Unlike the login event on a
// live connection it enforces strict username uniqueness: a name that exists
// at all, even offline, is rejected with a 400.
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if origin, ok := allowOriginHeader(r); ok {
		w.Header().Set("Access-Control-Allow-Origin", origin)
	}
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed. Login endpoint only accepts POST requests.", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Invalid request body"})
		return
	}
	if req.Username == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Username is required"})
		return
	}

	if err := s.router.RegisterUser(req.Username); err != nil {
		if errors.Is(err, chat.ErrUsernameTaken) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "Username already taken"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Registration failed"})
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{Username: req.Username})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("Error writing JSON response: %v", err)
	}
}

// HealthHandler provides a simple health check endpoint that returns server
// status as plain text.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Relay chat server is running!")
}
