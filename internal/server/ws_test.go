package server_test

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexuschat/relay/internal/chat"
	"github.com/nexuschat/relay/internal/server"
)

func wsURL(ts *httptest.Server) string {
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dialWS(t *testing.T, ts *httptest.Server, origin string) *websocket.Conn {
	t.Helper()
	header := http.Header{}
	header.Set("Origin", origin)
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err != nil {
		t.Fatalf("WebSocket dial failed: %v", err)
	}
	if resp != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, ev chat.ClientEvent) {
	t.Helper()
	if err := conn.WriteJSON(ev); err != nil {
		t.Fatalf("Failed to send %s event: %v", ev.Event, err)
	}
}

// waitForEvent reads frames until one carries the wanted event, skipping
// anything else already queued for the connection.
func waitForEvent(t *testing.T, conn *websocket.Conn, event chat.EventName) chat.ServerEvent {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Timed out waiting for %s event: %v", event, err)
		}
		var ev chat.ServerEvent
		if err := json.Unmarshal(payload, &ev); err != nil {
			t.Fatalf("Received undecodable frame %q: %v", payload, err)
		}
		if ev.Event == event {
			return ev
		}
	}
}

// waitForRoster reads userList events until one carries the wanted number of
// entries. Presence broadcasts reach every connected client, including
// anonymous ones, so a connection may have older rosters queued ahead.
func waitForRoster(t *testing.T, conn *websocket.Conn, size int) chat.ServerEvent {
	t.Helper()
	for {
		ev := waitForEvent(t, conn, chat.EventUserList)
		if len(ev.Users) == size {
			return ev
		}
	}
}

// expectSilence asserts that no frame arrives within a short window. The read
// deadline poisons the connection, so call this only when the connection is
// about to be discarded.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(250 * time.Millisecond)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, payload, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("Expected no frame, received %q", payload)
	}
	if websocket.IsUnexpectedCloseError(err) {
		t.Fatalf("Connection closed while expecting silence: %v", err)
	}
	var netErr net.Error
	if !errors.As(err, &netErr) || !netErr.Timeout() {
		t.Fatalf("Expected read timeout, got %v", err)
	}
}

func TestEndToEndChatFlow(t *testing.T) {
	service, ts := newTestService(t)

	alice := dialWS(t, ts, "http://localhost:3000")
	bob := dialWS(t, ts, "http://localhost:3000")

	sendEvent(t, alice, chat.ClientEvent{Event: chat.EventLogin, Username: "alice"})
	ev := waitForEvent(t, alice, chat.EventUserList)
	if len(ev.Users) != 1 || ev.Users[0].Username != "alice" || !ev.Users[0].Online {
		t.Fatalf("Unexpected roster after alice login: %+v", ev.Users)
	}

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventLogin, Username: "bob"})
	ev = waitForRoster(t, bob, 2)
	if ev.Users[1].Username != "bob" || !ev.Users[1].Online {
		t.Fatalf("Unexpected roster after bob login: %+v", ev.Users)
	}
	waitForRoster(t, alice, 2)

	sendEvent(t, alice, chat.ClientEvent{Event: chat.EventJoinRoom, Room: "general"})
	ev = waitForEvent(t, alice, chat.EventUserJoined)
	if ev.Username != "alice" || ev.Room != "general" {
		t.Fatalf("Unexpected join notification: %+v", ev)
	}

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventJoinRoom, Room: "general"})
	ev = waitForEvent(t, bob, chat.EventUserJoined)
	if ev.Username != "bob" {
		t.Fatalf("Bob should receive his own join notification, got %+v", ev)
	}
	ev = waitForEvent(t, alice, chat.EventUserJoined)
	if ev.Username != "bob" || ev.Room != "general" {
		t.Fatalf("Alice should see bob join, got %+v", ev)
	}

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventChatMessage, Room: "general", Message: "hi"})
	for name, conn := range map[string]*websocket.Conn{"alice": alice, "bob": bob} {
		ev = waitForEvent(t, conn, chat.EventMessage)
		if ev.Username != "bob" || ev.Message != "hi" {
			t.Fatalf("%s received unexpected message event: %+v", name, ev)
		}
	}

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventTyping, Room: "general"})
	ev = waitForEvent(t, alice, chat.EventUserTyping)
	if ev.Username != "bob" {
		t.Fatalf("Unexpected typing notification: %+v", ev)
	}

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventStopTyping, Room: "general"})
	ev = waitForEvent(t, alice, chat.EventUserStoppedTyping)
	if ev.Username != "bob" {
		t.Fatalf("Unexpected stop-typing notification: %+v", ev)
	}

	// The sender is excluded from typing notifications; bob's connection is
	// discarded after this check.
	expectSilence(t, bob)
	_ = bob.Close()

	ev = waitForEvent(t, alice, chat.EventUserList)
	var bobOnline *bool
	for _, entry := range ev.Users {
		if entry.Username == "bob" {
			online := entry.Online
			bobOnline = &online
		}
	}
	if bobOnline == nil || *bobOnline {
		t.Fatalf("Expected bob offline after disconnect, got %+v", ev.Users)
	}

	// Stale membership: the room still lists bob until an explicit leave.
	members := service.Router().Rooms().Members("general")
	if len(members) != 2 || members[0] != "alice" || members[1] != "bob" {
		t.Fatalf("Expected stale membership [alice bob], got %v", members)
	}

	// The registration endpoint still rejects the name while bob is offline.
	resp := postLogin(t, ts, `{"username": "bob"}`)
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 registering offline bob, got %d", resp.StatusCode)
	}
}

func TestUnauthenticatedEventsAreIgnored(t *testing.T) {
	service, ts := newTestService(t)

	conn := dialWS(t, ts, "http://localhost:3000")
	sendEvent(t, conn, chat.ClientEvent{Event: chat.EventJoinRoom, Room: "general"})
	sendEvent(t, conn, chat.ClientEvent{Event: chat.EventChatMessage, Room: "general", Message: "hi"})

	expectSilence(t, conn)
	if service.Router().Rooms().Exists("general") {
		t.Error("Anonymous joinRoom must not create the room")
	}
}

func TestLeaveRoomNotifiesRemainingMembers(t *testing.T) {
	service, ts := newTestService(t)

	alice := dialWS(t, ts, "http://localhost:3000")
	bob := dialWS(t, ts, "http://localhost:3000")

	sendEvent(t, alice, chat.ClientEvent{Event: chat.EventLogin, Username: "alice"})
	waitForEvent(t, alice, chat.EventUserList)
	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventLogin, Username: "bob"})
	waitForRoster(t, bob, 2)

	sendEvent(t, alice, chat.ClientEvent{Event: chat.EventJoinRoom, Room: "general"})
	waitForEvent(t, alice, chat.EventUserJoined)
	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventJoinRoom, Room: "general"})
	waitForEvent(t, bob, chat.EventUserJoined)

	sendEvent(t, bob, chat.ClientEvent{Event: chat.EventLeaveRoom, Room: "general"})
	ev := waitForEvent(t, alice, chat.EventUserLeft)
	if ev.Username != "bob" || ev.Room != "general" {
		t.Fatalf("Unexpected leave notification: %+v", ev)
	}

	members := service.Router().Rooms().Members("general")
	if len(members) != 1 || members[0] != "alice" {
		t.Fatalf("Expected only alice in room, got %v", members)
	}
}

func TestOriginEnforcementOnUpgrade(t *testing.T) {
	server.SetConfig(&server.Config{AllowedOrigins: []string{"http://localhost:3000"}})
	t.Cleanup(func() { server.SetConfig(nil) })

	service := server.NewService()
	service.Start()
	ts := httptest.NewServer(service.SetupRoutes())
	t.Cleanup(func() {
		ts.Close()
		_ = service.Hub().Shutdown(2 * time.Second)
	})

	header := http.Header{}
	header.Set("Origin", "http://evil.example")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(ts), header)
	if err == nil {
		_ = conn.Close()
		t.Fatal("Expected handshake to fail for disallowed origin")
	}
	if resp != nil {
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("Expected 403 handshake response, got %d", resp.StatusCode)
		}
		_ = resp.Body.Close()
	}

	allowed := dialWS(t, ts, "http://localhost:3000")
	sendEvent(t, allowed, chat.ClientEvent{Event: chat.EventLogin, Username: "alice"})
	waitForEvent(t, allowed, chat.EventUserList)
}

func TestHubShutdownClosesClients(t *testing.T) {
	service, ts := newTestService(t)

	conn := dialWS(t, ts, "http://localhost:3000")
	sendEvent(t, conn, chat.ClientEvent{Event: chat.EventLogin, Username: "alice"})
	waitForEvent(t, conn, chat.EventUserList)

	if err := service.Hub().Shutdown(2 * time.Second); err != nil {
		t.Fatalf("Hub shutdown with a live connection failed: %v", err)
	}

	// The server side closed the connection; the next read must fail.
	if err := conn.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("Expected read to fail after hub shutdown")
	}
}
