// Package server serves a built-in HTML test client for exercising the chat
// protocol without a separate frontend.
package server

import (
	"fmt"
	"log"
	"net/http"
)

// TestPageHandler serves an HTML test page speaking the chat event protocol.
// It provides a minimal interface to log in, join a room, exchange messages,
// and watch presence and typing events in real time.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Relay Chat Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #log {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { padding: 5px; margin-right: 5px; }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
        #users { color: #555; margin: 10px 0; }
        #typing { color: #999; font-style: italic; min-height: 1em; }
    </style>
</head>
<body>
    <h1>Relay Chat Test</h1>

    <div>
        <input type="text" id="username" placeholder="Username">
        <button onclick="login()">Login</button>
        <input type="text" id="room" placeholder="Room" value="general">
        <button onclick="joinRoom()">Join</button>
        <button onclick="leaveRoom()">Leave</button>
    </div>

    <div id="users">No users yet</div>
    <div id="log"></div>
    <div id="typing"></div>

    <div>
        <input type="text" id="messageInput" placeholder="Type a message...">
        <button onclick="sendMessage()">Send</button>
    </div>

    <script>
        const ws = new WebSocket('ws://' + location.host + '/ws');
        const logDiv = document.getElementById('log');
        const usersDiv = document.getElementById('users');
        const typingDiv = document.getElementById('typing');
        const messageInput = document.getElementById('messageInput');
        let typingTimer = null;

        function addLine(text) {
            const line = document.createElement('div');
            line.textContent = text;
            logDiv.appendChild(line);
            logDiv.scrollTop = logDiv.scrollHeight;
        }

        function send(ev) {
            if (ws.readyState === WebSocket.OPEN) {
                ws.send(JSON.stringify(ev));
            }
        }

        ws.onopen = () => addLine('Connected to relay server');
        ws.onclose = () => addLine('Connection closed');

        ws.onmessage = (raw) => {
            const ev = JSON.parse(raw.data);
            switch (ev.event) {
            case 'userList':
                usersDiv.textContent = 'Users: ' + ev.users
                    .map(u => u.username + (u.online ? '' : ' (offline)'))
                    .join(', ');
                break;
            case 'userJoined':
                addLine(ev.username + ' joined ' + ev.room);
                break;
            case 'userLeft':
                addLine(ev.username + ' left ' + ev.room);
                break;
            case 'message':
                addLine(ev.username + ': ' + ev.message);
                break;
            case 'userTyping':
                typingDiv.textContent = ev.username + ' is typing...';
                break;
            case 'userStoppedTyping':
                typingDiv.textContent = '';
                break;
            }
        };

        function login() {
            send({event: 'login', username: document.getElementById('username').value.trim()});
        }

        function joinRoom() {
            send({event: 'joinRoom', room: document.getElementById('room').value.trim()});
        }

        function leaveRoom() {
            send({event: 'leaveRoom', room: document.getElementById('room').value.trim()});
        }

        function sendMessage() {
            const message = messageInput.value.trim();
            if (!message) return;
            send({event: 'chatMessage', room: document.getElementById('room').value.trim(), message});
            messageInput.value = '';
        }

        messageInput.addEventListener('input', () => {
            const room = document.getElementById('room').value.trim();
            send({event: 'typing', room});
            clearTimeout(typingTimer);
            typingTimer = setTimeout(() => send({event: 'stopTyping', room}), 1000);
        });

        messageInput.addEventListener('keypress', (e) => {
            if (e.key === 'Enter') sendMessage();
        });
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
