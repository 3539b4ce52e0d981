package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"socialify-moderation/backend/internal/moderation"
)

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// VerdictNotifier keeps track of live monitors and broadcasts verdict events.
type VerdictNotifier struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
	last    *moderation.VerdictEvent
	sent    int64
}

// NewVerdictNotifier constructs a notifier instance.
func NewVerdictNotifier() *VerdictNotifier {
	return &VerdictNotifier{clients: make(map[*wsClient]struct{})}
}

// Register attaches a websocket connection and replays the latest verdict.
func (n *VerdictNotifier) Register(conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn}
	n.mu.Lock()
	n.clients[client] = struct{}{}
	last := n.last
	n.mu.Unlock()

	if last != nil {
		_ = client.writeJSON(*last)
	}
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *VerdictNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	delete(n.clients, client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

// Broadcast implements moderation.Broadcaster. Clients that fail a write are
// dropped.
func (n *VerdictNotifier) Broadcast(event moderation.VerdictEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	n.mu.Lock()
	snapshot := event
	n.last = &snapshot
	n.sent++
	clients := make([]*wsClient, 0, len(n.clients))
	for client := range n.clients {
		clients = append(clients, client)
	}
	n.mu.Unlock()

	for _, client := range clients {
		if err := client.writeJSON(event); err != nil {
			n.Unregister(client)
		}
	}
}

// Clients reports the number of connected monitors.
func (n *VerdictNotifier) Clients() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients)
}

// Last returns a copy of the most recent verdict event, if any.
func (n *VerdictNotifier) Last() *moderation.VerdictEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.last == nil {
		return nil
	}
	copy := *n.last
	return &copy
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
