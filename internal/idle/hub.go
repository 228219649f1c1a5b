// ABOUTME: WebSocket hub broadcasting idle events to connected clients
// ABOUTME: Implements player.Listener so subsystem changes reach every listener
package idle

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Resonate-Protocol/playd/pkg/player"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendQueue     = 64
)

// Subsystems reported by the hub besides the player's own
const (
	Mixer  = "mixer"
	Output = "output"
)

// Message is the JSON frame sent to clients
type Message struct {
	Type string `json:"type"`
	// ServerID is set on the hello frame only
	ServerID  string `json:"server_id,omitempty"`
	Name      string `json:"name,omitempty"`
	Subsystem string `json:"subsystem,omitempty"`
}

type client struct {
	conn *websocket.Conn
	send chan Message
}

// Hub fans idle events out to WebSocket clients. Events are queued without
// blocking; a client that falls behind misses events rather than stalling the
// player.
type Hub struct {
	serverID string
	name     string
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool

	wg sync.WaitGroup
}

// NewHub creates a hub announcing itself with id and name
func NewHub(id, name string) *Hub {
	return &Hub{
		serverID: id,
		name:     name,
		upgrader: websocket.Upgrader{
			// local network daemon; non-browser clients send no Origin
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast queues an idle event for every client
func (h *Hub) Broadcast(subsystem string) {
	msg := Message{Type: "idle", Subsystem: subsystem}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			log.Debug().Str("subsystem", subsystem).Msg("idle client send buffer full")
		}
	}
}

// OnPlayerIdle implements player.Listener
func (h *Hub) OnPlayerIdle(subsystem string) { h.Broadcast(subsystem) }

// OnPlayerSync implements player.Listener
func (h *Hub) OnPlayerSync() {}

// OnPlayerTagModified implements player.Listener
func (h *Hub) OnPlayerTagModified() { h.Broadcast(player.IdlePlayer) }

// OnBorderPause implements player.Listener
func (h *Hub) OnBorderPause() { h.Broadcast(player.IdleOptions) }

// ServeHTTP upgrades the request and streams events until the client leaves
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("idle websocket upgrade failed")
		return
	}

	c := &client{conn: conn, send: make(chan Message, sendQueue)}
	c.send <- Message{Type: "hello", ServerID: h.serverID, Name: h.name}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(1)
	h.mu.Unlock()

	log.Info().Str("remote", r.RemoteAddr).Msg("idle client connected")

	go func() {
		defer h.wg.Done()
		h.writer(c)
	}()

	// Drain the read side so pings, pongs and close frames are processed
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("idle websocket error")
			}
			break
		}
	}

	h.remove(c)
	log.Info().Str("remote", r.RemoteAddr).Msg("idle client disconnected")
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *Hub) writer(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(writeDeadline))
				return
			}
			data, err := json.Marshal(msg)
			if err != nil {
				log.Error().Err(err).Msg("failed to marshal idle message")
				continue
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Msg("idle write failed")
				return
			}

		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every client and waits for their writers
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	h.wg.Wait()
}
