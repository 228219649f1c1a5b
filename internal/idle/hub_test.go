// ABOUTME: Tests for the idle event hub
// ABOUTME: Covers the hello frame, broadcasts and client removal
package idle

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Resonate-Protocol/playd/pkg/player"
)

func dial(t *testing.T, h *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	return msg
}

func waitClients(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for h.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, h.Clients())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestHelloThenEvents(t *testing.T) {
	h := NewHub("id-1", "den")
	defer h.Close()
	conn := dial(t, h)

	hello := read(t, conn)
	if hello.Type != "hello" || hello.ServerID != "id-1" || hello.Name != "den" {
		t.Errorf("unexpected hello %+v", hello)
	}

	waitClients(t, h, 1)

	var l player.Listener = h
	l.OnPlayerIdle(player.IdlePlayer)
	l.OnBorderPause()

	tests := []string{player.IdlePlayer, player.IdleOptions}
	for _, want := range tests {
		msg := read(t, conn)
		if msg.Type != "idle" || msg.Subsystem != want {
			t.Errorf("got %+v, want idle %s", msg, want)
		}
	}
}

func TestClientRemovedOnDisconnect(t *testing.T) {
	h := NewHub("id", "name")
	defer h.Close()
	conn := dial(t, h)
	read(t, conn)
	waitClients(t, h, 1)

	conn.Close()
	waitClients(t, h, 0)

	// nobody listening; must not block
	h.Broadcast(Mixer)
}

func TestCloseDisconnectsClients(t *testing.T) {
	h := NewHub("id", "name")
	conn := dial(t, h)
	read(t, conn)
	waitClients(t, h, 1)

	h.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected the connection to be closed")
	}
}
