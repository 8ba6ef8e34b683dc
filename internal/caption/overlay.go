// Package caption pushes reply captions to browser overlay clients over
// WebSocket.
package caption

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const writeTimeout = 5 * time.Second

// Message is one caption frame shown by the overlay.
type Message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
	SentAt  int64  `json:"sent_at"`
}

// Overlay is a WebSocket fan-out hub. Browser overlays connect through
// Handler; Push broadcasts a caption to every connected client and silently
// prunes dead ones.
type Overlay struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewOverlay creates an empty caption hub.
func NewOverlay() *Overlay {
	return &Overlay{
		upgrader: websocket.Upgrader{
			// Overlays are local browser sources; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: make(map[*websocket.Conn]struct{}),
	}
}

// Handler upgrades an HTTP request to a WebSocket subscription. The
// connection stays registered until it errors on write or the client closes.
func (o *Overlay) Handler(w http.ResponseWriter, r *http.Request) {
	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("caption.Overlay.Handler: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	o.mu.Lock()
	o.conns[conn] = struct{}{}
	count := len(o.conns)
	o.mu.Unlock()
	slog.Info("caption.Overlay.Handler: overlay connected", "remote", r.RemoteAddr, "clients", count)

	// Drain reads so close frames and pings are processed; the hub only writes.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				o.drop(conn)
				return
			}
		}
	}()
}

// Push broadcasts a caption to every connected overlay. Write failures drop
// the client; a hub with no clients is a no-op.
func (o *Overlay) Push(speaker, text string) {
	if text == "" {
		return
	}
	payload, err := json.Marshal(Message{Speaker: speaker, Text: text, SentAt: time.Now().Unix()})
	if err != nil {
		slog.Error("caption.Overlay.Push: marshal failed", "error", err)
		return
	}

	o.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(o.conns))
	for c := range o.conns {
		conns = append(conns, c)
	}
	o.mu.Unlock()

	for _, c := range conns {
		c.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.WriteMessage(websocket.TextMessage, payload); err != nil {
			slog.Debug("caption.Overlay.Push: client dropped", "error", err)
			o.drop(c)
		}
	}
}

// ClientCount returns the number of connected overlays.
func (o *Overlay) ClientCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.conns)
}

// Close disconnects every overlay client.
func (o *Overlay) Close() {
	o.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(o.conns))
	for c := range o.conns {
		conns = append(conns, c)
	}
	o.conns = make(map[*websocket.Conn]struct{})
	o.mu.Unlock()
	for _, c := range conns {
		c.Close()
	}
}

func (o *Overlay) drop(conn *websocket.Conn) {
	o.mu.Lock()
	_, present := o.conns[conn]
	delete(o.conns, conn)
	o.mu.Unlock()
	if present {
		conn.Close()
	}
}
