package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/audiolibrelab/soundlines/internal/event"
	"github.com/audiolibrelab/soundlines/internal/line"
	"github.com/audiolibrelab/soundlines/internal/mix"
)

const (
	writeDeadline = 10 * time.Second
	pingInterval  = 30 * time.Second
	sendBuffer    = 64
)

// EventMessage is what event subscribers receive for every line and
// mixer transition.
type EventMessage struct {
	Source        string     `json:"source"` // "line" or "mixer"
	Type          event.Type `json:"type"`
	Handle        string     `json:"handle,omitempty"`
	Kind          string     `json:"kind,omitempty"`
	Name          string     `json:"name"`
	FramePosition int64      `json:"frame_position,omitempty"`
	Time          time.Time  `json:"time"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// hub fans event messages out to websocket subscribers. A subscriber that
// falls behind loses messages instead of stalling the line that emitted
// them.
type hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
}

func newHub() *hub {
	return &hub{clients: make(map[*client]struct{})}
}

func (h *hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

// remove unregisters c and stops its writer. Safe to call more than once.
func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *hub) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *hub) broadcast(msg EventMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Failed to marshal event", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slog.Warn("Event subscriber is behind, dropping event", "remote", c.conn.RemoteAddr(), "type", msg.Type)
		}
	}
}

// writer sends queued messages and keeps the connection alive until the
// send channel is closed.
func (c *client) writer() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				slog.Debug("Error writing event", "error", err)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeDeadline)); err != nil {
				return
			}
		}
	}
}

// reader discards client messages and returns once the connection fails.
func (c *client) reader() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("Event subscriber read error", "error", err)
			}
			return
		}
	}
}

func (s *Server) publishLineEvent(e line.Event) {
	info := e.Line.Info()
	s.hub.broadcast(EventMessage{
		Source:        "line",
		Type:          e.Type,
		Handle:        e.Line.Handle().ID.String(),
		Kind:          info.Kind.String(),
		Name:          info.String(),
		FramePosition: e.FramePosition,
		Time:          time.Now(),
	})
}

func (s *Server) publishMixerEvent(e mix.Event) {
	s.hub.broadcast(EventMessage{
		Source: "mixer",
		Type:   e.Type,
		Name:   e.Mixer.Info().Name,
		Time:   time.Now(),
	})
}
