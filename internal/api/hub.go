package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/ctrlai/agentsync/internal/lifecycle"
)

// hub tracks the live event subscribers and fans lifecycle events out to
// them. One goroutine owns the connection set; registration and broadcast
// go through channels, so the set needs no lock.
type hub struct {
	clients map[*client]bool

	broadcastCh  chan []byte
	registerCh   chan *client
	unregisterCh chan *client
	done         chan struct{}
	stopOnce     sync.Once
}

// client is one websocket subscriber.
type client struct {
	conn *websocket.Conn
	send chan []byte
	mu   sync.Mutex // Serializes writes.
}

func newHub() *hub {
	return &hub{
		clients:      make(map[*client]bool),
		broadcastCh:  make(chan []byte, 256),
		registerCh:   make(chan *client),
		unregisterCh: make(chan *client),
		done:         make(chan struct{}),
	}
}

func (h *hub) run() {
	for {
		select {
		case c := <-h.registerCh:
			h.clients[c] = true
			slog.Debug("event subscriber connected", "total", len(h.clients))

		case c := <-h.unregisterCh:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
				slog.Debug("event subscriber disconnected", "total", len(h.clients))
			}

		case msg := <-h.broadcastCh:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow subscriber: drop it rather than stall everyone.
					delete(h.clients, c)
					close(c.send)
				}
			}

		case <-h.done:
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			return
		}
	}
}

func (h *hub) stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// publish queues ev for every subscriber. Never blocks; when the queue is
// full the event is dropped and subscribers can catch up from /api/history.
func (h *hub) publish(ev lifecycle.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		slog.Error("failed to marshal event", "event", ev.ID, "error", err)
		return
	}
	select {
	case h.broadcastCh <- data:
	default:
	}
}

// register hands c to the hub goroutine. False means the hub is stopped.
func (h *hub) register(c *client) bool {
	select {
	case h.registerCh <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *hub) unregister(c *client) {
	select {
	case h.unregisterCh <- c:
	case <-h.done:
	}
}

// handleEvents upgrades to a websocket and streams lifecycle events until
// the subscriber goes away.
// GET /api/ws
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, 64)}
	if !s.hub.register(c) {
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump(s.hub)
}

func (c *client) writePump() {
	defer c.conn.Close()

	for msg := range c.send {
		c.mu.Lock()
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.mu.Unlock()
		if err != nil {
			return
		}
	}
	c.mu.Lock()
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
}

// readPump only exists to notice the subscriber disconnecting; the feed
// is one-way.
func (c *client) readPump(h *hub) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
