package wsevent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"kai-model/internal/ids"
)

const (
	writeTimeout = 10 * time.Second
	sendBuffer   = 64
)

var ErrHubClosed = errors.New("hub closed")

type client struct {
	conn      *websocket.Conn
	workspace ids.WorkspacePk
	send      chan []byte
}

// Hub fans events out to websocket clients. Clients subscribe to one
// workspace with ?workspace=<id>.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewHub creates a hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		logger:  logger.With(zap.String("component", "wsevent")),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	workspace, err := ids.Parse(r.URL.Query().Get("workspace"))
	if err != nil {
		http.Error(w, "invalid workspace", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &client{conn: conn, workspace: workspace, send: make(chan []byte, sendBuffer)}
	if !h.register(c) {
		conn.Close()
		return
	}
	defer h.wg.Done()

	go h.writeLoop(c)

	// Clients only listen; reads keep the connection alive and notice closes.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(c)
	conn.Close()
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.clients[c] = struct{}{}
	// One for the reader, one for the writer.
	h.wg.Add(2)
	h.logger.Debug("client connected", zap.String("workspace", c.workspace.String()))
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
}

func (h *Hub) writeLoop(c *client) {
	defer h.wg.Done()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			c.conn.Close()
			// Drain so unregister never blocks on a full buffer.
			for range c.send {
			}
			return
		}
	}
}

// Publish delivers events to the clients of their workspace. A client whose
// buffer is full misses the event.
func (h *Hub) Publish(ctx context.Context, events []Event) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHubClosed
	}

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg, err := json.Marshal(ev)
		if err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.Kind, err)
		}
		for c := range h.clients {
			if c.workspace != ev.WorkspaceID {
				continue
			}
			select {
			case c.send <- msg:
			default:
				h.logger.Warn("dropping event for slow client",
					zap.String("workspace", c.workspace.String()),
					zap.String("kind", string(ev.Kind)))
			}
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
		c.conn.Close()
	}
	h.mu.Unlock()

	h.wg.Wait()
}
