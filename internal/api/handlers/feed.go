package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/tally/internal/publication"
	"github.com/wonny/tally/pkg/logger"
)

const (
	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	clientBuffer = 16
)

// FeedHub pushes publication events to websocket subscribers.
// It implements publication.Sink.
// ⭐ SSOT: 공표 이벤트 실시간 전달은 이 허브에서만
type FeedHub struct {
	upgrader websocket.Upgrader
	logger   *logger.Logger

	mu      sync.RWMutex
	clients map[*feedClient]struct{}
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewFeedHub creates a new feed hub
func NewFeedHub(log *logger.Logger) *FeedHub {
	return &FeedHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger:  log.Component("api.feed"),
		clients: make(map[*feedClient]struct{}),
	}
}

// Notify implements publication.Sink. Slow subscribers miss events
// instead of blocking the publisher.
func (h *FeedHub) Notify(ctx context.Context, ev publication.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("Failed to encode publication event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			h.logger.Warn("Feed subscriber too slow, dropping event")
		}
	}
}

// Subscribers returns the number of connected clients
func (h *FeedHub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and streams events until the client leaves
// GET /api/public/feed
func (h *FeedHub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, clientBuffer)}
	h.add(c)

	done := make(chan struct{})
	go h.readLoop(c, done)
	h.writeLoop(c, done)

	h.remove(c)
	conn.Close()
}

func (h *FeedHub) add(c *feedClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("subscribers", n).Debug("Feed subscriber connected")
}

func (h *FeedHub) remove(c *feedClient) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	h.logger.WithField("subscribers", n).Debug("Feed subscriber disconnected")
}

// readLoop only drains control frames; the feed is one-way
func (h *FeedHub) readLoop(c *feedClient, done chan struct{}) {
	defer close(done)

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *FeedHub) writeLoop(c *feedClient, done chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case msg := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// Close disconnects every subscriber. http.Server.Shutdown does not track
// hijacked connections, so the server calls this on shutdown.
func (h *FeedHub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		c.conn.Close()
	}
}
