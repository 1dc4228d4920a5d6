package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/metrics"
	"github.com/zsiec/camview/internal/player"
)

const (
	writeWait  = 5 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins
	},
}

// Hub streams events to WebSocket subscribers. A subscriber that cannot
// keep up loses events rather than slowing the player down.
type Hub struct {
	logger logger.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}

	subscribers *metrics.Gauge
	dropped     *metrics.Counter
}

type client struct {
	conn   *websocket.Conn
	send   chan player.Event
	ctx    context.Context
	cancel context.CancelFunc
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		logger:      logger.WithComponent(logger.OrNull(log), "event_hub"),
		clients:     make(map[*client]struct{}),
		subscribers: metrics.NewGauge("notify_ws_subscribers", nil),
		dropped:     metrics.NewCounter("notify_ws_dropped_total", nil),
	}
}

func (h *Hub) OnEvent(e player.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- e:
		default:
			h.dropped.Inc()
		}
	}
}

// Len returns the number of connected subscribers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the request and streams events until the peer goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade to WebSocket")
		return
	}

	// The request context ends when the handler returns.
	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:   conn,
		send:   make(chan player.Event, sendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.subscribers.Set(float64(n))

	h.logger.WithField("remote_addr", r.RemoteAddr).Info("Event subscriber connected")

	go h.readLoop(c)
	go h.writeLoop(c)
}

// readLoop discards client messages and cancels the client once the
// connection fails.
func (h *Hub) readLoop(c *client) {
	defer c.cancel()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		h.remove(c)
	}()

	for {
		select {
		case e := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(e); err != nil {
				h.logger.WithError(err).Debug("Failed to send event")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	h.subscribers.Set(float64(n))

	c.cancel()
	h.logger.Info("Event subscriber disconnected")
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"),
			time.Now().Add(writeWait))
		c.cancel()
	}
}
