// internal/handler/events.go
// WebSocket hub for real-time donation events. Donors subscribe on
// /api/v1/events and receive events for their own donations; delivery
// is fire-and-forget and slow consumers are dropped.
package handler

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"donation-guard/internal/middleware"
	"donation-guard/internal/service"
)

var wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
	Namespace: "donationguard",
	Subsystem: "events",
	Name:      "websocket_clients",
	Help:      "Connected WebSocket clients.",
})

func init() {
	prometheus.MustRegister(wsClients)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // non-browser clients
		}
		host := r.Host
		return origin == "http://"+host || origin == "https://"+host
	},
}

type wsEvent struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// EventHub implements service.EventEmitter over WebSocket, with clients
// keyed by donor ID so events only reach their owner.
type EventHub struct {
	mu      sync.RWMutex
	clients map[string][]*wsClient
	logger  *zap.Logger
}

func NewEventHub(logger *zap.Logger) *EventHub {
	return &EventHub{
		clients: make(map[string][]*wsClient),
		logger:  logger,
	}
}

// DonationCompleted pushes the completion event to the donor's open
// connections. Slow consumers are disconnected rather than blocked on.
func (h *EventHub) DonationCompleted(donorID string, event service.CompletedEvent) {
	payload, err := json.Marshal(wsEvent{
		Type:      "donation_completed",
		Timestamp: time.Now(),
		Data:      event,
	})
	if err != nil {
		return
	}

	// Sends happen under the read lock; remove closes channels under the
	// write lock, so a send never races a close.
	h.mu.RLock()
	var slow []*wsClient
	for _, c := range h.clients[donorID] {
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("dropping slow websocket client", zap.String("donor_id", donorID))
		h.remove(donorID, c)
	}
}

// Handle upgrades GET /api/v1/events to a WebSocket subscription for the
// authenticated donor.
func (h *EventHub) Handle(c *gin.Context) {
	user := middleware.UserFrom(c)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	h.mu.Lock()
	h.clients[user.DonorID] = append(h.clients[user.DonorID], client)
	h.mu.Unlock()
	wsClients.Inc()

	go h.writePump(client)
	go h.readPump(user.DonorID, client)
}

func (h *EventHub) remove(donorID string, client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := h.clients[donorID]
	for i, c := range clients {
		if c == client {
			h.clients[donorID] = append(clients[:i], clients[i+1:]...)
			close(client.send)
			wsClients.Dec()
			break
		}
	}
	if len(h.clients[donorID]) == 0 {
		delete(h.clients, donorID)
	}
}

func (h *EventHub) readPump(donorID string, c *wsClient) {
	defer func() {
		h.remove(donorID, c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(4096)
	_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}
	}
}

func (h *EventHub) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
