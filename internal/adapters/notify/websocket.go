package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/alejandrodnm/poolwatch/internal/domain"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	clientBuf  = 64
)

// Envelope es el mensaje JSON que reciben los clientes WebSocket.
type Envelope struct {
	Type      domain.EventType `json:"type"`
	PoolID    string           `json:"pool_id"`
	Timestamp time.Time        `json:"timestamp"`
	Data      domain.Event     `json:"data"`
}

// Hub es un Sink que reenvía cada evento a todos los clientes WebSocket
// conectados. Cada cliente tiene su propio buffer: si se llena, el cliente
// se desconecta en lugar de frenar al resto.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool

	upgrader websocket.Upgrader
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

// NewHub crea un hub vacío.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Hub) Name() string { return "websocket" }

// Clients devuelve el número de clientes conectados.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Handle serializa el evento y lo reparte.
func (h *Hub) Handle(_ context.Context, ev domain.Event) error {
	data, err := json.Marshal(Envelope{Type: ev.Type(), PoolID: ev.Pool(), Timestamp: ev.At(), Data: ev})
	if err != nil {
		return fmt.Errorf("notify.Hub.Handle: marshal %s: %w", ev.Type(), err)
	}

	h.mu.RLock()
	var slow []*client
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		slog.Warn("ws client too slow, disconnecting", "remote", c.conn.RemoteAddr().String())
		h.remove(c)
	}
	return nil
}

// ServeHTTP hace el upgrade y registra al cliente.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("ws upgrade failed", "err", err)
		return
	}
	c := &client{conn: conn, send: make(chan []byte, clientBuf)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	total := len(h.clients)
	h.mu.Unlock()
	slog.Info("ws client connected", "remote", conn.RemoteAddr().String(), "total", total)

	go h.writePump(c)
	go h.readPump(c)
}

// Close desconecta a todos los clientes.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()
	for _, c := range clients {
		h.remove(c)
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.once.Do(func() {
		close(c.send)
	})
}

// readPump mantiene viva la conexión y detecta desconexiones.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)
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

// writePump es el único escritor de la conexión.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.remove(c)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}
