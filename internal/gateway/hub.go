// Package gateway serves the assistant's client channel: a websocket that
// carries envelope-encoded events out and user inputs in.
package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/loqalabs/loqa-medic/internal/config"
	"github.com/loqalabs/loqa-medic/internal/protocol"
)

const (
	maxMessageBytes = 64 << 10
	pongWait        = 60 * time.Second
	pingPeriod      = pongWait * 9 / 10
)

type client struct {
	id   string
	conn *websocket.Conn
	mu   sync.Mutex
	done chan struct{}
	once sync.Once
}

func (c *client) write(messageType int, data []byte, timeout time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if timeout > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(timeout))
	}
	return c.conn.WriteMessage(messageType, data)
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// Hub broadcasts every emitted event to all connected clients and routes
// inbound messages to the assistant inputs.
type Hub struct {
	inputs       protocol.Inputs
	upgrader     websocket.Upgrader
	writeTimeout time.Duration

	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	clients map[string]*client
	wg      sync.WaitGroup
	logger  *slog.Logger
}

func NewHub(parent context.Context, cfg config.GatewayConfig, inputs protocol.Inputs, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(parent)
	h := &Hub{
		inputs:       inputs,
		writeTimeout: time.Duration(cfg.WriteTimeoutMS) * time.Millisecond,
		ctx:          ctx,
		cancel:       cancel,
		clients:      make(map[string]*client),
		logger:       log.With(slog.String("component", "gateway")),
	}
	origins := append([]string(nil), cfg.AllowedOrigins...)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(origins) == 0 {
				return true
			}
			return slices.Contains(origins, r.Header.Get("Origin"))
		},
	}
	return h
}

// Emit sends evt to every client in call order. Clients whose write fails
// are dropped.
func (h *Hub) Emit(evt protocol.Event) {
	data, err := protocol.Marshal(evt)
	if err != nil {
		h.logger.Warn("failed to encode event", slog.String("type", string(evt.Type)), slogError(err))
		return
	}
	for _, c := range h.snapshot() {
		if err := c.write(websocket.TextMessage, data, h.writeTimeout); err != nil {
			h.logger.Info("dropping client after write failure", slog.String("client_id", c.id), slogError(err))
			h.remove(c)
		}
	}
}

// Clients reports the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.ctx.Err() != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slogError(err))
		return
	}
	c := &client{id: uuid.NewString(), conn: conn, done: make(chan struct{})}

	h.mu.Lock()
	h.clients[c.id] = c
	h.wg.Add(1)
	h.mu.Unlock()
	h.logger.Info("client connected", slog.String("client_id", c.id), slog.String("remote", r.RemoteAddr))

	go h.pinger(c)
	go func() {
		defer h.wg.Done()
		h.readLoop(c)
	}()
}

func (h *Hub) readLoop(c *client) {
	defer h.remove(c)
	c.conn.SetReadLimit(maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Info("client read failed", slog.String("client_id", c.id), slogError(err))
			}
			return
		}
		if err := h.dispatch(data); err != nil {
			h.logger.Debug("ignoring client message", slog.String("client_id", c.id), slogError(err))
		}
	}
}

func (h *Hub) dispatch(data []byte) error {
	typ, raw, err := protocol.Unmarshal(data)
	if err != nil {
		return err
	}
	switch typ {
	case protocol.InputSendMessage:
		msg, err := protocol.DecodePayload[protocol.SendMessage](raw)
		if err != nil {
			return err
		}
		h.inputs.Submit(h.ctx, protocol.SourceText, msg.Content())
	case protocol.InputStartVoiceInput:
		h.inputs.StartVoiceInput(h.ctx)
	default:
		return fmt.Errorf("%w: %s", protocol.ErrUnknownType, typ)
	}
	return nil
}

func (h *Hub) pinger(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, nil, h.writeTimeout); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

func (h *Hub) snapshot() []*client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		out = append(out, c)
	}
	return out
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c.id]
	delete(h.clients, c.id)
	h.mu.Unlock()
	c.close()
	if ok {
		h.logger.Info("client disconnected", slog.String("client_id", c.id))
	}
}

// Close disconnects every client and waits for their read loops.
func (h *Hub) Close() {
	h.cancel()
	for _, c := range h.snapshot() {
		_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Second)
		h.remove(c)
	}
	h.wg.Wait()
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
