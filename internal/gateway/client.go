package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Client is one realtime connection. Frames reach it only through its
// buffered send channel, so a slow peer never stalls the hub.
type Client struct {
	id      string
	userID  string
	hub     *Hub
	conn    *websocket.Conn
	limiter *rate.Limiter
	logger  *zap.Logger

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newClient(hub *Hub, conn *websocket.Conn, userID string, buffer int, limiter *rate.Limiter) *Client {
	id := uuid.NewString()
	return &Client{
		id:      id,
		userID:  userID,
		hub:     hub,
		conn:    conn,
		limiter: limiter,
		logger:  hub.logger.With(zap.String("conn_id", id)),
		send:    make(chan []byte, buffer),
	}
}

func (c *Client) ID() string { return c.id }

func (c *Client) trySend(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) allow() bool {
	return c.limiter == nil || c.limiter.Allow()
}

func (c *Client) sendEvent(event string, data any) {
	frame, err := json.Marshal(outbound{Event: event, Data: data})
	if err != nil {
		return
	}
	c.trySend(frame)
}

func (c *Client) sendError(msg string) {
	c.sendEvent(EventError, errorMessage{Message: msg})
}

func (c *Client) readPump() {
	defer func() {
		c.hub.unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("unexpected websocket close", zap.Error(err))
			}
			return
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			c.sendError("malformed frame")
			continue
		}
		c.hub.dispatch(c, env)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debug("write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
