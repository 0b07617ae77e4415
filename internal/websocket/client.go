package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"chat-hub/internal/hub"
	"chat-hub/internal/models"
	"chat-hub/pkg/logger"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var rateLimitedFrame = mustFrame(models.EventError, models.ErrorPayload{Message: "rate limit exceeded"})

// Client is one upgraded connection. It is the hub's Sink for that
// connection: frames are queued on a bounded channel drained by WritePump.
type Client struct {
	id      hub.ConnID
	userID  models.UserID
	conn    *websocket.Conn
	hub     Hub
	limiter *rate.Limiter

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func NewClient(id hub.ConnID, userID models.UserID, conn *websocket.Conn, h Hub, opts Options) *Client {
	opts = opts.withDefaults()
	if conn != nil {
		conn.SetReadLimit(opts.MaxMessageSize)
	}
	return &Client{
		id:      id,
		userID:  userID,
		conn:    conn,
		hub:     h,
		limiter: rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		send:    make(chan []byte, opts.SendBuffer),
	}
}

// Send queues a frame without blocking. A client that cannot keep up is
// closed; the read side then disconnects it from the hub.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		logger.Info("Send queue full for connection %s (user %d), closing", c.id, c.userID)
		c.closeLocked()
		return false
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *Client) closeLocked() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// ReadPump feeds inbound frames to the hub until the connection fails, then
// disconnects the client.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		if err := c.hub.Disconnect(context.WithoutCancel(ctx), c.id); err != nil {
			logger.Error("Error disconnecting %s: %v", c.id, err)
		}
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		if !c.limiter.Allow() {
			logger.Debug("Rate limit exceeded for connection %s; discarding event", c.id)
			c.Send(rateLimitedFrame)
			continue
		}

		c.hub.Dispatch(ctx, c.id, message)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		logger.Info("Event from %s exceeded the maximum size", c.id)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure):
		logger.Error("WebSocket error on %s: %v", c.id, err)
	default:
		logger.Debug("Connection %s closed: %v", c.id, err)
	}
}

// WritePump drains the send queue and keeps the connection alive with
// pings. It exits when the queue is closed or a write fails.
func (c *Client) WritePump() {
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
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				logger.Debug("Write error on %s: %v", c.id, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func mustFrame(event models.EventType, data any) []byte {
	b, err := json.Marshal(models.OutboundFrame{Event: event, Data: data})
	if err != nil {
		panic(err)
	}
	return b
}
