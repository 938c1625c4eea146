// Package server manages individual WebSocket clients, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/formsync/internal/collab"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	sendBufferSize = 256
)

// Delivery failures returned by Client.Deliver.
var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

// Client represents one WebSocket connection to a form room. It owns the
// connection's protocol session, its outbound queue, and its rate limiter.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	session        *collab.Session
	addr           string
	maxMessageSize int64
	rateLimiter    *rateLimiter
	rateLimit      RateLimitConfig
	logger         *slog.Logger

	mu     sync.Mutex
	closed bool

	// closeCode and closeText describe the close frame the write pump sends
	// once the send channel is closed. Set before the channel is closed.
	closeCode int
	closeText string
}

// NewClient creates a new Client instance with the provided WebSocket connection,
// hub reference, and client address. The client's send channel is buffered
// to handle message queuing.
func NewClient(conn *websocket.Conn, hub *Hub, id, addr string, cfg ServerConfig, logger *slog.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		hub:            hub,
		addr:           addr,
		maxMessageSize: cfg.MaxMessageSize,
		rateLimiter:    newRateLimiter(cfg.RateLimit.Burst, cfg.RateLimit.RefillInterval),
		rateLimit:      cfg.RateLimit,
		logger:         logger.With("conn_id", id, "remote_addr", addr),
		closeCode:      websocket.CloseNormalClosure,
	}
}

// ID returns the connection identifier.
func (c *Client) ID() string { return c.id }

// Deliver queues payload for the write pump. It never blocks: a client whose
// queue is full is too slow to keep up and is disconnected.
func (c *Client) Deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}

	select {
	case c.send <- payload:
		return nil
	default:
		c.logger.Warn("send buffer full; disconnecting slow client", "buffered", len(c.send))
		// The read pump performs the room leave once the socket is gone.
		go c.closeConnection()
		return ErrSendBufferFull
	}
}

// markClosed stops further deliveries and lets the write pump drain and exit.
func (c *Client) markClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	c.closed = true
	close(c.send)
	return true
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Debug("setting initial read deadline", "error", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the reason the read loop stopped.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Warn("message exceeded maximum size", "max_bytes", c.maxMessageSize)
		c.closeCode, c.closeText = websocket.CloseMessageTooBig, "message too big"

	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived):
		c.logger.Info("client disconnected", "error", err)

	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.logger.Info("client connection closed", "error", err)

	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.logger.Warn("unexpected websocket close", "error", err)

	default:
		c.logger.Warn("websocket read error", "error", err)
	}
}

// throttle delays the next frame until the rate limiter has a token.
// Over-limit frames are delayed, never discarded.
func (c *Client) throttle(ctx context.Context) error {
	if c.rateLimiter == nil {
		return nil
	}

	start := time.Now()
	if err := c.rateLimiter.wait(ctx); err != nil {
		return err
	}
	if waited := time.Since(start); waited >= time.Millisecond {
		c.logger.Debug("rate limit exceeded; frame delayed",
			"waited", waited,
			"burst", c.rateLimit.Burst,
			"refill_interval", c.rateLimit.RefillInterval,
		)
	}
	return nil
}

// readPump processes inbound frames one at a time, which keeps updates from a
// single connection in the order they were sent. It returns when the socket
// fails or the session rejects a message.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.session.Close()
		c.hub.Unregister(c)
	}()

	c.setupReadConnection()

	for {
		_, rawMessage, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if err := c.throttle(c.hub.ctx); err != nil {
			c.logger.Info("stopped reading while throttled", "error", err)
			return
		}

		if err := c.session.Handle(ctx, rawMessage); err != nil {
			c.closeCode, c.closeText = websocket.ClosePolicyViolation, collab.Kind(err)
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("closing connection", "error", err)
	}
}

// handleMessage processes outgoing messages and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("setting write deadline", "error", err)
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	return c.writeTextMessage(message)
}

// writeCloseMessage sends a close frame to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.logger.Debug("writing close message", "error", err)
	}
	return false
}

// writeTextMessage writes a single protocol message as its own frame
func (c *Client) writeTextMessage(message []byte) bool {
	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.logger.Warn("writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Debug("setting write deadline for ping", "error", err)
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.logger.Debug("writing ping", "error", err)
		return false
	}
	return true
}
