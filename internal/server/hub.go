// Package server coordinates client registration, pump supervision, and
// connection cleanup for the formsync WebSocket endpoint via the Hub type.
package server

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sourcegraph/conc"

	"github.com/Tyrowin/formsync/internal/metrics"
)

// Hub tracks every open WebSocket connection and supervises its pumps.
// Room membership and broadcast live in the room registry; the hub only
// owns connection lifecycle and shutdown.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         conc.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewHub creates and initializes a new Hub instance with all necessary channels
// and client map. The returned Hub is ready to manage WebSocket connections
// once Run is started.
func NewHub(logger *slog.Logger, m *metrics.Metrics) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
		logger:     logger,
		metrics:    m,
	}
}

// Register hands a client to the hub, which starts its pumps. It returns
// false if the hub is shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

// Unregister removes a client and closes its send queue. Safe to call after
// the hub has stopped.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
		client.markClosed()
	}
}

// ClientCount returns the number of registered connections.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Run starts the hub's main event loop, handling client registration and
// unregistration. This method should be called in a separate goroutine
// as it runs until Shutdown.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}

			h.mutex.Lock()
			h.clients[client] = struct{}{}
			clientCount := len(h.clients)
			h.mutex.Unlock()
			if h.metrics != nil {
				h.metrics.Connections.Inc()
			}
			h.logger.Info("client registered", "conn_id", client.id, "remote_addr", client.addr, "clients", clientCount)

			// An update already persisting when shutdown starts is allowed to finish.
			sessionCtx := context.WithoutCancel(h.ctx)
			h.wg.Go(client.writePump)
			h.wg.Go(func() { client.readPump(sessionCtx) })

		case client := <-h.unregister:
			h.mutex.Lock()
			_, ok := h.clients[client]
			delete(h.clients, client)
			clientCount := len(h.clients)
			h.mutex.Unlock()

			client.markClosed()
			if ok {
				if h.metrics != nil {
					h.metrics.Connections.Dec()
				}
				h.logger.Info("client unregistered", "conn_id", client.id, "clients", clientCount)
			}
		}
	}
}

// getClientSnapshot returns a thread-safe snapshot of all current clients
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// shutdownClients sends every client a going-away close frame and closes its
// socket. Each read pump then leaves its room and exits.
func (h *Hub) shutdownClients() {
	clients := h.getClientSnapshot()
	h.logger.Info("shutting down client connections", "clients", len(clients))

	deadline := time.Now().Add(time.Second)
	for _, client := range clients {
		if client.conn == nil {
			continue
		}
		msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
		_ = client.conn.WriteControl(websocket.CloseMessage, msg, deadline)
		client.closeConnection()
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	<-h.done

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
