// Package server implements the HTTP server functionality for the formsync server.
package server

import (
	"context"
	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Tyrowin/formsync/internal/collab"
	"github.com/Tyrowin/formsync/internal/form"
	"github.com/Tyrowin/formsync/internal/metrics"
)

// FormStore is the persistence the REST endpoints depend on.
type FormStore interface {
	CreateForm(ctx context.Context, def form.Definition) (form.Created, error)
	GetForm(ctx context.Context, shareToken string) (form.Form, error)
}

// Deps are the collaborators a Server is built from.
type Deps struct {
	Config *Config
	Sync   *collab.Service
	Forms  FormStore

	// Metrics and Gatherer are optional. /metrics is only mounted when
	// Gatherer is set.
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer

	Logger *slog.Logger
}

// Server owns the hub and serves the HTTP and WebSocket endpoints.
type Server struct {
	cfg      ServerConfig
	hub      *Hub
	sync     *collab.Service
	forms    FormStore
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	origins  *originPolicy
	upgrader websocket.Upgrader
}

// New builds a Server. The hub is not running until StartHub is called.
func New(deps Deps) *Server {
	cfg := deps.Config
	if cfg == nil {
		cfg = NewConfig()
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	s := &Server{
		cfg:      cfg.Server,
		hub:      NewHub(logger, deps.Metrics),
		sync:     deps.Sync,
		forms:    deps.Forms,
		metrics:  deps.Metrics,
		gatherer: deps.Gatherer,
		logger:   logger,
		origins:  newOriginPolicy(cfg.Server.AllowedOrigins, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// Hub returns the server's connection hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// StartHub starts the hub in a separate goroutine. This should be called
// before the HTTP server begins accepting connections.
func (s *Server) StartHub() {
	go s.hub.Run()
	s.logger.Info("hub started and ready to manage websocket connections")
}
