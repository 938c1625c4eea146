// Package server constructs and starts the formsync HTTP service with helpers
// that apply sensible production defaults.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// CreateServer creates and configures an HTTP server with the specified port and handler.
// It sets reasonable timeout values for production use.
func CreateServer(port string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}

// StartServer starts the HTTP server and blocks until it stops. A server
// stopped by ShutdownServer returns nil.
func (s *Server) StartServer(httpServer *http.Server) error {
	s.logger.Info("server listening", "addr", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting HTTP requests, then closes every WebSocket
// connection so each participant leaves its room, waiting at most timeout
// for each phase.
func (s *Server) Shutdown(httpServer *http.Server, timeout time.Duration) error {
	httpErr := s.ShutdownServer(httpServer, timeout)
	hubErr := s.hub.Shutdown(timeout)
	return errors.Join(httpErr, hubErr)
}

// ShutdownServer gracefully shuts down the HTTP server without interrupting active connections.
// It waits for active connections to close or until the timeout is reached.
func (s *Server) ShutdownServer(httpServer *http.Server, timeout time.Duration) error {
	s.logger.Info("shutting down http server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("http server shutdown error", "error", err)
		return err
	}

	s.logger.Info("http server shutdown completed")
	return nil
}
