// Package server implements the HTTP and WebSocket transport for formsync.
//
// The implementation is organized into specialized files for configuration, hub
// management, clients, routing, and HTTP handlers. Protocol semantics live in
// the collab package; this package owns sockets, pumps, rate limits, origin
// checks, and shutdown.
package server
