// Package room tracks which connections are joined to which form's live
// session and fans messages out to every member of a session.
//
// Each room has its own lock; the registry lock only guards the map from
// share token to room, so traffic in one room never waits on another.
package room

import (
	"log/slog"
	"sync"
)

// Deliverer is the transport handle of a room member.
type Deliverer interface {
	Deliver(payload []byte) error
}

// Member is a connection joined to a room.
type Member struct {
	ConnID      string
	DisplayName string
	Conn        Deliverer
}

// Observer receives room lifecycle and delivery events. Metrics implement it.
type Observer interface {
	RoomOpened()
	RoomClosed()
	MemberJoined()
	MemberLeft()
	Delivered()
	DeliveryFailed()
}

type nopObserver struct{}

func (nopObserver) RoomOpened()     {}
func (nopObserver) RoomClosed()     {}
func (nopObserver) MemberJoined()   {}
func (nopObserver) MemberLeft()     {}
func (nopObserver) Delivered()      {}
func (nopObserver) DeliveryFailed() {}

type room struct {
	token   string
	mu      sync.Mutex
	members []Member
	// closed is set once the last member leaves; a closed room is
	// unlinked from the registry and never reused.
	closed bool

	// sendMu serializes fan-outs so deliveries follow the order of the
	// membership changes that produced them.
	sendMu sync.Mutex
}

// Registry maps share tokens to rooms. The zero value is not usable; call
// NewRegistry.
type Registry struct {
	mu       sync.Mutex
	rooms    map[string]*room
	logger   *slog.Logger
	observer Observer
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithObserver sets the registry event observer.
func WithObserver(o Observer) Option {
	return func(r *Registry) {
		if o != nil {
			r.observer = o
		}
	}
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		rooms:    make(map[string]*room),
		logger:   slog.New(slog.DiscardHandler),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// acquire returns the live room for token, creating it if needed, with its
// lock held.
func (r *Registry) acquire(token string) *room {
	for {
		r.mu.Lock()
		rm, ok := r.rooms[token]
		if !ok {
			rm = &room{token: token}
			r.rooms[token] = rm
			r.observer.RoomOpened()
		}
		r.mu.Unlock()

		rm.mu.Lock()
		if !rm.closed {
			return rm
		}
		// Lost a race with the last leave; the closed room is already
		// unlinked (or about to be), so look again.
		rm.mu.Unlock()
	}
}

func (r *Registry) lookup(token string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[token]
}

func (r *Registry) unlink(rm *room) {
	r.mu.Lock()
	if r.rooms[rm.token] == rm {
		delete(r.rooms, rm.token)
		r.observer.RoomClosed()
	}
	r.mu.Unlock()
}

// Join adds the member to the room for token and announces it to every
// member, the new one included. Joining again with the same ConnID keeps
// the existing position, refreshes the display name, and announces
// nothing; a room never shows one connection twice.
func (r *Registry) Join(token string, m Member, announcement []byte) {
	rm := r.acquire(token)

	for i := range rm.members {
		if rm.members[i].ConnID == m.ConnID {
			rm.members[i].DisplayName = m.DisplayName
			rm.members[i].Conn = m.Conn
			rm.mu.Unlock()
			return
		}
	}

	rm.members = append(rm.members, m)
	r.observer.MemberJoined()
	r.logger.Info("member joined",
		"share_token", token,
		"conn_id", m.ConnID,
		"display_name", m.DisplayName,
		"members", len(rm.members),
	)

	r.fanOut(rm, announcement)
}

// Leave removes the connection from the room for token. The departure is
// announced to the remaining members through announce, which receives the
// departing member's display name. An emptied room is deleted. Leaving a
// room the connection is not in is a no-op.
func (r *Registry) Leave(token, connID string, announce func(displayName string) []byte) bool {
	rm := r.lookup(token)
	if rm == nil {
		return false
	}

	rm.mu.Lock()
	idx := -1
	for i := range rm.members {
		if rm.members[i].ConnID == connID {
			idx = i
			break
		}
	}
	if idx < 0 {
		rm.mu.Unlock()
		return false
	}

	left := rm.members[idx]
	rm.members = append(rm.members[:idx:idx], rm.members[idx+1:]...)
	r.observer.MemberLeft()
	r.logger.Info("member left",
		"share_token", token,
		"conn_id", connID,
		"display_name", left.DisplayName,
		"members", len(rm.members),
	)

	if len(rm.members) == 0 {
		rm.closed = true
		rm.mu.Unlock()
		r.unlink(rm)
		return true
	}

	var payload []byte
	if announce != nil {
		payload = announce(left.DisplayName)
	}
	r.fanOut(rm, payload)
	return true
}

// DisplayName returns the display name the connection joined token with.
func (r *Registry) DisplayName(token, connID string) (string, bool) {
	rm := r.lookup(token)
	if rm == nil {
		return "", false
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	for _, m := range rm.members {
		if m.ConnID == connID {
			return m.DisplayName, true
		}
	}
	return "", false
}

// Members returns a copy of the room's members in join order, or nil when
// no room exists for token.
func (r *Registry) Members(token string) []Member {
	rm := r.lookup(token)
	if rm == nil {
		return nil
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()
	return snapshot(rm.members)
}

// HasRoom reports whether a room exists for token.
func (r *Registry) HasRoom(token string) bool {
	return r.lookup(token) != nil
}

// RoomCount returns the number of live rooms.
func (r *Registry) RoomCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

func snapshot(members []Member) []Member {
	out := make([]Member, len(members))
	copy(out, members)
	return out
}
