package room

import "errors"

var (
	errNoTransport = errors.New("member has no transport")
	errPanicked    = errors.New("delivery panicked")
)

// Broadcast delivers payload to every current member of the room for token.
// It returns the number of members the payload was handed to. A room that
// does not exist receives nothing.
func (r *Registry) Broadcast(token string, payload []byte) int {
	rm := r.lookup(token)
	if rm == nil {
		r.logger.Debug("broadcast to empty room", "share_token", token)
		return 0
	}

	rm.mu.Lock()
	if rm.closed {
		rm.mu.Unlock()
		return 0
	}
	return r.fanOut(rm, payload)
}

// fanOut must be called with rm.mu held. It snapshots the members, hands
// ordering over to rm.sendMu, releases rm.mu, and delivers to each member
// in join order. A failed delivery is logged and does not stop the rest.
func (r *Registry) fanOut(rm *room, payload []byte) int {
	members := snapshot(rm.members)
	rm.sendMu.Lock()
	rm.mu.Unlock()
	defer rm.sendMu.Unlock()

	if payload == nil {
		return 0
	}

	delivered := 0
	for _, m := range members {
		if err := deliver(m, payload); err != nil {
			r.observer.DeliveryFailed()
			r.logger.Warn("delivery failed",
				"share_token", rm.token,
				"conn_id", m.ConnID,
				"error", err,
			)
			continue
		}
		delivered++
		r.observer.Delivered()
	}

	r.logger.Debug("broadcast complete",
		"share_token", rm.token,
		"targets", len(members),
		"delivered", delivered,
	)
	return delivered
}

func deliver(m Member, payload []byte) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errPanicked
		}
	}()
	if m.Conn == nil {
		return errNoTransport
	}
	return m.Conn.Deliver(payload)
}
