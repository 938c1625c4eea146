package collab

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Tyrowin/formsync/internal/room"
)

// State is the lifecycle stage of a connection.
type State int

// Connection states. Connecting covers the handshake and is never held by
// a Session: a Session only exists once its token is authenticated.
const (
	StateConnecting State = iota
	StateAuthenticated
	StateJoined
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateJoined:
		return "joined"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Session is the protocol state of one authenticated connection. It is
// owned by the connection's reader and is not safe for concurrent use.
type Session struct {
	svc    *Service
	connID string
	token  string
	conn   room.Deliverer
	state  State
	logger *slog.Logger
}

// NewSession starts the protocol for a connection whose share token has
// already been authenticated.
func (s *Service) NewSession(connID, token string, conn room.Deliverer) *Session {
	return &Session{
		svc:    s,
		connID: connID,
		token:  token,
		conn:   conn,
		state:  StateAuthenticated,
		logger: s.logger.With("conn_id", connID),
	}
}

// State returns the session's lifecycle stage.
func (ss *Session) State() State { return ss.state }

// ShareToken returns the token the session authenticated with.
func (ss *Session) ShareToken() string { return ss.token }

// Handle processes one inbound frame. A non-nil error means the connection
// must be terminated.
func (ss *Session) Handle(ctx context.Context, raw []byte) error {
	if ss.state == StateTerminated {
		return ErrSessionClosed
	}

	msg, err := DecodeInbound(raw)
	if err != nil {
		return ss.fail(err)
	}

	switch msg.Type {
	case TypeJoin:
		return ss.join(msg.Username)
	case TypeUpdate:
		return ss.update(ctx, msg.FieldID, msg.Value)
	default:
		ss.logger.Debug("ignoring message", "type", msg.Type)
		return nil
	}
}

func (ss *Session) join(username string) error {
	if username == "" {
		return ss.fail(ErrMissingUsername)
	}

	ss.svc.rooms.Join(ss.token, room.Member{
		ConnID:      ss.connID,
		DisplayName: username,
		Conn:        ss.conn,
	}, UserJoined(username))
	ss.state = StateJoined
	return nil
}

func (ss *Session) update(ctx context.Context, fieldID string, value any) error {
	err := ss.svc.ApplyUpdate(ctx, ss.token, ss.connID, fieldID, value)
	if err == nil {
		return nil
	}

	if ss.svc.terminateOnError || !recoverable(err) {
		return ss.fail(err)
	}

	ss.logger.Info("update rejected", "field_id", fieldID, "reason", Kind(err), "error", err)
	reply, encErr := json.Marshal(ErrorMessage{Type: TypeError, Error: Kind(err), FieldID: fieldID})
	if encErr != nil {
		return ss.fail(encErr)
	}
	if deliverErr := ss.conn.Deliver(reply); deliverErr != nil {
		ss.logger.Warn("error reply not delivered", "error", deliverErr)
	}
	return nil
}

func (ss *Session) fail(err error) error {
	ss.logger.Warn("terminating connection", "reason", Kind(err), "error", err)
	ss.svc.terminated(err)
	return err
}

// Close ends the session. A joined connection leaves its room and the
// departure is announced to the remaining members. Close is idempotent.
func (ss *Session) Close() {
	if ss.state == StateJoined {
		ss.svc.rooms.Leave(ss.token, ss.connID, UserLeft)
	}
	ss.state = StateTerminated
}
