package collab

import (
	"errors"

	"github.com/Tyrowin/formsync/internal/form"
)

// Errors raised while authenticating a connection or handling its
// messages. Every one of them ends the connection unless the service is
// configured to answer update errors in-band.
var (
	ErrInvalidToken     = errors.New("invalid share token")
	ErrMissingUsername  = errors.New("join without username")
	ErrUnknownForm      = errors.New("unknown form")
	ErrFieldNotFound    = errors.New("field not found")
	ErrInvalidValue     = form.ErrInvalidValue
	ErrMalformedMessage = errors.New("malformed message")
	ErrSessionClosed    = errors.New("session closed")
)

// Kind returns a short label for err suitable for logs and metrics.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidToken):
		return "invalid_token"
	case errors.Is(err, ErrMissingUsername):
		return "missing_username"
	case errors.Is(err, ErrUnknownForm):
		return "unknown_form"
	case errors.Is(err, ErrFieldNotFound):
		return "field_not_found"
	case errors.Is(err, ErrInvalidValue):
		return "invalid_value"
	case errors.Is(err, ErrMalformedMessage):
		return "malformed_message"
	case errors.Is(err, ErrSessionClosed):
		return "session_closed"
	default:
		return "unexpected"
	}
}

// recoverable reports whether an update error can be answered in-band
// instead of ending the connection.
func recoverable(err error) bool {
	return errors.Is(err, ErrUnknownForm) ||
		errors.Is(err, ErrFieldNotFound) ||
		errors.Is(err, ErrInvalidValue)
}
