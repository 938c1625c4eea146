package collab

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Message types on the wire.
const (
	TypeJoin       = "join"
	TypeUpdate     = "update"
	TypeUserJoined = "user_joined"
	TypeUserLeft   = "user_left"
	TypeError      = "error"
)

// Inbound is a decoded client message.
type Inbound struct {
	Type     string
	Username string
	FieldID  string
	Value    any
}

// DecodeInbound parses a client frame. The frame must be a JSON object with
// a string "type". A join carries "username"; an update carries a string
// "field_id" and a "value" of any JSON type, including null. Unrecognized
// types decode successfully so the caller can ignore them.
func DecodeInbound(raw []byte) (Inbound, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(raw, &envelope); err != nil || envelope == nil {
		return Inbound{}, fmt.Errorf("%w: not a JSON object", ErrMalformedMessage)
	}

	var msg Inbound
	typ, ok := envelope["type"]
	if !ok {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrMalformedMessage)
	}
	if err := json.Unmarshal(typ, &msg.Type); err != nil {
		return Inbound{}, fmt.Errorf("%w: type is not a string", ErrMalformedMessage)
	}

	switch msg.Type {
	case TypeJoin:
		// A missing or non-string username is reported by the join
		// handler, not as a malformed frame.
		if rawName, ok := envelope["username"]; ok {
			var name string
			if json.Unmarshal(rawName, &name) == nil {
				msg.Username = strings.TrimSpace(name)
			}
		}

	case TypeUpdate:
		rawField, ok := envelope["field_id"]
		if !ok {
			return Inbound{}, fmt.Errorf("%w: update without field_id", ErrMalformedMessage)
		}
		if err := json.Unmarshal(rawField, &msg.FieldID); err != nil || msg.FieldID == "" {
			return Inbound{}, fmt.Errorf("%w: field_id must be a non-empty string", ErrMalformedMessage)
		}

		rawValue, ok := envelope["value"]
		if !ok {
			return Inbound{}, fmt.Errorf("%w: update without value", ErrMalformedMessage)
		}
		dec := json.NewDecoder(bytes.NewReader(rawValue))
		dec.UseNumber()
		if err := dec.Decode(&msg.Value); err != nil {
			return Inbound{}, fmt.Errorf("%w: value: %v", ErrMalformedMessage, err)
		}
	}

	return msg, nil
}

// PresenceMessage announces a member joining or leaving.
type PresenceMessage struct {
	Type     string `json:"type"`
	Username string `json:"username"`
}

// UpdateMessage announces an accepted field change.
type UpdateMessage struct {
	Type      string `json:"type"`
	FieldID   string `json:"field_id"`
	Value     any    `json:"value"`
	UpdatedBy string `json:"updated_by"`
}

// ErrorMessage reports a rejected update to its sender when the service
// keeps connections open on update errors.
type ErrorMessage struct {
	Type    string `json:"type"`
	Error   string `json:"error"`
	FieldID string `json:"field_id,omitempty"`
}

// UserJoined encodes a user_joined announcement.
func UserJoined(username string) []byte {
	return mustEncode(PresenceMessage{Type: TypeUserJoined, Username: username})
}

// UserLeft encodes a user_left announcement.
func UserLeft(username string) []byte {
	return mustEncode(PresenceMessage{Type: TypeUserLeft, Username: username})
}

// EncodeUpdate encodes an update announcement.
func EncodeUpdate(msg UpdateMessage) ([]byte, error) {
	msg.Type = TypeUpdate
	return json.Marshal(msg)
}

func mustEncode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("collab: encoding %T: %v", v, err))
	}
	return b
}
