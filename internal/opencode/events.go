package opencode

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Event type strings as they appear on the wire.
const (
	TypeMessageUpdated    = "message.updated"
	TypePartUpdated       = "message.part.updated"
	TypePermissionUpdated = "permission.updated"
	TypePermissionReplied = "permission.replied"
	TypeConnectionChanged = "client.connection"
)

// ErrMalformedEvent is wrapped by every DecodeEvent failure.
var ErrMalformedEvent = errors.New("malformed event")

// Event is a decoded stream event. The concrete types are MessageUpdated,
// PartUpdated, PermissionUpdated, PermissionReplied, ConnectionChanged and
// Unhandled.
type Event interface {
	EventType() string
}

// MessageUpdated carries new message metadata.
type MessageUpdated struct {
	Info MessageInfo
}

// PartUpdated carries an inserted or changed part.
type PartUpdated struct {
	Part Part
}

// PermissionUpdated carries a new or changed permission request.
type PermissionUpdated struct {
	Permission Permission
}

// PermissionReplied reports that a permission was resolved on the server,
// by this client or any other.
type PermissionReplied struct {
	SessionID    string
	PermissionID string
	Response     string
}

// Unhandled is any well-formed event pocketcode does not act on.
type Unhandled struct {
	Type string
}

// ConnectionChanged is emitted by Stream on every connection state
// transition. It never comes from the server.
type ConnectionChanged struct {
	State   ConnState
	Attempt int
	Delay   time.Duration
	Err     error
}

func (MessageUpdated) EventType() string    { return TypeMessageUpdated }
func (PartUpdated) EventType() string       { return TypePartUpdated }
func (PermissionUpdated) EventType() string { return TypePermissionUpdated }
func (PermissionReplied) EventType() string { return TypePermissionReplied }
func (ConnectionChanged) EventType() string { return TypeConnectionChanged }
func (u Unhandled) EventType() string       { return u.Type }

// envelope is the {type, properties} frame every SSE data line carries.
type envelope struct {
	Type       string          `json:"type"`
	Properties json.RawMessage `json:"properties"`
}

// DecodeEvent parses one SSE data payload. Payloads that are not JSON, or
// that lack the ids the client keys state on, return an error wrapping
// ErrMalformedEvent.
func DecodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}

	switch env.Type {
	case TypeMessageUpdated:
		var props struct {
			Info MessageInfo `json:"info"`
		}
		if err := decodeProps(env, &props); err != nil {
			return nil, err
		}
		if props.Info.ID == "" {
			return nil, fmt.Errorf("%w: %s without info.id", ErrMalformedEvent, env.Type)
		}
		return MessageUpdated{Info: props.Info}, nil

	case TypePartUpdated:
		var props struct {
			Part Part `json:"part"`
		}
		if err := decodeProps(env, &props); err != nil {
			return nil, err
		}
		if props.Part.ID == "" || props.Part.MessageID == "" {
			return nil, fmt.Errorf("%w: %s without part.id or part.messageID", ErrMalformedEvent, env.Type)
		}
		return PartUpdated{Part: props.Part}, nil

	case TypePermissionUpdated:
		var perm Permission
		if err := decodeProps(env, &perm); err != nil {
			return nil, err
		}
		if perm.ID == "" {
			return nil, fmt.Errorf("%w: %s without id", ErrMalformedEvent, env.Type)
		}
		return PermissionUpdated{Permission: perm}, nil

	case TypePermissionReplied:
		var props struct {
			SessionID    string `json:"sessionID"`
			PermissionID string `json:"permissionID"`
			Response     string `json:"response"`
		}
		if err := decodeProps(env, &props); err != nil {
			return nil, err
		}
		if props.PermissionID == "" {
			return nil, fmt.Errorf("%w: %s without permissionID", ErrMalformedEvent, env.Type)
		}
		return PermissionReplied{
			SessionID:    props.SessionID,
			PermissionID: props.PermissionID,
			Response:     props.Response,
		}, nil
	}

	return Unhandled{Type: env.Type}, nil
}

func decodeProps(env envelope, v any) error {
	if len(env.Properties) == 0 {
		return fmt.Errorf("%w: %s without properties", ErrMalformedEvent, env.Type)
	}
	if err := json.Unmarshal(env.Properties, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedEvent, env.Type, err)
	}
	return nil
}

// SessionOf returns the session id an event belongs to, or "" when the
// event is not session scoped.
func SessionOf(ev Event) string {
	switch e := ev.(type) {
	case MessageUpdated:
		return e.Info.SessionID
	case PartUpdated:
		return e.Part.SessionID
	case PermissionUpdated:
		return e.Permission.SessionID
	case PermissionReplied:
		return e.SessionID
	}
	return ""
}
