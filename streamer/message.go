package streamer

import (
	"encoding/json"
	"fmt"

	"github.com/hypothesis/h-sub005/errors"
)

// Annotation event actions carried on the bus.
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Message is one unit of work drained by the dispatcher. The set of
// implementations is closed: AnnotationEvent, UserEvent and ClientMessage.
type Message interface {
	message()
}

// AnnotationEvent is a bus-origin annotation lifecycle event. The payload
// carries only the annotation id; handlers re-fetch the annotation from
// storage so that duplicate deliveries and stale snapshots are harmless.
type AnnotationEvent struct {
	Action       string `json:"action"`
	AnnotationID string `json:"annotation_id"`
	SrcClientID  string `json:"src_client_id,omitempty"`
}

func (*AnnotationEvent) message() {}

// UserEvent is a bus-origin user session change.
type UserEvent struct {
	Type         string          `json:"type"`
	UserID       string          `json:"userid"`
	SessionModel json.RawMessage `json:"session_model"`
}

func (*UserEvent) message() {}

// ClientMessage is a control message received from one client socket,
// carrying a back-reference to the connection so replies can be routed.
type ClientMessage struct {
	Conn *Connection
	Raw  []byte
}

func (*ClientMessage) message() {}

// ParseAnnotationEvent deserializes a bus annotation event body.
func ParseAnnotationEvent(data []byte) (*AnnotationEvent, error) {
	var ev AnnotationEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.WrapInvalid(err, "streamer", "ParseAnnotationEvent", "decode event body")
	}
	switch ev.Action {
	case ActionCreate, ActionUpdate, ActionDelete:
	default:
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: action %q", errors.ErrInvalidData, ev.Action),
			"streamer", "ParseAnnotationEvent", "validate action")
	}
	if ev.AnnotationID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: missing annotation_id", errors.ErrInvalidData),
			"streamer", "ParseAnnotationEvent", "validate annotation id")
	}
	return &ev, nil
}

// ParseUserEvent deserializes a bus user session event body.
func ParseUserEvent(data []byte) (*UserEvent, error) {
	var ev UserEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, errors.WrapInvalid(err, "streamer", "ParseUserEvent", "decode event body")
	}
	if ev.Type == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: missing type", errors.ErrInvalidData),
			"streamer", "ParseUserEvent", "validate event type")
	}
	if ev.UserID == "" {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%w: missing userid", errors.ErrInvalidData),
			"streamer", "ParseUserEvent", "validate userid")
	}
	return &ev, nil
}
