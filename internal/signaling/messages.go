package signaling

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Inbound events.
const (
	EventCreateRoom         = "create-room"
	EventJoinRoom           = "join-room"
	EventStreamStateChanged = "stream-state-changed"
	EventSendMessage        = "send-message"
	EventLeaveRoom          = "leave-room"
	EventOffer              = "offer"
	EventAnswer             = "answer"
	EventICECandidate       = "ice-candidate"
)

// Outbound events. stream-state-changed, offer, answer and ice-candidate are
// echoed under their inbound names.
const (
	EventRoomCreated     = "room-created"
	EventRoomJoined      = "room-joined"
	EventSetParticipants = "set-participants"
	EventUserJoined      = "user-joined"
	EventRequestOffer    = "request-offer"
	EventChatMessage     = "chat-message"
	EventUserLeft        = "user-left"
	EventError           = "error"
)

// Envelope is the wire framing for every signaling message, inbound and
// outbound: a JSON text frame {"event": string, "data": object}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

var errInvalidEnvelope = errors.New("invalid signaling envelope")

func decodeEnvelope(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", errInvalidEnvelope, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: missing event", errInvalidEnvelope)
	}
	return env, nil
}

func marshalEvent(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s data: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func unmarshalRequest(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(data, v)
}

type createRoomRequest struct {
	RoomName string `json:"roomName"`
	Username string `json:"username"`
}

type joinRoomRequest struct {
	RoomID   string `json:"roomId"`
	Username string `json:"username"`
}

// roomScoped extracts the roomId that room-wide events carry alongside their
// otherwise opaque payload.
type roomScoped struct {
	RoomID string `json:"roomId"`
}

// targeted extracts the destination connection id of a direct relay event.
type targeted struct {
	Target string `json:"target"`
}

// stampFields decodes data as a flat JSON object, applies set (marshalled
// values) and removes the drop keys, preserving every other field untouched.
// Payload contents beyond the touched keys stay opaque.
func stampFields(data json.RawMessage, set map[string]any, drop ...string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	for key, value := range set {
		raw, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		fields[key] = raw
	}
	for _, key := range drop {
		delete(fields, key)
	}
	return json.Marshal(fields)
}
