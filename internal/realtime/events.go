package realtime

import (
	"encoding/json"
	"errors"
	"strings"
)

// Client → server events.
const (
	EventUserOnline        = "user_online"
	EventJoinConversation  = "join_conversation"
	EventLeaveConversation = "leave_conversation"
	EventTyping            = "typing"
	EventStopTyping        = "stop_typing"
	EventSendMessage       = "send_message"
)

// Server → client events.
const (
	EventUsersOnline         = "users_online"
	EventReceiveMessage      = "receive_message"
	EventUserTyping          = "user_typing"
	EventUserStopTyping      = "user_stop_typing"
	EventConversationUpdated = "conversation_updated"
	EventError               = "error"
)

// Envelope is one JSON text frame on the wire.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func NewEnvelope(event string, data any) (Envelope, error) {
	if data == nil {
		return Envelope{Event: event}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Event: event, Data: b}, nil
}

func mustEnvelope(event string, data any) Envelope {
	env, err := NewEnvelope(event, data)
	if err != nil {
		return Envelope{Event: EventError}
	}
	return env
}

// ID accepts a JSON string or number and keeps it as a string.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*id = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*id = ID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errors.New("id must be a string or number")
	}
	*id = ID(n.String())
	return nil
}

// decodeIDArg reads an event argument sent either bare ("c1", 42) or as an
// object carrying field ({"conversationId": "c1"}).
func decodeIDArg(data json.RawMessage, field string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("missing " + field)
	}
	var bare ID
	if err := json.Unmarshal(data, &bare); err == nil {
		if bare == "" {
			return "", errors.New("missing " + field)
		}
		return string(bare), nil
	}
	var obj map[string]ID
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", errors.New("invalid " + field)
	}
	v := obj[field]
	if v == "" {
		return "", errors.New("missing " + field)
	}
	return string(v), nil
}

type TypingPayload struct {
	ConversationID ID     `json:"conversationId"`
	UserID         string `json:"userId"`
	UserName       string `json:"userName,omitempty"`
}

type SendMessagePayload struct {
	ConversationID ID              `json:"conversationId"`
	Message        json.RawMessage `json:"message"`
}

// messageRef extracts the id of a relayed message ("id", or "_id" from older clients).
type messageRef struct {
	ID    ID `json:"id"`
	AltID ID `json:"_id"`
}

func (m messageRef) key() string {
	if m.ID != "" {
		return string(m.ID)
	}
	return string(m.AltID)
}

type ConversationUpdatedPayload struct {
	ConversationID string `json:"conversationId"`
	LastMessage    any    `json:"lastMessage,omitempty"`
}

type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
