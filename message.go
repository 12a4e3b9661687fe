package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

type EnvelopeType string

const (
	MessageEnvelope        EnvelopeType = "message"
	NotificationEnvelope   EnvelopeType = "notification"
	LocationUpdateEnvelope EnvelopeType = "location_update"
	TripStatusEnvelope     EnvelopeType = "trip_status"
	HeartbeatEnvelope      EnvelopeType = "heartbeat"
	TypingEnvelope         EnvelopeType = "typing"
	UserJoinedEnvelope     EnvelopeType = "user_joined"
	UserLeftEnvelope       EnvelopeType = "user_left"
)

// EnvelopeTypes lists every type the dispatcher knows how to route.
var EnvelopeTypes = []EnvelopeType{
	MessageEnvelope,
	NotificationEnvelope,
	LocationUpdateEnvelope,
	TripStatusEnvelope,
	HeartbeatEnvelope,
	TypingEnvelope,
	UserJoinedEnvelope,
	UserLeftEnvelope,
}

func (t EnvelopeType) Is(other EnvelopeType) bool {
	return t == other
}

func (t EnvelopeType) IsHeartbeat() bool {
	return t.Is(HeartbeatEnvelope)
}

// Known reports whether t belongs to the fixed set of envelope types.
func (t EnvelopeType) Known() bool {
	for _, known := range EnvelopeTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Envelope is the unit exchanged over the wire. It is a value type: once built, it is never
// mutated by the dispatcher.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	UserID    string          `json:"userId,omitempty"`
	ChatID    string          `json:"chatId,omitempty"`
	TripID    string          `json:"tripId,omitempty"`
}

// timestampLayouts are tried in order when decoding a peer's timestamp.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02",
}

// UnmarshalJSON decodes an envelope without letting its timestamp reject it: a missing or
// unparseable timestamp decodes as the zero time.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	type plain Envelope
	aux := struct {
		*plain
		Timestamp json.RawMessage `json:"timestamp"`
	}{plain: (*plain)(e)}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	e.Timestamp = parseTimestamp(aux.Timestamp)
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	var value string
	if len(raw) == 0 || json.Unmarshal(raw, &value) != nil || value == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts
		}
	}
	return time.Time{}
}

// ChannelID returns the chat the envelope belongs to, falling back to its trip.
func (e Envelope) ChannelID() string {
	if e.ChatID != "" {
		return e.ChatID
	}
	return e.TripID
}

// Decode unmarshals the envelope payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return errors.Wrapf(ErrEmptyPayload, "envelope type %s", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errors.Wrapf(err, "cannot decode %s payload", e.Type)
	}
	return nil
}

func (e Envelope) String() string {
	return fmt.Sprintf("Envelope{type=%s,chat=%s,trip=%s,data=%s}",
		e.Type, e.ChatID, e.TripID, e.Data)
}

// NewEnvelope builds an envelope stamped with the current time. data is marshalled to JSON
// unless it already is a json.RawMessage.
func NewEnvelope(t EnvelopeType, data any) (Envelope, error) {
	raw, err := marshalPayload(data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Type: t, Data: raw, Timestamp: time.Now().UTC()}, nil
}

// MustEnvelope is like NewEnvelope but panics on marshalling errors. Only meant for payloads
// known to be serializable.
func MustEnvelope(t EnvelopeType, data any) Envelope {
	env, err := NewEnvelope(t, data)
	if err != nil {
		panic(err)
	}
	return env
}

// WithChat returns a copy of e bound to a chat.
func (e Envelope) WithChat(chatID string) Envelope {
	e.ChatID = chatID
	return e
}

// WithTrip returns a copy of e bound to a trip.
func (e Envelope) WithTrip(tripID string) Envelope {
	e.TripID = tripID
	return e
}

// WithUser returns a copy of e attributed to a user.
func (e Envelope) WithUser(userID string) Envelope {
	e.UserID = userID
	return e
}

func marshalPayload(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, errors.Wrap(err, "cannot marshal envelope payload")
	}
	return raw, nil
}

type (
	MessagePayload struct {
		ID        string    `json:"id"`
		Text      string    `json:"text"`
		SenderID  string    `json:"senderId,omitempty"`
		CreatedAt time.Time `json:"createdAt,omitempty"`
	}

	NotificationPayload struct {
		ID    string `json:"id,omitempty"`
		Title string `json:"title"`
		Body  string `json:"body,omitempty"`
		Kind  string `json:"kind,omitempty"`
	}

	LocationPayload struct {
		TripID  string  `json:"tripId,omitempty"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Heading float64 `json:"heading,omitempty"`
		Speed   float64 `json:"speed,omitempty"`
	}

	TripStatusPayload struct {
		TripID string `json:"tripId"`
		Status string `json:"status"`
	}

	TypingPayload struct {
		UserID   string `json:"userId,omitempty"`
		IsTyping bool   `json:"isTyping"`
	}

	PresencePayload struct {
		UserID string `json:"userId"`
	}

	// HeartbeatPayload tells a liveness probe apart from the answer to one, so two peers that
	// both answer heartbeats never echo each other forever.
	HeartbeatPayload struct {
		Reply bool `json:"reply"`
	}
)
