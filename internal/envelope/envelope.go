package envelope

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"
)

// Reserved envelope types used by the protocol itself. Application
// messages use any other non-empty type string.
const (
	TypeConnection   = "connection"
	TypePing         = "ping"
	TypePong         = "pong"
	TypeSubscribe    = "subscribe"
	TypeUnsubscribe  = "unsubscribe"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeEvent        = "event"
	TypeError        = "error"
)

// Envelope is the unit of wire exchange. Type is required and non-empty;
// Timestamp and ID are filled in by the sender when absent.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
	ID        string          `json:"id,omitempty"`
}

// ConnectionData is the payload of the server's "connection" greeting.
type ConnectionData struct {
	ID string `json:"id"`
}

// SubscribeData is the payload of "subscribe"/"unsubscribe" requests and
// their "subscribed"/"unsubscribed" acks.
type SubscribeData struct {
	EventTypes []string `json:"eventTypes"`
}

// EventData is the payload of an "event" envelope: a domain event wrapped
// for transport. Source, Timestamp and Metadata are set when the event
// crosses the bridge so nothing is lost in transit.
type EventData struct {
	EventType string            `json:"eventType"`
	Data      json.RawMessage   `json:"data,omitempty"`
	Source    string            `json:"source,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// ErrorData is the payload of an "error" envelope.
type ErrorData struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// DecodeError reports malformed inbound bytes or a missing/empty type
// field. The connection stays open; the sender gets one error envelope.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode envelope: %s: %v", e.Reason, e.Err)
	}
	return "decode envelope: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Decode parses wire bytes into an Envelope. It fails with *DecodeError
// if the bytes are not valid JSON or the required type field is missing
// or empty. Absent timestamp and id are populated, so decoding is not
// idempotent on the input but re-encoding the result is.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &DecodeError{Reason: "malformed message", Err: err}
	}
	if env.Type == "" {
		return nil, &DecodeError{Reason: "missing or empty type field"}
	}
	if env.Timestamp == "" {
		env.Timestamp = Now()
	}
	if env.ID == "" {
		env.ID = NewID()
	}
	return &env, nil
}

// Encode serializes an Envelope to wire bytes. It never fails for a
// well-formed Envelope (Data is already-marshaled JSON).
func Encode(env *Envelope) ([]byte, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return data, nil
}

// New builds an Envelope of the given type with payload marshaled to
// JSON, stamped and identified.
func New(msgType string, payload any) (*Envelope, error) {
	env := &Envelope{
		Type:      msgType,
		Timestamp: Now(),
		ID:        NewID(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
		}
		env.Data = data
	}
	return env, nil
}

// NewError builds an "error" envelope.
func NewError(message, code string) *Envelope {
	env, _ := New(TypeError, ErrorData{Message: message, Code: code})
	return env
}

// Now returns the current time in the wire timestamp format (RFC 3339,
// millisecond precision, UTC).
func Now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// NewID produces a message identifier: millisecond timestamp prefix plus
// a random hex suffix. Collision-resistant enough for correlation and
// logging, not for security.
func NewID() string {
	return fmt.Sprintf("%d-%08x", time.Now().UnixMilli(), rand.Uint32())
}
