package envelope

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestDecode_FillsTimestampAndID(t *testing.T) {
	env, err := Decode([]byte(`{"type":"chat.message","data":{"body":"hi"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if env.Type != "chat.message" {
		t.Errorf("Type = %q, want chat.message", env.Type)
	}
	if env.Timestamp == "" {
		t.Error("Timestamp not populated")
	}
	if env.ID == "" {
		t.Error("ID not populated")
	}
	if _, err := time.Parse(time.RFC3339, env.Timestamp); err != nil {
		t.Errorf("Timestamp %q is not RFC 3339: %v", env.Timestamp, err)
	}
}

func TestDecode_PreservesExistingTimestampAndID(t *testing.T) {
	env, err := Decode([]byte(`{"type":"x","timestamp":"2026-01-01T00:00:00.000Z","id":"abc-123"}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if env.Timestamp != "2026-01-01T00:00:00.000Z" {
		t.Errorf("Timestamp = %q, want preserved value", env.Timestamp)
	}
	if env.ID != "abc-123" {
		t.Errorf("ID = %q, want abc-123", env.ID)
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed json", `{"type":`},
		{"not an object", `[1,2,3]`},
		{"missing type", `{"data":{}}`},
		{"empty type", `{"type":""}`},
		{"non-string type", `{"type":42}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.input))
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			var decErr *DecodeError
			if !errors.As(err, &decErr) {
				t.Errorf("error type = %T, want *DecodeError", err)
			}
		})
	}
}

func TestRoundTrip_SecondPassIsIdempotent(t *testing.T) {
	// First pass populates timestamp/id, so input != output.
	first, err := Decode([]byte(`{"type":"chat.message","data":{"body":"hi"}}`))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	wire1, err := Encode(first)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	// Second pass must be byte-stable: the decoded result is complete.
	second, err := Decode(wire1)
	if err != nil {
		t.Fatalf("Decode of encoded envelope failed: %v", err)
	}
	wire2, err := Encode(second)
	if err != nil {
		t.Fatalf("re-Encode failed: %v", err)
	}

	if !bytes.Equal(wire1, wire2) {
		t.Errorf("re-encoding not idempotent:\n first: %s\nsecond: %s", wire1, wire2)
	}
}

func TestNew_MarshalsPayload(t *testing.T) {
	env, err := New(TypeSubscribed, SubscribeData{EventTypes: []string{"chat.message"}})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var data SubscribeData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if len(data.EventTypes) != 1 || data.EventTypes[0] != "chat.message" {
		t.Errorf("EventTypes = %v, want [chat.message]", data.EventTypes)
	}
	if env.Timestamp == "" || env.ID == "" {
		t.Error("New did not stamp envelope")
	}
}

func TestNewError(t *testing.T) {
	env := NewError("handler blew up", "handler_error")
	if env.Type != TypeError {
		t.Errorf("Type = %q, want error", env.Type)
	}
	var data ErrorData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal error payload: %v", err)
	}
	if data.Message != "handler blew up" || data.Code != "handler_error" {
		t.Errorf("ErrorData = %+v", data)
	}
}

func TestNewID_Format(t *testing.T) {
	id := NewID()
	parts := strings.SplitN(id, "-", 2)
	if len(parts) != 2 {
		t.Fatalf("ID %q missing time-random separator", id)
	}
	if len(parts[1]) != 8 {
		t.Errorf("random suffix %q, want 8 hex chars", parts[1])
	}

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		v := NewID()
		if seen[v] {
			t.Fatalf("duplicate ID generated: %s", v)
		}
		seen[v] = true
	}
}
