package bus

import (
	"log/slog"
	"testing"
)

func TestEmit_TypeAndWildcardSubscribers(t *testing.T) {
	b := New(slog.Default())

	var typed, wild, other []Payload
	b.Subscribe("chat.message", func(p Payload) { typed = append(typed, p) })
	b.Subscribe(Wildcard, func(p Payload) { wild = append(wild, p) })
	b.Subscribe("other.type", func(p Payload) { other = append(other, p) })

	b.Emit("chat.message", map[string]string{"body": "hi"}, "conn-1", map[string]string{"k": "v"})

	if len(typed) != 1 {
		t.Fatalf("typed subscriber got %d events, want 1", len(typed))
	}
	if len(wild) != 1 {
		t.Fatalf("wildcard subscriber got %d events, want 1", len(wild))
	}
	if len(other) != 0 {
		t.Fatalf("other.type subscriber got %d events, want 0", len(other))
	}

	p := typed[0]
	if p.Type != "chat.message" {
		t.Errorf("Type = %q", p.Type)
	}
	if p.Source != "conn-1" {
		t.Errorf("Source = %q, want conn-1", p.Source)
	}
	if p.Timestamp.IsZero() {
		t.Error("Timestamp not stamped")
	}
	if p.Metadata["k"] != "v" {
		t.Errorf("Metadata = %v", p.Metadata)
	}
}

func TestUnsubscribe(t *testing.T) {
	b := New(slog.Default())

	count := 0
	id := b.Subscribe("chat.message", func(p Payload) { count++ })

	b.Emit("chat.message", nil, "", nil)
	b.Unsubscribe(id)
	b.Emit("chat.message", nil, "", nil)

	if count != 1 {
		t.Errorf("handler ran %d times, want 1", count)
	}

	// Unknown id is a no-op.
	b.Unsubscribe(9999)
}

func TestEmit_PanicIsolation(t *testing.T) {
	b := New(slog.Default())

	survived := false
	b.Subscribe("chat.message", func(p Payload) { panic("boom") })
	b.Subscribe("chat.message", func(p Payload) { survived = true })

	b.Emit("chat.message", nil, "", nil)

	if !survived {
		t.Error("sibling subscriber did not run after panic")
	}
}
