package bridge

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"testing"

	"github.com/ksawyer/wirehub/internal/broadcast"
	"github.com/ksawyer/wirehub/internal/bus"
	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/registry"
)

type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error { return nil }

func (f *fakeTransport) events(t *testing.T) []envelope.EventData {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []envelope.EventData
	for _, data := range f.writes {
		env, err := envelope.Decode(data)
		if err != nil {
			t.Fatalf("invalid envelope on wire: %v", err)
		}
		if env.Type != envelope.TypeEvent {
			continue
		}
		var ed envelope.EventData
		if err := json.Unmarshal(env.Data, &ed); err != nil {
			t.Fatalf("invalid event data: %v", err)
		}
		out = append(out, ed)
	}
	return out
}

func newBridge(t *testing.T) (*Bridge, *bus.Bus, *registry.Registry) {
	t.Helper()
	logger := slog.Default()
	reg := registry.New(logger)
	b := bus.New(logger)
	br := New(b, broadcast.New(reg, logger), logger)
	br.Start()
	t.Cleanup(br.Stop)
	return br, b, reg
}

func TestOutbound_BusEmissionReachesSubscribers(t *testing.T) {
	_, b, reg := newBridge(t)

	ft := &fakeTransport{}
	c := registry.NewConn(ft, nil)
	c.Subscribe([]string{"chat.message"})
	if err := reg.Add(c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	b.Emit("chat.message", map[string]string{"body": "hi"}, "conn-42", map[string]string{"room": "general"})

	events := ft.events(t)
	if len(events) != 1 {
		t.Fatalf("connection received %d events, want 1", len(events))
	}
	ed := events[0]
	if ed.EventType != "chat.message" {
		t.Errorf("eventType = %q", ed.EventType)
	}
	if ed.Source != "conn-42" {
		t.Errorf("source = %q, want conn-42; payload fields must survive the bridge", ed.Source)
	}
	if ed.Timestamp == "" {
		t.Error("timestamp lost crossing the bridge")
	}
	if ed.Metadata["room"] != "general" {
		t.Errorf("metadata = %v", ed.Metadata)
	}

	var body map[string]string
	if err := json.Unmarshal(ed.Data, &body); err != nil {
		t.Fatalf("unmarshal event body: %v", err)
	}
	if body["body"] != "hi" {
		t.Errorf("data = %v", body)
	}
}

func TestOutbound_UnsubscribedConnectionSkipped(t *testing.T) {
	_, b, reg := newBridge(t)

	ft := &fakeTransport{}
	c := registry.NewConn(ft, nil)
	c.Subscribe([]string{"other.type"})
	if err := reg.Add(c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}

	b.Emit("chat.message", nil, "", nil)

	if len(ft.events(t)) != 0 {
		t.Error("unsubscribed connection received the event")
	}
}

type fakePeer struct{ id string }

func (p *fakePeer) ID() string                        { return p.id }
func (p *fakePeer) Send(env *envelope.Envelope) error { return nil }

func TestInbound_EmitsTaggedWithSource(t *testing.T) {
	br, b, _ := newBridge(t)

	var got []bus.Payload
	b.Subscribe("sensor.reading", func(p bus.Payload) { got = append(got, p) })

	env, err := envelope.New(envelope.TypeEvent, envelope.EventData{
		EventType: "sensor.reading",
		Data:      json.RawMessage(`{"value":7}`),
		Metadata:  map[string]string{"unit": "celsius"},
	})
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}

	if err := br.HandleInbound(context.Background(), &fakePeer{id: "conn-7"}, env); err != nil {
		t.Fatalf("HandleInbound failed: %v", err)
	}

	if len(got) != 1 {
		t.Fatalf("bus received %d emissions, want 1", len(got))
	}
	if got[0].Source != "conn-7" {
		t.Errorf("source = %q, want the originating connection identity", got[0].Source)
	}
	if got[0].Metadata["unit"] != "celsius" {
		t.Errorf("metadata = %v", got[0].Metadata)
	}
}

func TestInbound_RejectsMissingEventType(t *testing.T) {
	br, _, _ := newBridge(t)

	env, err := envelope.New(envelope.TypeEvent, envelope.EventData{})
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}
	if err := br.HandleInbound(context.Background(), &fakePeer{id: "c"}, env); err == nil {
		t.Error("expected error for event payload without eventType")
	}
}

func TestNotifyDisconnected(t *testing.T) {
	br, b, _ := newBridge(t)

	var got []bus.Payload
	b.Subscribe(EventClientDisconnected, func(p bus.Payload) { got = append(got, p) })

	br.NotifyDisconnected("conn-9")

	if len(got) != 1 || got[0].Source != "conn-9" {
		t.Fatalf("disconnect notification = %+v, want one event sourced conn-9", got)
	}
}
