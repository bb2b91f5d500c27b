package broadcast

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/registry"
)

type fakeTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	writeErr error
	closed   bool
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.writeErr != nil {
		return f.writeErr
	}
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeTransport) received(t *testing.T) []*envelope.Envelope {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*envelope.Envelope, 0, len(f.writes))
	for _, data := range f.writes {
		env, err := envelope.Decode(data)
		if err != nil {
			t.Fatalf("transport received invalid envelope: %v", err)
		}
		out = append(out, env)
	}
	return out
}

func addConn(t *testing.T, reg *registry.Registry, subs []string) (*registry.Conn, *fakeTransport) {
	t.Helper()
	ft := &fakeTransport{}
	c := registry.NewConn(ft, nil)
	if subs != nil {
		c.Subscribe(subs)
	}
	if err := reg.Add(c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return c, ft
}

func TestBroadcastEvent_SubscriptionFilter(t *testing.T) {
	reg := registry.New(slog.Default())
	b := New(reg, slog.Default())

	_, chatFT := addConn(t, reg, []string{"chat.message"})
	_, wildFT := addConn(t, reg, nil) // default {*}
	_, otherFT := addConn(t, reg, []string{"other.type"})

	n, err := b.BroadcastEvent("chat.message", map[string]string{"body": "hi"})
	if err != nil {
		t.Fatalf("BroadcastEvent failed: %v", err)
	}
	if n != 2 {
		t.Errorf("delivered = %d, want 2", n)
	}

	if len(chatFT.received(t)) != 1 {
		t.Error("explicitly subscribed connection did not receive the event")
	}
	if len(wildFT.received(t)) != 1 {
		t.Error("wildcard connection did not receive the event")
	}
	if len(otherFT.received(t)) != 0 {
		t.Error("connection subscribed to other.type received the event")
	}

	// Envelope shape: event type wrapped with the payload.
	env := chatFT.received(t)[0]
	if env.Type != envelope.TypeEvent {
		t.Errorf("envelope type = %q, want event", env.Type)
	}
	var data envelope.EventData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		t.Fatalf("unmarshal event data: %v", err)
	}
	if data.EventType != "chat.message" {
		t.Errorf("eventType = %q, want chat.message", data.EventType)
	}
}

func TestBroadcast_ExcludesIdentity(t *testing.T) {
	reg := registry.New(slog.Default())
	b := New(reg, slog.Default())

	sender, senderFT := addConn(t, reg, []string{"other.type"})
	_, peerFT := addConn(t, reg, []string{"unrelated"})

	env, err := envelope.New("chat.message", map[string]string{"body": "hi"})
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}

	// Plain broadcast ignores subscriptions and the excluded identity.
	n := b.Broadcast(env, sender.ID())
	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if len(senderFT.received(t)) != 0 {
		t.Error("excluded sender received the broadcast")
	}
	if len(peerFT.received(t)) != 1 {
		t.Error("peer did not receive the broadcast despite unrelated subscriptions")
	}
}

func TestSendTo(t *testing.T) {
	reg := registry.New(slog.Default())
	b := New(reg, slog.Default())

	c, ft := addConn(t, reg, nil)
	env, err := envelope.New("direct", nil)
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}

	if !b.SendTo(c.ID(), env) {
		t.Error("SendTo to a live connection reported failure")
	}
	if len(ft.received(t)) != 1 {
		t.Error("target did not receive the unicast")
	}

	if b.SendTo("no-such-id", env) {
		t.Error("SendTo to an unknown identity reported success")
	}
}

func TestBroadcast_WriteFailureEvicts(t *testing.T) {
	reg := registry.New(slog.Default())
	b := New(reg, slog.Default())

	var evicted []string
	b.OnEvict(func(id string) { evicted = append(evicted, id) })

	brokenFT := &fakeTransport{writeErr: errors.New("broken pipe")}
	broken := registry.NewConn(brokenFT, nil)
	if err := reg.Add(broken); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	_, okFT := addConn(t, reg, nil)

	env, err := envelope.New("chat.message", nil)
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}
	n := b.Broadcast(env, "")

	if n != 1 {
		t.Errorf("delivered = %d, want 1", n)
	}
	if _, ok := reg.Find(broken.ID()); ok {
		t.Error("connection with broken transport not evicted")
	}
	if !brokenFT.closed {
		t.Error("broken transport not closed")
	}
	if len(okFT.received(t)) != 1 {
		t.Error("healthy connection missed the broadcast")
	}
	if len(evicted) != 1 || evicted[0] != broken.ID() {
		t.Errorf("evicted = %v, want [%s]", evicted, broken.ID())
	}
}
