package registry

import (
	"errors"
	"log/slog"
	"sync"
	"testing"

	"github.com/ksawyer/wirehub/internal/envelope"
)

// fakeTransport records writes and closes for assertions.
type fakeTransport struct {
	mu     sync.Mutex
	writes [][]byte
	closed bool
}

func (f *fakeTransport) Write(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func newTestConn() *Conn {
	return NewConn(&fakeTransport{}, map[string]string{"remote_addr": "127.0.0.1:9999"})
}

func TestNewConn_Defaults(t *testing.T) {
	c := newTestConn()

	if c.ID() == "" {
		t.Error("identity not generated")
	}
	if !c.Alive() {
		t.Error("new connection should be alive")
	}
	if !c.SubscribedTo("anything.at.all") {
		t.Error("default subscription set should be the wildcard")
	}
	if c.Meta("remote_addr") != "127.0.0.1:9999" {
		t.Errorf("Meta(remote_addr) = %q", c.Meta("remote_addr"))
	}
}

func TestConn_SubscribeNarrows(t *testing.T) {
	c := newTestConn()
	c.Subscribe([]string{"chat.message"})

	if !c.SubscribedTo("chat.message") {
		t.Error("should be subscribed to chat.message")
	}
	if c.SubscribedTo("other.type") {
		t.Error("subscribe should replace the wildcard default")
	}

	c.Unsubscribe([]string{"chat.message"})
	if c.SubscribedTo("chat.message") {
		t.Error("unsubscribe did not remove the type")
	}
}

func TestConn_SubscribeEmptyResetsToWildcard(t *testing.T) {
	c := newTestConn()
	c.Subscribe([]string{"chat.message"})
	c.Subscribe(nil)

	if !c.SubscribedTo("other.type") {
		t.Error("empty subscribe should reset to wildcard")
	}
}

func TestRegistry_AddRemoveFind(t *testing.T) {
	r := New(slog.Default())
	c := newTestConn()

	if err := r.Add(c); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	if err := r.Add(c); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("duplicate Add error = %v, want ErrDuplicateID", err)
	}

	got, ok := r.Find(c.ID())
	if !ok || got != c {
		t.Fatal("Find did not return the registered connection")
	}
	if r.Len() != 1 {
		t.Errorf("Len = %d, want 1", r.Len())
	}

	r.Remove(c.ID())
	if _, ok := r.Find(c.ID()); ok {
		t.Error("connection still present after Remove")
	}

	// Idempotent: removing again is a no-op.
	r.Remove(c.ID())
	r.Remove("never-existed")
	if r.Len() != 0 {
		t.Errorf("Len = %d, want 0", r.Len())
	}
}

func TestRegistry_ForEachToleratesRemoval(t *testing.T) {
	r := New(slog.Default())
	conns := make([]*Conn, 5)
	for i := range conns {
		conns[i] = newTestConn()
		if err := r.Add(conns[i]); err != nil {
			t.Fatalf("Add failed: %v", err)
		}
	}

	visited := 0
	r.ForEach(func(c *Conn) {
		visited++
		r.Remove(c.ID())
	})

	if visited != 5 {
		t.Errorf("visited %d connections, want 5", visited)
	}
	if r.Len() != 0 {
		t.Errorf("Len = %d after removing all, want 0", r.Len())
	}
}

func TestConn_SendEncodesEnvelope(t *testing.T) {
	ft := &fakeTransport{}
	c := NewConn(ft, nil)

	env, err := envelope.New("chat.message", map[string]string{"body": "hi"})
	if err != nil {
		t.Fatalf("envelope.New failed: %v", err)
	}
	if err := c.Send(env); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	if len(ft.writes) != 1 {
		t.Fatalf("writes = %d, want 1", len(ft.writes))
	}
	decoded, err := envelope.Decode(ft.writes[0])
	if err != nil {
		t.Fatalf("written bytes do not decode: %v", err)
	}
	if decoded.Type != "chat.message" {
		t.Errorf("Type = %q, want chat.message", decoded.Type)
	}
}
