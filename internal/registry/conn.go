package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/ksawyer/wirehub/internal/envelope"
)

// Wildcard is the subscription sentinel meaning "all event types".
const Wildcard = "*"

// Transport is the write side of an accepted connection. Implementations
// must serialize their own writes.
type Transport interface {
	// Write sends one wire message.
	Write(data []byte) error

	// Close tears the transport down. Closing an already-broken
	// transport may return an error; callers evicting a connection
	// ignore it.
	Close() error
}

// Conn is the control-plane record for one accepted connection: identity,
// liveness flag, subscription set and metadata, with the transport handle
// as one field. Handlers hold the identity string, not the record.
type Conn struct {
	id        string
	transport Transport
	meta      map[string]string

	mu    sync.Mutex
	alive bool
	subs  map[string]struct{}
}

// NewConn creates a connection record with a generated identity, the
// liveness flag set, and the default subscription set {*}. Metadata is
// read-only after creation.
func NewConn(transport Transport, meta map[string]string) *Conn {
	m := make(map[string]string, len(meta))
	for k, v := range meta {
		m[k] = v
	}
	return &Conn{
		id:        uuid.NewString(),
		transport: transport,
		meta:      m,
		alive:     true,
		subs:      map[string]struct{}{Wildcard: {}},
	}
}

// ID returns the connection identity, unique for the process lifetime.
func (c *Conn) ID() string { return c.id }

// Meta returns a metadata value ("" if unset).
func (c *Conn) Meta(key string) string { return c.meta[key] }

// Alive reports the liveness flag.
func (c *Conn) Alive() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.alive
}

// SetAlive sets the liveness flag. The heartbeat sweep flips it to false
// before probing; a pong flips it back to true.
func (c *Conn) SetAlive(alive bool) {
	c.mu.Lock()
	c.alive = alive
	c.mu.Unlock()
}

// Subscribe replaces the subscription set with the given event types.
// An empty list resets to the wildcard default.
func (c *Conn) Subscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.subs = make(map[string]struct{}, len(eventTypes))
	if len(eventTypes) == 0 {
		c.subs[Wildcard] = struct{}{}
		return
	}
	for _, t := range eventTypes {
		c.subs[t] = struct{}{}
	}
}

// Unsubscribe removes the given event types from the subscription set.
func (c *Conn) Unsubscribe(eventTypes []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range eventTypes {
		delete(c.subs, t)
	}
}

// SubscribedTo reports whether the connection wants events of the given
// type, either explicitly or via the wildcard.
func (c *Conn) SubscribedTo(eventType string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[Wildcard]; ok {
		return true
	}
	_, ok := c.subs[eventType]
	return ok
}

// Subscriptions returns a copy of the current subscription set.
func (c *Conn) Subscriptions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.subs))
	for t := range c.subs {
		out = append(out, t)
	}
	return out
}

// Send encodes and writes one envelope to the transport.
func (c *Conn) Send(env *envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	return c.transport.Write(data)
}

// Write sends pre-encoded wire bytes. Broadcast encodes once and writes
// the same bytes to every target.
func (c *Conn) Write(data []byte) error {
	return c.transport.Write(data)
}

// Close tears down the transport.
func (c *Conn) Close() error {
	return c.transport.Close()
}
