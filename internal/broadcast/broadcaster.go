package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/registry"
)

// Broadcaster fans envelopes out to live connections, filtered by each
// connection's subscription set for event broadcasts. Delivery to each
// live-at-call-time connection is attempted exactly once per call; no
// cross-client ordering is promised.
type Broadcaster struct {
	reg    *registry.Registry
	logger *slog.Logger

	// onEvict is called after a connection with a broken transport has
	// been removed.
	onEvict func(id string)
}

// New creates a broadcaster over the given registry.
func New(reg *registry.Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{reg: reg, logger: logger}
}

// OnEvict registers a callback invoked with the identity of every
// connection evicted on a write failure. Must be set before use.
func (b *Broadcaster) OnEvict(fn func(id string)) {
	b.onEvict = fn
}

// Broadcast delivers the envelope to every live connection except the
// excluded identity, unconditionally. Returns the delivered count.
func (b *Broadcaster) Broadcast(env *envelope.Envelope, excludeID string) int {
	return b.fanOut(env, func(c *registry.Conn) bool {
		return c.ID() != excludeID
	})
}

// BroadcastEvent wraps the payload into an "event" envelope and delivers
// it only to connections subscribed to eventType (or the wildcard).
func (b *Broadcaster) BroadcastEvent(eventType string, data any) (int, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return 0, fmt.Errorf("marshal event data: %w", err)
	}
	return b.BroadcastEventData(envelope.EventData{
		EventType: eventType,
		Data:      raw,
	})
}

// BroadcastEventData is the pre-wrapped form of BroadcastEvent, used by
// the event bridge to carry source, timestamp and metadata through.
func (b *Broadcaster) BroadcastEventData(ed envelope.EventData) (int, error) {
	env, err := envelope.New(envelope.TypeEvent, ed)
	if err != nil {
		return 0, err
	}
	n := b.fanOut(env, func(c *registry.Conn) bool {
		return c.SubscribedTo(ed.EventType)
	})
	return n, nil
}

// SendTo delivers one envelope to a single connection. Reports whether
// the target was found and the write succeeded.
func (b *Broadcaster) SendTo(id string, env *envelope.Envelope) bool {
	c, ok := b.reg.Find(id)
	if !ok {
		return false
	}
	if err := c.Send(env); err != nil {
		b.logger.Warn("unicast write failed, evicting", "conn_id", id, "error", err)
		b.evict(c)
		return false
	}
	return true
}

// fanOut attempts delivery to a snapshot of current connections that pass
// the filter. A write failure is a transport failure: the connection is
// evicted and no reply is attempted.
func (b *Broadcaster) fanOut(env *envelope.Envelope, want func(*registry.Conn) bool) int {
	data, err := envelope.Encode(env)
	if err != nil {
		b.logger.Error("failed to encode broadcast envelope", "type", env.Type, "error", err)
		return 0
	}

	delivered := 0
	b.reg.ForEach(func(c *registry.Conn) {
		if !want(c) {
			return
		}
		if err := c.Write(data); err != nil {
			b.logger.Warn("broadcast write failed, evicting", "conn_id", c.ID(), "error", err)
			b.evict(c)
			return
		}
		delivered++
	})
	return delivered
}

func (b *Broadcaster) evict(c *registry.Conn) {
	b.reg.Remove(c.ID())
	if err := c.Close(); err != nil {
		b.logger.Debug("close on evicted connection", "conn_id", c.ID(), "error", err)
	}
	if b.onEvict != nil {
		b.onEvict(c.ID())
	}
}
