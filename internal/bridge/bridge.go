package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/ksawyer/wirehub/internal/broadcast"
	"github.com/ksawyer/wirehub/internal/bus"
	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/router"
)

// Lifecycle event types emitted when connections come and go.
const (
	EventClientConnected    = "client.connected"
	EventClientDisconnected = "client.disconnected"
)

// Bridge is the two-way seam between the messaging core and the domain
// event bus. Bus emissions become subscription-filtered broadcasts;
// inbound "event" envelopes become bus emissions tagged with the
// originating connection identity.
type Bridge struct {
	bus    *bus.Bus
	bcast  *broadcast.Broadcaster
	logger *slog.Logger

	subID int
}

// New creates a bridge between the given bus and broadcaster.
func New(b *bus.Bus, bc *broadcast.Broadcaster, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{bus: b, bcast: bc, logger: logger}
}

// Start subscribes the bridge to all bus events for outbound broadcast.
func (br *Bridge) Start() {
	br.subID = br.bus.Subscribe(bus.Wildcard, br.broadcastPayload)
}

// Stop detaches the bridge from the bus.
func (br *Bridge) Stop() {
	br.bus.Unsubscribe(br.subID)
}

// broadcastPayload forwards one bus emission to subscribed connections,
// preserving every payload field.
func (br *Bridge) broadcastPayload(p bus.Payload) {
	raw, err := json.Marshal(p.Data)
	if err != nil {
		br.logger.Warn("event data not serializable, dropping", "event_type", p.Type, "error", err)
		return
	}

	ed := envelope.EventData{
		EventType: p.Type,
		Data:      raw,
		Source:    p.Source,
		Timestamp: p.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		Metadata:  p.Metadata,
	}
	n, err := br.bcast.BroadcastEventData(ed)
	if err != nil {
		br.logger.Warn("event broadcast failed", "event_type", p.Type, "error", err)
		return
	}
	br.logger.Debug("event broadcast", "event_type", p.Type, "source", p.Source, "delivered", n)
}

// HandleInbound is the handler for "event" envelopes from clients: it
// re-emits the wrapped event onto the bus with the sender's identity as
// source. Register it on the server handler table for envelope.TypeEvent.
func (br *Bridge) HandleInbound(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
	var ed envelope.EventData
	if err := json.Unmarshal(env.Data, &ed); err != nil {
		return fmt.Errorf("malformed event payload: %w", err)
	}
	if ed.EventType == "" {
		return fmt.Errorf("event payload missing eventType")
	}

	br.bus.Emit(ed.EventType, ed.Data, from.ID(), ed.Metadata)
	return nil
}

// NotifyConnected emits a lifecycle event for a newly accepted connection.
func (br *Bridge) NotifyConnected(id string, metadata map[string]string) {
	br.bus.Emit(EventClientConnected, map[string]string{"id": id}, id, metadata)
}

// NotifyDisconnected emits a lifecycle event for a removed connection.
// Transport and liveness failures are not reported to the affected client
// (it is unreachable); this emission is how the rest of the application
// observes them.
func (br *Bridge) NotifyDisconnected(id string) {
	br.bus.Emit(EventClientDisconnected, map[string]string{"id": id}, id, nil)
}
