package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/router"
)

// Client is a reconnecting hub client. It shares the envelope codec and
// the handler table with the server side, so dispatch ordering and
// failure isolation behave identically on both ends.
type Client struct {
	cfg    Config
	logger *slog.Logger
	table  *router.Table

	// Write serialization
	writeMu sync.Mutex

	// State machine
	mu             sync.Mutex
	state          State
	conn           *websocket.Conn
	attempts       int
	manual         bool // Disconnect called: no further retries
	assignedID     string
	listeners      []StateListener
	heartbeatDone  chan struct{}
	reconnectTimer *time.Timer
	ctx            context.Context
}

// New creates a client in the disconnected state and registers the
// built-in control handlers on its table.
func New(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	cfg.applyDefaults()

	c := &Client{
		cfg:    cfg,
		logger: logger,
		table:  router.NewTable(logger),
		state:  StateDisconnected,
		ctx:    context.Background(),
	}
	c.registerControlHandlers()
	return c
}

// Table exposes the handler table for application registrations.
func (c *Client) Table() *router.Table { return c.table }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// AssignedID returns the identity the server assigned in its greeting
// ("" before the greeting arrives).
func (c *Client) AssignedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignedID
}

// OnStateChange registers a listener invoked synchronously on every
// transition, in registration order. A panicking listener is isolated.
func (c *Client) OnStateChange(fn StateListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

// Connect opens the transport. Valid only from the disconnected and
// error states. On failure the client moves to the error state and, if
// automatic reconnection is enabled, schedules a retry.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateDisconnected && c.state != StateError {
		s := c.state
		c.mu.Unlock()
		return fmt.Errorf("%w: connect from %s", ErrInvalidState, s)
	}
	old := c.state
	c.state = StateConnecting
	c.manual = false
	c.ctx = ctx
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()
	c.notify(listeners, old, StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		c.logger.Warn("dial failed", "url", c.cfg.URL, "error", err)
		c.setState(StateError)
		c.scheduleReconnect()
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	if c.manual {
		// Disconnect raced the dial; honor it.
		c.mu.Unlock()
		conn.Close()
		c.setState(StateDisconnected)
		return ErrNotConnected
	}
	c.conn = conn
	c.attempts = 0
	c.heartbeatDone = make(chan struct{})
	done := c.heartbeatDone
	c.mu.Unlock()
	c.setState(StateConnected)

	go c.readLoop(ctx, conn)
	go c.heartbeatLoop(done)

	c.logger.Info("connected", "url", c.cfg.URL)
	return nil
}

// Disconnect closes the transport and cancels all timers. Valid from any
// state; terminal with respect to automatic reconnection.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	c.manual = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	c.stopHeartbeatLocked()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.setState(StateDisconnected)
	return nil
}

// Send builds an envelope of the given type and writes it out.
func (c *Client) Send(msgType string, data any) error {
	env, err := envelope.New(msgType, data)
	if err != nil {
		return err
	}
	return c.SendEnvelope(env)
}

// SendEnvelope writes one envelope to the server.
func (c *Client) SendEnvelope(env *envelope.Envelope) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// ID implements router.Peer: the server-assigned identity, or a local
// placeholder before the greeting arrives.
func (c *Client) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.assignedID != "" {
		return c.assignedID
	}
	return "client"
}

// peerAdapter presents the client as a router.Peer, bridging the table's
// Send(env) shape to the client's SendEnvelope.
type peerAdapter struct{ c *Client }

func (p peerAdapter) ID() string                        { return p.c.ID() }
func (p peerAdapter) Send(env *envelope.Envelope) error { return p.c.SendEnvelope(env) }

// Subscribe asks the server to narrow this client's event subscriptions.
func (c *Client) Subscribe(eventTypes []string) error {
	return c.Send(envelope.TypeSubscribe, envelope.SubscribeData{EventTypes: eventTypes})
}

// Unsubscribe removes event types from this client's subscriptions.
func (c *Client) Unsubscribe(eventTypes []string) error {
	return c.Send(envelope.TypeUnsubscribe, envelope.SubscribeData{EventTypes: eventTypes})
}

// EmitEvent publishes a domain event through the server's event bridge.
func (c *Client) EmitEvent(eventType string, data any, metadata map[string]string) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal event data: %w", err)
	}
	return c.Send(envelope.TypeEvent, envelope.EventData{
		EventType: eventType,
		Data:      raw,
		Metadata:  metadata,
	})
}

// readLoop reads and dispatches inbound envelopes until the transport
// drops.
func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(err)
			return
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.logger.Warn("malformed message from server", "error", err)
			if sendErr := c.SendEnvelope(envelope.NewError(err.Error(), "decode_error")); sendErr != nil {
				c.logger.Debug("failed to report decode error", "error", sendErr)
			}
			continue
		}

		c.table.Dispatch(ctx, peerAdapter{c}, env)
	}
}

// handleDrop reacts to a transport close or error: cancel the heartbeat,
// move to disconnected, and schedule a retry if allowed.
func (c *Client) handleDrop(err error) {
	c.mu.Lock()
	if c.manual {
		// Disconnect already drove the transition.
		c.mu.Unlock()
		return
	}
	c.stopHeartbeatLocked()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.logger.Warn("connection dropped", "error", err)
	c.setState(StateDisconnected)
	c.scheduleReconnect()
}

// scheduleReconnect arms the retry timer unless reconnection is disabled,
// Disconnect was called, or the attempt ceiling is reached.
func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.cfg.AutoReconnect || c.manual {
		return
	}
	if c.attempts >= c.cfg.MaxReconnectAttempts {
		c.logger.Warn("reconnect attempts exhausted",
			"attempts", c.attempts,
			"max", c.cfg.MaxReconnectAttempts,
		)
		return
	}

	c.attempts++
	attempt := c.attempts
	ctx := c.ctx
	c.reconnectTimer = time.AfterFunc(c.cfg.ReconnectInterval, func() {
		c.logger.Info("reconnecting", "attempt", attempt, "max", c.cfg.MaxReconnectAttempts)
		if err := c.Connect(ctx); err != nil {
			c.logger.Warn("reconnect failed", "attempt", attempt, "error", err)
		}
	})
}

// heartbeatLoop sends ping envelopes on a fixed period until cancelled.
func (c *Client) heartbeatLoop(done chan struct{}) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := c.Send(envelope.TypePing, nil); err != nil {
				// The read loop notices the drop; just log here.
				c.logger.Debug("heartbeat ping failed", "error", err)
			}
		}
	}
}

func (c *Client) stopHeartbeatLocked() {
	if c.heartbeatDone != nil {
		close(c.heartbeatDone)
		c.heartbeatDone = nil
	}
}

// setState transitions the machine and notifies listeners outside the
// lock, in registration order.
func (c *Client) setState(to State) {
	c.mu.Lock()
	old := c.state
	if old == to {
		c.mu.Unlock()
		return
	}
	c.state = to
	listeners := c.snapshotListenersLocked()
	c.mu.Unlock()

	c.notify(listeners, old, to)
}

func (c *Client) snapshotListenersLocked() []StateListener {
	out := make([]StateListener, len(c.listeners))
	copy(out, c.listeners)
	return out
}

func (c *Client) notify(listeners []StateListener, old, to State) {
	c.logger.Debug("state change", "from", old, "to", to)
	for _, fn := range listeners {
		c.safeNotify(fn, old, to)
	}
}

// safeNotify isolates a panicking listener from its siblings and from
// the state machine.
func (c *Client) safeNotify(fn StateListener, old, to State) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Warn("state listener panicked", "from", old, "to", to, "panic", r)
		}
	}()
	fn(old, to)
}

// registerControlHandlers wires the reserved message types.
func (c *Client) registerControlHandlers() {
	c.table.Register(envelope.TypeConnection, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		var data envelope.ConnectionData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return fmt.Errorf("malformed connection greeting: %w", err)
		}
		c.mu.Lock()
		c.assignedID = data.ID
		c.mu.Unlock()
		c.logger.Info("identity assigned", "conn_id", data.ID)
		return nil
	}, 0)

	c.table.Register(envelope.TypePing, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		return c.Send(envelope.TypePong, nil)
	}, 0)

	c.table.Register(envelope.TypePong, func(ctx context.Context, from router.Peer, env *envelope.Envelope) error {
		return nil
	}, 0)
}
