package heartbeat

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/ksawyer/wirehub/internal/envelope"
	"github.com/ksawyer/wirehub/internal/registry"
)

// DefaultInterval is the sweep period.
const DefaultInterval = 30 * time.Second

// Monitor evicts unresponsive connections without relying on transport
// level timeouts. Each sweep first evicts connections whose liveness flag
// is still false from the previous tick, then flips the flag to false on
// the survivors and probes them with a ping envelope. A connection must
// acknowledge within one full period to survive; one missed probe is
// tolerated, two consecutive misses evict.
type Monitor struct {
	reg      *registry.Registry
	interval time.Duration
	logger   *slog.Logger

	// onEvict is called after a connection has been removed, with its
	// identity. Used to surface disconnect notifications.
	onEvict func(id string)

	mu      sync.Mutex
	done    chan struct{}
	stopped sync.WaitGroup
}

// NewMonitor creates a monitor over the given registry. A zero interval
// means DefaultInterval.
func NewMonitor(reg *registry.Registry, interval time.Duration, logger *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		reg:      reg,
		interval: interval,
		logger:   logger,
	}
}

// OnEvict registers a callback invoked with the identity of every evicted
// connection. Must be set before Start.
func (m *Monitor) OnEvict(fn func(id string)) {
	m.onEvict = fn
}

// Start launches the periodic sweep. It returns immediately; the sweep
// runs until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.done != nil {
		m.mu.Unlock()
		return
	}
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.stopped.Add(1)
	go func() {
		defer m.stopped.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.logger.Info("heartbeat monitor started", "interval", m.interval)

		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

// Stop halts the sweep and waits for it to finish.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return
	}
	close(m.done)
	m.done = nil
	m.mu.Unlock()

	m.stopped.Wait()
	m.logger.Info("heartbeat monitor stopped")
}

// sweep performs one toggle-then-probe pass over a registry snapshot.
// No suspension occurs mid-sweep: the flag flip and the probe happen
// before the next connection is examined.
func (m *Monitor) sweep() {
	ping, err := envelope.New(envelope.TypePing, nil)
	if err != nil {
		m.logger.Error("failed to build ping envelope", "error", err)
		return
	}

	m.reg.ForEach(func(c *registry.Conn) {
		if !c.Alive() {
			m.logger.Info("connection missed two probes, evicting", "conn_id", c.ID())
			m.evict(c)
			return
		}

		c.SetAlive(false)
		if err := c.Send(ping); err != nil {
			// Probe write failed: the transport is already broken.
			m.logger.Warn("probe write failed, evicting", "conn_id", c.ID(), "error", err)
			m.evict(c)
		}
	})
}

// evict removes the connection and force-closes its transport. Close
// errors are swallowed: the transport may already be broken and eviction
// always proceeds.
func (m *Monitor) evict(c *registry.Conn) {
	m.reg.Remove(c.ID())
	if err := c.Close(); err != nil {
		m.logger.Debug("close on evicted connection", "conn_id", c.ID(), "error", err)
	}
	if m.onEvict != nil {
		m.onEvict(c.ID())
	}
}
