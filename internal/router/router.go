package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ksawyer/wirehub/internal/envelope"
)

// Peer is the originating end of a dispatched message: something with an
// identity that error replies can be sent back to. Both server-side
// connections and the client satisfy it.
type Peer interface {
	ID() string
	Send(env *envelope.Envelope) error
}

// Handler processes one decoded envelope from a peer. A returned error
// (or a panic) is reported to the peer as an error envelope; the rest of
// the chain still runs.
type Handler func(ctx context.Context, from Peer, env *envelope.Envelope) error

// registration is one (priority, sequence, handler) entry in a chain.
type registration struct {
	id       int
	priority int
	seq      int
	fn       Handler
}

// Table maps message types to priority-ordered handler chains and
// dispatches decoded envelopes through them. It is an explicit instance,
// not a process-wide singleton, so tests can isolate their own tables.
type Table struct {
	logger *slog.Logger

	mu      sync.RWMutex
	chains  map[string][]registration
	nextID  int
	nextSeq int
}

// NewTable creates an empty handler table.
func NewTable(logger *slog.Logger) *Table {
	if logger == nil {
		logger = slog.Default()
	}
	return &Table{
		logger: logger,
		chains: make(map[string][]registration),
	}
}

// Register adds a handler for a message type. Higher priority runs first;
// equal priorities run in registration order. The returned id can be
// passed to Remove.
func (t *Table) Register(msgType string, fn Handler, priority int) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextID++
	t.nextSeq++
	chain := append(t.chains[msgType], registration{
		id:       t.nextID,
		priority: priority,
		seq:      t.nextSeq,
		fn:       fn,
	})

	// Stable sort keeps registration order among equal priorities.
	sort.SliceStable(chain, func(i, j int) bool {
		return chain[i].priority > chain[j].priority
	})
	t.chains[msgType] = chain

	return t.nextID
}

// Unregister removes the entire chain for a message type.
func (t *Table) Unregister(msgType string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.chains, msgType)
}

// Remove deletes one registration by id. Removing the last handler for a
// type deletes the type entry entirely, so Has stays accurate.
func (t *Table) Remove(msgType string, id int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	chain, ok := t.chains[msgType]
	if !ok {
		return false
	}
	for i, reg := range chain {
		if reg.id != id {
			continue
		}
		chain = append(chain[:i], chain[i+1:]...)
		if len(chain) == 0 {
			delete(t.chains, msgType)
		} else {
			t.chains[msgType] = chain
		}
		return true
	}
	return false
}

// Has reports whether any handler is registered for a message type.
func (t *Table) Has(msgType string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.chains[msgType]
	return ok
}

// Dispatch runs the chain for the envelope's type, sequentially in chain
// order. An unknown type is a logged no-op. A failing handler produces
// exactly one error envelope back to the peer and never stops its
// siblings: a later handler starts only after the earlier one finished,
// whether it succeeded or not.
func (t *Table) Dispatch(ctx context.Context, from Peer, env *envelope.Envelope) {
	t.mu.RLock()
	chain := make([]registration, len(t.chains[env.Type]))
	copy(chain, t.chains[env.Type])
	t.mu.RUnlock()

	if len(chain) == 0 {
		t.logger.Debug("no handlers for message type", "type", env.Type, "from", from.ID())
		return
	}

	for _, reg := range chain {
		if err := t.invoke(ctx, reg.fn, from, env); err != nil {
			t.logger.Warn("handler failed",
				"type", env.Type,
				"from", from.ID(),
				"priority", reg.priority,
				"error", err,
			)
			reply := envelope.NewError(err.Error(), "handler_error")
			if sendErr := from.Send(reply); sendErr != nil {
				t.logger.Warn("failed to send error reply", "from", from.ID(), "error", sendErr)
			}
		}
	}
}

// invoke runs one handler, converting a panic into an error so the chain
// survives it.
func (t *Table) invoke(ctx context.Context, fn Handler, from Peer, env *envelope.Envelope) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return fn(ctx, from, env)
}
