// Package registry tracks live connections and their control-plane state.
//
// Each accepted transport session gets a Conn record: a generated uuid
// identity, a liveness flag maintained by the heartbeat sweep, a
// subscription set (default {*}) and read-only metadata. The Registry is
// the only shared mutable structure in the messaging core; it is mutex
// guarded so the heartbeat's snapshot-then-mutate sweep stays atomic.
package registry
