// Package client implements the reconnecting hub client: an explicit
// connect/backoff/heartbeat state machine over a WebSocket transport,
// dispatching inbound envelopes through the shared handler table.
package client
