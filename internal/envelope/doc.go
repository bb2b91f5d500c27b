// Package envelope defines the wire message format and its JSON codec.
//
// Every message exchanged over a connection is an Envelope:
//
//	{"type": "chat.message", "data": {...}, "timestamp": "...", "id": "..."}
//
// Type is required and non-empty; timestamp and id are filled in by the
// sender when absent. Reserved types (connection, ping, pong, subscribe,
// unsubscribe, subscribed, unsubscribed, event, error) carry the control
// protocol; everything else is routed to application handlers.
package envelope
