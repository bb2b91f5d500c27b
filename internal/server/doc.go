// Package server owns the WebSocket listener and assembles the messaging
// core: it upgrades connections, registers them, runs their read loops,
// and wires the control protocol (greeting, ping/pong, subscriptions,
// event bridge) plus the store-backed chat handlers.
package server
