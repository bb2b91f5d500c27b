// Package bus is a minimal in-process domain event bus: emit with a
// source tag and optional metadata, subscribe by event type or wildcard.
package bus
