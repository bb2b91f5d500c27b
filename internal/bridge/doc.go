// Package bridge adapts the domain event bus onto the messaging core:
// bus emissions fan out to subscribed connections, and inbound "event"
// envelopes are re-emitted on the bus tagged with their source connection.
package bridge
