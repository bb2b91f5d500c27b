// Package broadcast delivers outbound envelopes to interested
// connections: unconditional fan-out, subscription-filtered event
// broadcast, and unicast by identity.
package broadcast
