// Package heartbeat implements liveness detection over the connection
// registry: a fixed-period flip-then-probe sweep that evicts a connection
// after two consecutive unacknowledged pings.
package heartbeat
