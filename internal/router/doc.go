// Package router implements the handler table: per-type, priority-ordered
// handler chains with sequential dispatch and failure isolation.
//
// The same table type runs on both ends of a connection. Handlers for one
// message run strictly one after another; a handler that returns an error
// or panics yields one error envelope back to the sender and the rest of
// the chain still executes.
package router
