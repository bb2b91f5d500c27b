// Package store persists chat messages behind a thin repository
// interface: a pgx-backed Postgres implementation and an in-memory one
// for tests and database-less runs.
package store
