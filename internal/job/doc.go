// Package job defines the status vocabulary and record shapes shared by the
// execution engine, the progress store, and the persisted queue.
//
// Status values are lowercase strings on the wire and in SQLite. ParseStatus
// accepts the historical aliases older clients and encoders still emit
// ("done", "canceled", "in_progress", mixed case) so every boundary can
// normalize input through one function.
//
// Resolve is the single place the Completed-requires-output rule lives. Every
// writer that can move a job into a terminal state calls it before persisting
// or broadcasting.
package job
