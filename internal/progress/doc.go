// Package progress holds the in-memory projection of job state that clients
// observe.
//
// A Store keeps one Snapshot per job, applies progress and status writes
// through its own API, and fans every applied write out to per-job
// Subscriptions and to process-wide Sinks. A Subscription yields the current
// snapshot first, then live events, and ends with exactly one terminal event
// followed by io.EOF. Terminal snapshots are retained until Cleanup removes
// them.
package progress
