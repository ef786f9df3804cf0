// Package tracker follows one job from the client side until it reaches a
// state the caller can trust.
//
// A Tracker moves through Connecting, Streaming, Polling and Terminal.
// It prefers the daemon's push feed and drops to adaptive polling when the
// feed cannot be opened in time, closes early, or stops showing progress.
// While polling it re-evaluates staleness every few polls; a stale job enters
// the Stuck substate, where a job near completion gets an output-existence
// check before the caller's Decider is asked to wait, cancel or retry.
//
// A "completed" status without an output path is never accepted as terminal.
//
// Backoff and staleness are pure functions (NextPollInterval, StaleThreshold,
// IsStale) so they can be tested without timers.
package tracker
