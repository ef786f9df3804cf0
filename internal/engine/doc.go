// Package engine executes admitted composition jobs.
//
// The Engine owns the authoritative job.Record for every job it runs. Each job
// runs on its own goroutine with panic isolation, a bounded initialization
// step, an overall wall-clock timeout, periodic persisted heartbeats, and
// cooperative cancellation. A job only completes when the encoder's artifact
// exists on disk with at least the configured minimum size. Every transition
// is reported to a Listener; terminal records stay in the engine until the
// listener acknowledges them with MarkSynced.
package engine
