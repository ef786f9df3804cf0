// Package httpapi serves the reelkit daemon's HTTP surface: the per-job
// progress feed (server-sent events), job status, output existence, cancel,
// retry, submission, listing, daemon status and live scheduler settings.
//
// Routes are mounted on a chi router. When an API token is configured every
// route requires "Authorization: Bearer <token>".
//
// The progress feed opens a subscription on the progress store, emits a
// "connected" acknowledgment, then the current snapshot, then every
// subsequent update, and closes after the terminal event. A job that has been
// submitted but not yet admitted has no snapshot; the feed waits for it.
package httpapi
