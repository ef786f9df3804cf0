// Package api defines the wire-format types shared by the reelkit daemon's
// HTTP surface and the clients that consume it.
//
// # Key Types
//
// JobStatus: transport representation of a job snapshot or persisted job row.
//
// StreamEvent: one typed entry of the per-job progress feed (connected,
// progress, completed, failed, cancelled).
//
// DaemonStatus, SchedulerSettings, OutputInfo, CancelResponse: payloads for
// the status, scheduler, output-existence and cancel endpoints.
//
// # Converters
//
// FromSnapshot: progress.Snapshot -> JobStatus.
//
// FromQueueJob: queue.Job -> JobStatus.
//
// FromEvent: progress.Event -> StreamEvent, mapping terminal snapshots to the
// matching terminal event type.
//
// # Field aliasing
//
// Older encoders and dashboards report the same concepts under different
// names ("state" vs "status", "progress_percent" vs "percent", "output" vs
// "outputPath") and in arbitrary case. JobStatus.UnmarshalJSON accepts all of
// them, and ParseStatus normalizes the status value itself. This shim is part
// of the contract and must keep accepting every alias listed in aliases.go.
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
package api
