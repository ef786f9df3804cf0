// Package logging assembles structured slog loggers and formatting helpers used
// across reelkit services.
//
// It owns the configurable console/JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so engine code can tag log lines
// with job IDs, stages, and correlation IDs. A no-op logger is provided for
// tests and optional wiring.
package logging
