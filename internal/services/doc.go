// Package services defines shared utilities consumed by the execution engine
// and its external integrations.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent terminal statuses (failed vs cancelled).
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay uniform.
package services
