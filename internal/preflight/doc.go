// Package preflight provides readiness checks for the filesystem paths,
// binaries and services reelkit depends on.
//
// The daemon runs RunAll at startup and logs every failed check; the CLI
// "reelkit status" command renders the same results as a table. Checks for
// optional features (the Redis relay) are skipped when the feature is off.
package preflight
