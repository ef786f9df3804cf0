// Package config loads, normalizes, and validates reelkit configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads .env files, and applies REELKIT_*
// environment overrides. The Config type centralizes every knob the daemon
// and CLI need: scheduler cadence, job timeouts, stall thresholds, retention
// windows, and client tracker tuning.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths and clear validation errors.
package config
