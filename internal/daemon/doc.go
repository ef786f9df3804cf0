// Package daemon coordinates the long-running reelkit process.
//
// It wires configuration, the SQLite job store, the in-memory progress store,
// the execution engine, the progress bridge, the stuck job sweeper, the
// admission loop and the HTTP API into a single lifecycle, with flock-based
// locking to prevent multiple instances against one data directory.
//
// Keep orchestration here: scheduling, execution and distribution logic live
// in their own packages while the daemon focuses on startup, recovery,
// shutdown and high level coordination.
package daemon
