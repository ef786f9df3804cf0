// Package queue persists composition jobs in SQLite and exposes helpers for
// driving their lifecycle.
//
// The Store manages database connections, embedded migrations, stats queries,
// heartbeat tracking, priority-then-FIFO claiming, and the conditional status
// transitions the engine and the stuck job sweeper race on. Every terminal
// write passes through job.Resolve, so a completed row always carries an
// output path.
//
// The database holds in-flight jobs plus a bounded window of history;
// PurgeTerminalBefore trims the rest.
package queue
