// Package bridge forwards engine transitions into the progress store.
//
// Progress and start events are applied synchronously. Terminal records are
// queued and applied by Run with bounded retry; a record is acknowledged back
// to the engine only after the store holds a terminal snapshot for it, and a
// periodic reconciliation pass re-forwards anything still unacknowledged.
package bridge
