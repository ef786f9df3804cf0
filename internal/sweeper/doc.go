// Package sweeper force-fails persisted running jobs that stopped advancing.
//
// A sweep compares each running job's last recorded activity against a
// stage-aware threshold and marks overdue jobs failed in storage only; it does
// not signal the encoder. The same pass purges terminal jobs past the
// persisted retention window and expired progress snapshots.
package sweeper
