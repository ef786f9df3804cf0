// Package scheduler admits queued jobs into the engine.
//
// Loop.Run ticks on the live poll interval. Each tick re-reads the live
// settings, computes free slots, claims jobs in priority then FIFO order, and
// starts them with a short spacing between admissions. Tick errors are logged
// and followed by a back-off; the loop only exits when its context ends. A
// second goroutine triggers the stuck job sweeper on its own cadence.
package scheduler
