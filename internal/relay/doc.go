// Package relay republishes progress store events to a Redis pub/sub
// channel so dashboards outside the daemon can follow jobs.
package relay
