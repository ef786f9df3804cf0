// Command reelkit runs the composition daemon and drives it over HTTP.
//
// "reelkit daemon" starts the long-running process. The remaining commands
// (submit, watch, status, jobs, cancel, retry, output, scheduler) talk to a
// running daemon through its API. "reelkit config init" writes a sample
// configuration file.
package main
