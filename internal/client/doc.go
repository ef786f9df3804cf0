// Package client talks to the reelkit daemon's HTTP API.
//
// Client wraps every endpoint the CLI and the progress tracker use. Status
// payloads are decoded through api.JobStatus, so legacy field spellings from
// older daemons normalize transparently. Events opens the per-job
// server-sent-event feed and EventStream yields typed api.StreamEvent values;
// an unparseable frame is reported as ErrMalformedEvent, which callers treat
// as a transport problem rather than a job failure.
package client
