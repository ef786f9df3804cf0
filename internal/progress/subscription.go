package progress

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned by Next after the subscription or its store closed.
var ErrClosed = errors.New("progress: subscription closed")

const defaultMailboxSize = 32

// Subscription is a per-job event stream. Intermediate events are buffered in
// a bounded mailbox that drops the oldest intermediate event on overflow; the
// terminal event is held separately and always delivered last.
type Subscription struct {
	id     string
	jobID  string
	detach func(*Subscription)

	mu       sync.Mutex
	pending  []Event
	terminal *Event
	capacity int
	dropped  int
	done     bool
	closed   bool
	notify   chan struct{}
}

func newSubscription(id, jobID string, capacity int, detach func(*Subscription)) *Subscription {
	if capacity <= 0 {
		capacity = defaultMailboxSize
	}
	return &Subscription{
		id:       id,
		jobID:    jobID,
		detach:   detach,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
	}
}

// ID returns the subscription identifier.
func (s *Subscription) ID() string { return s.id }

// JobID returns the job the subscription follows.
func (s *Subscription) JobID() string { return s.jobID }

// Dropped reports how many intermediate events were coalesced away.
func (s *Subscription) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}

// deliver never blocks. It reports false once the subscription has accepted
// its terminal event or was closed.
func (s *Subscription) deliver(evt Event) bool {
	s.mu.Lock()
	if s.closed || s.terminal != nil {
		s.mu.Unlock()
		return false
	}
	if evt.IsTerminal() {
		e := evt
		s.terminal = &e
	} else {
		if len(s.pending) >= s.capacity {
			copy(s.pending, s.pending[1:])
			s.pending = s.pending[:len(s.pending)-1]
			s.dropped++
		}
		s.pending = append(s.pending, evt)
	}
	s.mu.Unlock()
	s.wake()
	return true
}

func (s *Subscription) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Next blocks until an event is available. After the terminal event has been
// returned it yields io.EOF. ErrClosed is returned once the subscription is
// closed, and the context error when ctx ends first.
func (s *Subscription) Next(ctx context.Context) (Event, error) {
	for {
		s.mu.Lock()
		switch {
		case len(s.pending) > 0:
			evt := s.pending[0]
			s.pending = s.pending[1:]
			s.mu.Unlock()
			return evt, nil
		case s.terminal != nil && !s.done:
			evt := *s.terminal
			s.done = true
			s.mu.Unlock()
			return evt, nil
		case s.done:
			s.mu.Unlock()
			return Event{}, io.EOF
		case s.closed:
			s.mu.Unlock()
			return Event{}, ErrClosed
		}
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-s.notify:
		}
	}
}

// Close detaches the subscription from its store. It is safe to call more
// than once.
func (s *Subscription) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()
	s.wake()
	if s.detach != nil {
		s.detach(s)
	}
}

func (s *Subscription) closeFromStore() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.wake()
}
