package progress

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Coffee285/AVS-sub001/internal/job"
	"github.com/Coffee285/AVS-sub001/internal/logging"
)

// ErrNotFound is returned when a write targets a job with no snapshot.
var ErrNotFound = errors.New("progress: snapshot not found")

// Sink receives every event the store publishes. Publish is called outside
// the store's locks; a slow sink delays only the writer that triggered it.
type Sink interface {
	Publish(Event)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Event)

// Publish calls f(evt).
func (f SinkFunc) Publish(evt Event) { f(evt) }

// Option customizes a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMailboxSize sets the per-subscription buffer of intermediate events.
func WithMailboxSize(size int) Option {
	return func(s *Store) {
		if size > 0 {
			s.mailboxSize = size
		}
	}
}

// entry serializes writes and notifications for one job id. snap is nil
// while subscribers wait for a job that has not been created yet.
type entry struct {
	mu   sync.Mutex
	snap *Snapshot
	subs map[string]*Subscription
}

// Store holds progress snapshots and their subscribers.
type Store struct {
	logger      *slog.Logger
	now         func() time.Time
	mailboxSize int

	mu      sync.Mutex
	entries map[string]*entry
	sinks   []Sink
	seq     uint64
	closed  bool
}

// New constructs an empty store.
func New(logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		logger:      logging.NewComponentLogger(logger, "progress"),
		now:         func() time.Time { return time.Now().UTC() },
		mailboxSize: defaultMailboxSize,
		entries:     make(map[string]*entry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddSink registers a sink that receives every published event.
func (s *Store) AddSink(sink Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

func (s *Store) lookup(id string, create bool) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[id]
	if !ok && create {
		e = &entry{subs: make(map[string]*Subscription)}
		s.entries[id] = e
	}
	return e
}

func (s *Store) nextEvent(kind EventType, snap Snapshot) (Event, []Sink) {
	s.mu.Lock()
	s.seq++
	evt := Event{Sequence: s.seq, Type: kind, Snapshot: snap, Timestamp: s.now()}
	sinks := append([]Sink(nil), s.sinks...)
	s.mu.Unlock()
	return evt, sinks
}

// broadcast must be called with e.mu held. Delivery into mailboxes never
// blocks, so per-job ordering follows write order.
//
// Lock order is entry before store.
func (s *Store) broadcast(e *entry, evt Event) {
	subs := make([]*Subscription, 0, len(e.subs))
	for _, sub := range e.subs {
		subs = append(subs, sub)
	}
	for _, sub := range subs {
		s.deliver(sub, evt)
		if evt.IsTerminal() {
			delete(e.subs, sub.id)
		}
	}
}

func (s *Store) deliver(sub *Subscription, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("subscriber delivery panicked",
				logging.JobID(evt.Snapshot.JobID),
				logging.String("subscription_id", sub.id),
				logging.Any("panic", r),
			)
		}
	}()
	sub.deliver(evt)
}

func (s *Store) publish(sinks []Sink, evt Event) {
	for _, sink := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("progress sink panicked",
						logging.JobID(evt.Snapshot.JobID),
						logging.Any("panic", r),
					)
				}
			}()
			sink.Publish(evt)
		}()
	}
}

// Create inserts a snapshot for rec and notifies subscribers that registered
// before the job existed. Creating an id that already has a snapshot returns
// the existing snapshot unchanged. A terminal record is inserted as Running;
// terminal transitions go through UpdateStatus.
func (s *Store) Create(rec job.Record) Snapshot {
	id := strings.TrimSpace(rec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	rec.ID = id
	e := s.lookup(id, true)

	e.mu.Lock()
	if e.snap != nil {
		existing := *e.snap
		e.mu.Unlock()
		return existing
	}
	snap := snapshotFromRecord(rec, s.now())
	e.snap = &snap
	evt, sinks := s.nextEvent(EventCreated, snap)
	s.broadcast(e, evt)
	e.mu.Unlock()

	s.publish(sinks, evt)
	s.logger.Debug("progress snapshot created",
		logging.JobID(id),
		logging.String("status", string(snap.Status)),
	)
	return snap
}

// UpdateProgress applies a progress report. It returns false without
// broadcasting when percent and stage match the current snapshot, or when the
// snapshot is already terminal. A report against a queued snapshot moves it to
// running. Percent decreases are accepted and logged.
func (s *Store) UpdateProgress(id string, percent int, stage, message string) (bool, error) {
	e := s.lookup(id, false)
	if e == nil {
		return false, fmt.Errorf("update progress %s: %w", id, ErrNotFound)
	}

	e.mu.Lock()
	if e.snap == nil {
		e.mu.Unlock()
		return false, fmt.Errorf("update progress %s: %w", id, ErrNotFound)
	}
	cur := *e.snap
	if cur.IsTerminal() {
		e.mu.Unlock()
		s.logger.Debug("progress update ignored for terminal job",
			logging.JobID(id),
			logging.String("status", string(cur.Status)),
		)
		return false, nil
	}

	percent = job.ClampPercent(percent)
	stage = strings.TrimSpace(stage)
	now := s.now()
	next := cur
	if next.Status == job.StatusQueued {
		next.Status = job.StatusRunning
		if next.StartedAt.IsZero() {
			next.StartedAt = now
		}
	}
	if next.Status == cur.Status && percent == cur.Percent && stage == cur.Stage {
		e.mu.Unlock()
		return false, nil
	}
	regressed := cur.Status == job.StatusRunning && percent < cur.Percent
	next.Percent = percent
	next.Stage = stage
	next.Message = strings.TrimSpace(message)
	next.UpdatedAt = now
	e.snap = &next
	evt, sinks := s.nextEvent(EventProgress, next)
	s.broadcast(e, evt)
	e.mu.Unlock()

	if regressed {
		logging.WarnWithContext(s.logger, "progress moved backwards", "progress_regression",
			logging.JobID(id),
			logging.Int("previous_percent", cur.Percent),
			logging.Percent(percent),
			logging.Stage(stage),
			logging.Hint("encoder reported a lower percent; check for a stage restart"),
			logging.Impact("displayed progress will step back"),
		)
	}
	s.publish(sinks, evt)
	return true, nil
}

// UpdateStatus applies a status transition. Completed without an output path
// is stored as Failed with a diagnostic. Writes against a terminal snapshot
// are ignored and the stored snapshot is returned unchanged.
func (s *Store) UpdateStatus(id string, status job.Status, outputPath, errorMessage string) (Snapshot, error) {
	if !status.Valid() {
		return Snapshot{}, fmt.Errorf("update status %s: invalid status %q", id, status)
	}
	e := s.lookup(id, false)
	if e == nil {
		return Snapshot{}, fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}

	e.mu.Lock()
	if e.snap == nil {
		e.mu.Unlock()
		return Snapshot{}, fmt.Errorf("update status %s: %w", id, ErrNotFound)
	}
	cur := *e.snap
	if cur.IsTerminal() {
		e.mu.Unlock()
		if cur.Status != status {
			s.logger.Debug("status update ignored for terminal job",
				logging.JobID(id),
				logging.String("status", string(cur.Status)),
				logging.String("requested", string(status)),
			)
		}
		return cur, nil
	}

	now := s.now()
	next := cur
	rewritten := false
	kind := EventProgress
	if status.IsTerminal() {
		next.Status, next.OutputPath, next.ErrorMessage, rewritten = job.Resolve(status, outputPath, errorMessage)
		next.CompletedAt = now
		if next.Status == job.StatusCompleted {
			next.Percent = 100
		}
		kind = EventTerminal
	} else {
		if status == cur.Status {
			e.mu.Unlock()
			return cur, nil
		}
		next.Status = status
		if status == job.StatusRunning && next.StartedAt.IsZero() {
			next.StartedAt = now
		}
	}
	next.UpdatedAt = now
	e.snap = &next
	evt, sinks := s.nextEvent(kind, next)
	s.broadcast(e, evt)
	e.mu.Unlock()

	if rewritten {
		logging.WarnWithContext(s.logger, "completion without output rewritten to failure", "completion_missing_output",
			logging.JobID(id),
			logging.Hint("verify the encoder produced an artifact"),
			logging.Impact("job reported as failed"),
		)
	}
	s.publish(sinks, evt)
	return next, nil
}

// Get returns the snapshot for id.
func (s *Store) Get(id string) (Snapshot, bool) {
	e := s.lookup(id, false)
	if e == nil {
		return Snapshot{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap == nil {
		return Snapshot{}, false
	}
	return *e.snap, true
}

// List returns every snapshot ordered by creation time.
func (s *Store) List() []Snapshot {
	s.mu.Lock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.Unlock()

	out := make([]Snapshot, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		if e.snap != nil {
			out = append(out, *e.snap)
		}
		e.mu.Unlock()
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].JobID < out[j].JobID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Cleanup removes terminal snapshots completed before olderThan and returns
// how many were removed.
func (s *Store) Cleanup(olderThan time.Time) int {
	s.mu.Lock()
	candidates := make(map[string]*entry, len(s.entries))
	for id, e := range s.entries {
		candidates[id] = e
	}
	s.mu.Unlock()

	removed := 0
	for id, e := range candidates {
		e.mu.Lock()
		if e.snap != nil && e.snap.IsTerminal() && e.snap.CompletedAt.Before(olderThan) {
			for subID, sub := range e.subs {
				sub.closeFromStore()
				delete(e.subs, subID)
			}
			s.mu.Lock()
			if s.entries[id] == e {
				delete(s.entries, id)
				removed++
			}
			s.mu.Unlock()
		}
		e.mu.Unlock()
	}
	if removed > 0 {
		s.logger.Debug("progress snapshots purged", logging.Int("removed", removed))
	}
	return removed
}

// Subscribe opens an event stream for id. When a snapshot exists it is the
// first event; when it does not, the subscription waits for Create.
func (s *Store) Subscribe(id string) *Subscription {
	sub := newSubscription(uuid.NewString(), id, s.mailboxSize, s.unsubscribe)

	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		sub.closeFromStore()
		return sub
	}

	e := s.lookup(id, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.snap != nil {
		evt, _ := s.nextEvent(EventSnapshot, *e.snap)
		sub.deliver(evt)
		if evt.IsTerminal() {
			return sub
		}
	}
	e.subs[sub.id] = sub
	return sub
}

func (s *Store) unsubscribe(sub *Subscription) {
	e := s.lookup(sub.jobID, false)
	if e == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.subs, sub.id)
	if e.snap == nil && len(e.subs) == 0 {
		s.mu.Lock()
		if s.entries[sub.jobID] == e {
			delete(s.entries, sub.jobID)
		}
		s.mu.Unlock()
	}
}

// SubscriberCount reports the number of open subscriptions for id.
func (s *Store) SubscriberCount(id string) int {
	e := s.lookup(id, false)
	if e == nil {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.subs)
}

// Close ends every open subscription and drops registered sinks.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.sinks = nil
	s.mu.Unlock()

	for _, e := range entries {
		e.mu.Lock()
		for id, sub := range e.subs {
			sub.closeFromStore()
			delete(e.subs, id)
		}
		e.mu.Unlock()
	}
}
