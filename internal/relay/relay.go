package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/progress"
)

const (
	defaultQueueSize      = 512
	defaultPublishTimeout = 2 * time.Second
)

// Publisher is the subset of redis.UniversalClient the relay needs.
type Publisher interface {
	Publish(ctx context.Context, channel string, message any) *redis.IntCmd
}

// NewClient builds a Redis client from a redis:// URL or a bare host:port.
//
//nolint:ireturn // callers only need UniversalClient.
func NewClient(uri string) (redis.UniversalClient, error) {
	uri = strings.TrimSpace(uri)
	if uri == "" {
		return nil, errors.New("relay requires a redis url")
	}
	if strings.HasPrefix(uri, "redis://") || strings.HasPrefix(uri, "rediss://") {
		opt, err := redis.ParseURL(uri)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: uri}), nil
}

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithQueueSize bounds the number of events buffered ahead of Redis.
func WithQueueSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.queue = make(chan progress.Event, n)
		}
	}
}

// Relay is a progress.Sink that forwards events to Redis from its own
// goroutine. Publish never blocks; events are dropped when the buffer is full.
type Relay struct {
	client  Publisher
	channel string
	logger  *slog.Logger
	queue   chan progress.Event
	timeout time.Duration

	published atomic.Int64
	dropped   atomic.Int64
	failed    atomic.Int64
}

// New constructs a Relay publishing to channel.
func New(client Publisher, channel string, opts ...Option) *Relay {
	r := &Relay{
		client:  client,
		channel: channel,
		logger:  logging.NewNop(),
		queue:   make(chan progress.Event, defaultQueueSize),
		timeout: defaultPublishTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = logging.NewComponentLogger(r.logger, "relay")
	return r
}

// Publish implements progress.Sink.
func (r *Relay) Publish(evt progress.Event) {
	select {
	case r.queue <- evt:
	default:
		if r.dropped.Add(1) == 1 || evt.IsTerminal() {
			logging.WarnWithContext(r.logger, "relay buffer full; event dropped", "relay_event_dropped",
				logging.JobID(evt.Snapshot.JobID),
				logging.Int64("dropped_total", r.dropped.Load()),
				logging.Impact("external dashboards miss this update"),
				logging.Hint("check redis latency"),
			)
		}
	}
}

// Message encodes an event in the same shape as the HTTP feed.
func Message(evt progress.Event) ([]byte, error) {
	return json.Marshal(api.FromEvent(evt))
}

// Run publishes buffered events until ctx is cancelled, then flushes what is
// already queued.
func (r *Relay) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			r.drain()
			return nil
		case evt := <-r.queue:
			r.send(ctx, evt)
		}
	}
}

func (r *Relay) drain() {
	flushCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	for {
		select {
		case evt := <-r.queue:
			r.send(flushCtx, evt)
		default:
			return
		}
	}
}

func (r *Relay) send(ctx context.Context, evt progress.Event) {
	payload, err := Message(evt)
	if err != nil {
		r.failed.Add(1)
		r.logger.Error("encode relay message", logging.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	if err := r.client.Publish(pubCtx, r.channel, payload).Err(); err != nil {
		if r.failed.Add(1) == 1 || evt.IsTerminal() {
			logging.WarnWithContext(r.logger, "relay publish failed", "relay_publish_failed",
				logging.JobID(evt.Snapshot.JobID),
				logging.String("channel", r.channel),
				logging.Error(err),
				logging.Impact("external dashboards miss this update"),
				logging.Hint("check relay.redis_url and redis availability"),
			)
		}
		return
	}
	r.published.Add(1)
}

// Stats reports published, dropped and failed counts.
func (r *Relay) Stats() (published, dropped, failed int64) {
	return r.published.Load(), r.dropped.Load(), r.failed.Load()
}
