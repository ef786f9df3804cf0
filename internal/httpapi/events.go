package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Coffee285/AVS-sub001/internal/api"
	"github.com/Coffee285/AVS-sub001/internal/logging"
	"github.com/Coffee285/AVS-sub001/internal/progress"
)

type nextResult struct {
	evt progress.Event
	err error
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// A job without a snapshot must at least exist in the queue. A terminal
	// row whose snapshot was already purged is replayed from the row.
	var replay *api.StreamEvent
	if _, ok := s.progress.Get(id); !ok {
		row, err := s.jobs.GetByID(r.Context(), id)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if row == nil {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		if row.Status.IsTerminal() {
			status := api.FromQueueJob(row)
			replay = &api.StreamEvent{
				Type:      api.EventTypeFor(row.Status),
				JobID:     id,
				Timestamp: api.FormatTime(s.now()),
				Job:       &status,
			}
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := logging.WithContext(r.Context(), s.logger).With(logging.JobID(id))
	if err := writeEvent(w, api.Connected(id, s.now())); err != nil {
		return
	}
	flusher.Flush()
	if replay != nil {
		if err := writeEvent(w, *replay); err == nil {
			flusher.Flush()
		}
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	sub := s.progress.Subscribe(id)
	defer sub.Close()
	logger.Debug("progress feed opened", logging.String("subscription_id", sub.ID()))

	results := make(chan nextResult, 1)
	go func() {
		for {
			evt, err := sub.Next(ctx)
			select {
			case results <- nextResult{evt: evt, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	keepAlive := time.NewTicker(s.keepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Debug("progress feed client disconnected")
			return
		case <-keepAlive.C:
			if _, err := io.WriteString(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case res := <-results:
			if res.err != nil {
				if !errors.Is(res.err, io.EOF) && !errors.Is(res.err, context.Canceled) {
					logger.Debug("progress feed ended", logging.Error(res.err))
				}
				return
			}
			out := api.FromEvent(res.evt)
			if err := writeEvent(w, out); err != nil {
				return
			}
			flusher.Flush()
			if out.IsTerminal() {
				logger.Debug("progress feed closed after terminal event", logging.String("event", out.Type))
				return
			}
		}
	}
}

// writeEvent writes one SSE frame.
func writeEvent(w io.Writer, evt api.StreamEvent) error {
	data, err := json.Marshal(evt)
	if err != nil {
		return err
	}
	if evt.Sequence > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", evt.Sequence); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", evt.Type, data)
	return err
}
