package client

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Coffee285/AVS-sub001/internal/api"
)

const maxFrameBytes = 1 << 20

// EventStream reads the server-sent-event feed of one job.
type EventStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// Events opens the progress feed for a job. Cancelling ctx ends the stream.
func (c *Client) Events(ctx context.Context, id string) (*EventStream, error) {
	req, err := c.newRequest(ctx, http.MethodGet, jobPath(id, "/events"), nil, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, decodeError(resp)
	}
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 4096), maxFrameBytes)
	return &EventStream{body: resp.Body, scanner: scanner}, nil
}

// Next blocks for the next event. It returns io.EOF when the server closes
// the feed and an error wrapping ErrMalformedEvent for undecodable frames.
func (s *EventStream) Next() (api.StreamEvent, error) {
	var (
		name string
		data []string
	)
	for s.scanner.Scan() {
		line := s.scanner.Text()
		switch {
		case line == "":
			if len(data) == 0 {
				name = ""
				continue
			}
			return decodeFrame(name, strings.Join(data, "\n"))
		case strings.HasPrefix(line, ":"):
			// keep-alive comment
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := s.scanner.Err(); err != nil {
		return api.StreamEvent{}, err
	}
	return api.StreamEvent{}, io.EOF
}

// Close releases the connection.
func (s *EventStream) Close() error {
	return s.body.Close()
}

func decodeFrame(name, data string) (api.StreamEvent, error) {
	var evt api.StreamEvent
	if err := json.Unmarshal([]byte(data), &evt); err != nil {
		return api.StreamEvent{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if evt.Type == "" {
		evt.Type = name
	}
	switch evt.Type {
	case api.EventConnected, api.EventProgress, api.EventCompleted, api.EventFailed, api.EventCancelled:
	default:
		return api.StreamEvent{}, fmt.Errorf("%w: unknown event type %q", ErrMalformedEvent, evt.Type)
	}
	if evt.Type != api.EventConnected && evt.Job == nil {
		return api.StreamEvent{}, fmt.Errorf("%w: %s event without job", ErrMalformedEvent, evt.Type)
	}
	return evt, nil
}
