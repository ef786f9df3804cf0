package tracker

import (
	"context"

	"github.com/Coffee285/AVS-sub001/internal/client"
)

// HTTPTransport adapts the daemon API client to Transport.
type HTTPTransport struct {
	*client.Client
}

// NewHTTPTransport wraps c.
func NewHTTPTransport(c *client.Client) HTTPTransport {
	return HTTPTransport{Client: c}
}

// Events opens the job's progress feed.
func (h HTTPTransport) Events(ctx context.Context, id string) (EventSource, error) {
	stream, err := h.Client.Events(ctx, id)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
