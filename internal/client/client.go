package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/Coffee285/AVS-sub001/internal/api"
)

var (
	// ErrAPIUnavailable is returned when no daemon address is configured.
	ErrAPIUnavailable = errors.New("daemon API unavailable")
	// ErrMalformedEvent wraps feed frames that cannot be decoded.
	ErrMalformedEvent = errors.New("malformed progress event")
)

// StatusError is returned for non-2xx replies.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("daemon returned status %d", e.Code)
	}
	return fmt.Sprintf("daemon returned status %d: %s", e.Code, e.Message)
}

// IsNotFound reports whether err is a 404 reply.
func IsNotFound(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusNotFound
}

// IsAPIUnavailable reports whether err means the daemon could not be reached.
func IsAPIUnavailable(err error) bool {
	if err == nil {
		return false
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Err != nil {
		err = urlErr.Err
	}
	var opErr *net.OpError
	return errors.Is(err, ErrAPIUnavailable) || errors.As(err, &opErr)
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithToken sets the bearer token sent with every request.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// Client is a reelkit daemon API client.
type Client struct {
	base  *url.URL
	http  *http.Client
	token string
}

// New returns a client for the daemon at address, which may omit the scheme.
func New(address string, opts ...Option) (*Client, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, ErrAPIUnavailable
	}
	if !strings.Contains(address, "://") {
		address = "http://" + address
	}
	base, err := url.Parse(address)
	if err != nil {
		return nil, fmt.Errorf("parse daemon address: %w", err)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""

	c := &Client{
		base: base,
		// No timeout: the event feed blocks until the caller cancels.
		http: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the daemon address in use.
func (c *Client) BaseURL() string {
	return c.base.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	endpoint := c.base.ResolveReference(&url.URL{Path: path, RawQuery: query.Encode()})
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	req, err := c.newRequest(ctx, method, path, query, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload api.ErrorResponse
	message := strings.TrimSpace(string(data))
	if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
		message = payload.Error
	}
	return &StatusError{Code: resp.StatusCode, Message: message}
}

func jobPath(id string, suffix string) string {
	return "/api/jobs/" + url.PathEscape(id) + suffix
}

// Status fetches the current status of a job.
func (c *Client) Status(ctx context.Context, id string) (api.JobStatus, error) {
	var out api.JobStatus
	err := c.do(ctx, http.MethodGet, jobPath(id, ""), nil, nil, &out)
	return out, err
}

// Output reports whether the job's artifact exists.
func (c *Client) Output(ctx context.Context, id string) (api.OutputInfo, error) {
	var out api.OutputInfo
	err := c.do(ctx, http.MethodGet, jobPath(id, "/output"), nil, nil, &out)
	return out, err
}

// Cancel requests cooperative cancellation.
func (c *Client) Cancel(ctx context.Context, id string) (api.CancelResponse, error) {
	var out api.CancelResponse
	err := c.do(ctx, http.MethodPost, jobPath(id, "/cancel"), nil, nil, &out)
	return out, err
}

// Retry re-enqueues a failed or cancelled job as a new attempt.
func (c *Client) Retry(ctx context.Context, id string) (api.JobStatus, error) {
	var out api.JobStatus
	err := c.do(ctx, http.MethodPost, jobPath(id, "/retry"), nil, nil, &out)
	return out, err
}

// Submit enqueues a new job.
func (c *Client) Submit(ctx context.Context, req api.SubmitRequest) (api.JobStatus, error) {
	var out api.JobStatus
	err := c.do(ctx, http.MethodPost, "/api/jobs", nil, req, &out)
	return out, err
}

// List returns persisted jobs, optionally filtered by status.
func (c *Client) List(ctx context.Context, statuses ...string) ([]api.JobStatus, error) {
	query := url.Values{}
	for _, status := range statuses {
		if strings.TrimSpace(status) != "" {
			query.Add("status", strings.TrimSpace(status))
		}
	}
	var out api.JobListResponse
	if err := c.do(ctx, http.MethodGet, "/api/jobs", query, nil, &out); err != nil {
		return nil, err
	}
	return out.Jobs, nil
}

// DaemonStatus fetches daemon runtime information.
func (c *Client) DaemonStatus(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

// Scheduler fetches the live scheduler settings.
func (c *Client) Scheduler(ctx context.Context) (api.SchedulerSettings, error) {
	var out api.SchedulerSettings
	err := c.do(ctx, http.MethodGet, "/api/scheduler", nil, nil, &out)
	return out, err
}

// UpdateScheduler patches the live scheduler settings.
func (c *Client) UpdateScheduler(ctx context.Context, patch api.SchedulerPatch) (api.SchedulerSettings, error) {
	var out api.SchedulerSettings
	err := c.do(ctx, http.MethodPatch, "/api/scheduler", nil, patch, &out)
	return out, err
}
