// Package client is a Go client for the textpulse HTTP API, including the
// poll loop a UI runs while a job is in flight.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/textpulse/pkg/models"
)

// DefaultPollInterval matches the interval browsers poll at.
const DefaultPollInterval = 2 * time.Second

// Sentinel errors for client failures.
var (
	ErrUnreachable = errors.New("textpulse unreachable")
	ErrTimeout     = errors.New("textpulse request timeout")
	ErrNotFound    = errors.New("job not found")
	ErrRejected    = errors.New("request rejected")
	ErrRateLimited = errors.New("rate limited")
	ErrServer      = errors.New("textpulse server error")
)

// APIError is a non-2xx reply. It wraps one of the sentinels above.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	kind       error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%d %s)", e.Message, e.StatusCode, e.Code)
}

func (e *APIError) Unwrap() error { return e.kind }

// Submission is the server's answer to an accepted job.
type Submission struct {
	ID                   string  `json:"id"`
	EstimatedWait        string  `json:"estimated_wait"`
	EstimatedWaitSeconds float64 `json:"estimated_wait_seconds"`
}

// Status is one poll result.
type Status struct {
	Status   string `json:"status"`
	Analysis string `json:"analysis,omitempty"`
	Message  string `json:"message,omitempty"`
}

// Terminal reports whether polling can stop.
func (s Status) Terminal() bool {
	return models.IsTerminalStatus(s.Status)
}

// Client talks to one textpulse server.
type Client struct {
	baseURL  string
	client   *http.Client
	interval time.Duration
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.interval = d
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		interval: DefaultPollInterval,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Client) Submit(ctx context.Context, text, model string) (*Submission, error) {
	var sub Submission
	body := map[string]string{"text": text, "model": model}
	if err := c.do(ctx, http.MethodPost, "/api/analysis", body, &sub); err != nil {
		return nil, err
	}
	return &sub, nil
}

func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodGet, "/api/analysis/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Cancel asks the server to cancel id and returns the job's resulting state.
func (c *Client) Cancel(ctx context.Context, id string) (*Status, error) {
	var st Status
	if err := c.do(ctx, http.MethodDelete, "/api/analysis/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// Wait polls id until it reaches a terminal status, the first failed poll,
// or ctx ends. onUpdate, if set, sees every poll result.
func (c *Client) Wait(ctx context.Context, id string, onUpdate func(Status)) (*Status, error) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
		case <-ticker.C:
		}

		st, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if onUpdate != nil {
			onUpdate(*st)
		}
		if st.Terminal() {
			return st, nil
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body bytes.Buffer
	if in != nil {
		if err := json.NewEncoder(&body).Encode(in); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, &body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return fmt.Errorf("%w: decoding response (status %d): %v", ErrServer, resp.StatusCode, err)
	}

	if resp.StatusCode >= 300 {
		return apiError(resp.StatusCode, env.Error)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: decoding data: %v", ErrServer, err)
	}
	return nil
}

func apiError(status int, body *errorBody) error {
	e := &APIError{StatusCode: status, Message: http.StatusText(status)}
	if body != nil {
		e.Code, e.Message = body.Code, body.Message
	}
	switch {
	case status == http.StatusNotFound:
		e.kind = ErrNotFound
	case status == http.StatusTooManyRequests:
		e.kind = ErrRateLimited
	case status >= 400 && status < 500:
		e.kind = ErrRejected
	default:
		e.kind = ErrServer
	}
	return e
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *errorBody      `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
