// ABOUTME: Per-request HTTP client that calls the task API as the inbound caller
// ABOUTME: Seeds a private cookie jar from the inbound request so the session travels along

package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"golang.org/x/net/publicsuffix"

	"github.com/2389/tasktrack/internal/api"
	"github.com/2389/tasktrack/internal/store"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned when the API answers with a non-success status.
type StatusError struct {
	StatusCode int
	Message    string
	Field      string
	Reason     string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api returned status %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api returned status %d", e.StatusCode)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == code
}

type options struct {
	transport http.RoundTripper
	timeout   time.Duration
	baseURL   *url.URL
}

// Option configures a Client.
type Option func(*options)

// WithTransport sets the RoundTripper used for outbound calls.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithTimeout bounds each outbound call.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithBaseURL overrides the address derived from the inbound request, for
// deployments where the public host is not reachable from the process.
func WithBaseURL(u *url.URL) Option {
	return func(o *options) { o.baseURL = u }
}

// Client calls the task API on behalf of one inbound request. It must not
// outlive that request or be shared between requests: its jar holds the
// caller's session.
type Client struct {
	base   *url.URL
	http   *http.Client
	logger *slog.Logger
}

// BaseURL derives the origin of r from its TLS state and Host header.
func BaseURL(r *http.Request) *url.URL {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return &url.URL{Scheme: scheme, Host: r.Host}
}

// New builds a Client for r. Every cookie on r, including the session
// cookie, is copied into a jar that belongs to this Client alone.
func New(r *http.Request, opts ...Option) (*Client, error) {
	o := options{timeout: defaultTimeout}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.baseURL
	if base == nil {
		base = BaseURL(r)
	}
	if base.Host == "" {
		return nil, errors.New("bridge: inbound request has no host")
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	jar.SetCookies(&url.URL{Scheme: base.Scheme, Host: base.Host, Path: "/"}, r.Cookies())

	return &Client{
		base: base,
		http: &http.Client{
			Transport: o.transport,
			Timeout:   o.timeout,
			Jar:       jar,
			// A redirect means the API did not treat us as the caller; surface
			// it instead of following it to the login page.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: slog.Default().With("component", "bridge"),
	}, nil
}

func (c *Client) resolve(path string) (string, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return "", err
	}
	return c.base.ResolveReference(ref).String(), nil
}

// do sends a request and decodes a JSON response into out when out is non-nil.
func (c *Client) do(ctx context.Context, method, path string, body, out any, want ...int) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	target, err := c.resolve(path)
	if err != nil {
		return nil, fmt.Errorf("building url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	defer resp.Body.Close()

	c.logger.Debug("internal api call", "method", method, "path", path, "status", resp.StatusCode)

	if !statusIn(resp.StatusCode, want) {
		return resp, statusError(resp)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp, fmt.Errorf("decoding response: %w", err)
		}
	}
	return resp, nil
}

func statusIn(code int, want []int) bool {
	for _, w := range want {
		if code == w {
			return true
		}
	}
	return false
}

// statusError extracts the JSON error body when there is one.
func statusError(resp *http.Response) error {
	se := &StatusError{StatusCode: resp.StatusCode}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var e api.ErrorResponse
	if json.Unmarshal(body, &e) == nil {
		se.Message, se.Field, se.Reason = e.Error, e.Field, e.Reason
	}
	return se
}

func taskPath(id string) string {
	return "/api/todos/" + url.PathEscape(id)
}

// ListTasks calls GET /api/todos.
func (c *Client) ListTasks(ctx context.Context) ([]*store.Task, error) {
	var tasks []*store.Task
	if _, err := c.do(ctx, http.MethodGet, "/api/todos", nil, &tasks, http.StatusOK); err != nil {
		return nil, err
	}
	return tasks, nil
}

// GetTask calls GET /api/todos/{id}.
func (c *Client) GetTask(ctx context.Context, id string) (*store.Task, error) {
	var task store.Task
	if _, err := c.do(ctx, http.MethodGet, taskPath(id), nil, &task, http.StatusOK); err != nil {
		return nil, err
	}
	return &task, nil
}

// CreateTask calls POST /api/todos.
func (c *Client) CreateTask(ctx context.Context, req api.TaskRequest) (*store.Task, error) {
	var task store.Task
	if _, err := c.do(ctx, http.MethodPost, "/api/todos", req, &task, http.StatusCreated); err != nil {
		return nil, err
	}
	return &task, nil
}

// UpdateTask calls PUT /api/todos/{id}.
func (c *Client) UpdateTask(ctx context.Context, id string, req api.TaskRequest) error {
	_, err := c.do(ctx, http.MethodPut, taskPath(id), req, nil, http.StatusNoContent)
	return err
}

// CompleteTask calls POST /api/todos/{id}/complete.
func (c *Client) CompleteTask(ctx context.Context, id string) (*store.Task, error) {
	var task store.Task
	if _, err := c.do(ctx, http.MethodPost, taskPath(id)+"/complete", nil, &task, http.StatusOK); err != nil {
		return nil, err
	}
	return &task, nil
}

// DeleteTask calls DELETE /api/todos/{id}.
func (c *Client) DeleteTask(ctx context.Context, id string) error {
	_, err := c.do(ctx, http.MethodDelete, taskPath(id), nil, nil, http.StatusNoContent)
	return err
}

// Me calls GET /me.
func (c *Client) Me(ctx context.Context) (*api.Identity, error) {
	var id api.Identity
	if _, err := c.do(ctx, http.MethodGet, "/me", nil, &id, http.StatusOK); err != nil {
		return nil, err
	}
	return &id, nil
}
