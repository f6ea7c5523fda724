// Package backend is the REST plumbing shared by the collaborator clients
// (documents, catalog, generator): base URL handling, bearer token
// forwarding, JSON encoding, error mapping and retries for idempotent reads.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/BallaAicha/hubdoc-sub000/endpoint"
	"github.com/cenkalti/backoff/v5"
)

const (
	// DefaultTimeout bounds a single request.
	DefaultTimeout = 30 * time.Second
	// DefaultMaxTries is the number of attempts for a GET.
	DefaultMaxTries = 3

	maxErrorBody = 64 << 10
)

// StatusError is a non-2xx answer from a collaborator.
type StatusError struct {
	Status  int
	Code    string
	Message string
}

func (e *StatusError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "backend: HTTP %d", e.Status)
	if e.Code != "" {
		b.WriteString(": " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	return b.String()
}

// IsNotFound reports whether err is a 404 from a collaborator.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// Client talks to one collaborator service.
type Client struct {
	base          *url.URL
	http          *http.Client
	token         func(context.Context) string
	maxTries      uint
	retryInterval time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithTokenFunc sets where the bearer token of a request comes from.
func WithTokenFunc(fn func(context.Context) string) Option {
	return func(c *Client) {
		c.token = fn
	}
}

// WithRetry sets the number of attempts and the initial backoff for GETs.
func WithRetry(maxTries uint, initial time.Duration) Option {
	return func(c *Client) {
		if maxTries > 0 {
			c.maxTries = maxTries
		}
		if initial > 0 {
			c.retryInterval = initial
		}
	}
}

// New creates a Client rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("backend: base url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend: base url %q must be http or https", baseURL)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	c := &Client{
		base:          u,
		http:          &http.Client{Timeout: DefaultTimeout},
		maxTries:      DefaultMaxTries,
		retryInterval: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// URL resolves path (with optional query) against the base URL.
func (c *Client) URL(path string, query url.Values) string {
	u := *c.base
	u.Path = c.base.Path + "/" + strings.TrimPrefix(path, "/")
	u.RawQuery = query.Encode()
	return u.String()
}

// GetJSON fetches path and decodes the JSON answer into out.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Get(ctx, path, query, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return DecodeJSON(resp, out)
}

// PostJSON sends in as JSON and decodes the answer into out, when out is
// non-nil. It is never retried.
func (c *Client) PostJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("backend: encode request: %w", err)
	}
	resp, err := c.Send(ctx, http.MethodPost, path, bytes.NewReader(body), http.Header{"Content-Type": {"application/json"}})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if out == nil {
		return nil
	}
	return DecodeJSON(resp, out)
}

// Get issues a GET, retrying transport failures and 5xx/429 answers with
// exponential backoff. The caller closes the body of the returned response.
func (c *Client) Get(ctx context.Context, path string, query url.Values, hdr http.Header) (*http.Response, error) {
	target := c.URL(path, query)
	op := func() (*http.Response, error) {
		req, err := c.newRequest(ctx, http.MethodGet, target, nil, hdr)
		if err != nil {
			return nil, backoff.Permanent(err)
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}
			return nil, err
		}
		if resp.StatusCode < 300 {
			return resp, nil
		}
		serr := readStatusError(resp)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, serr
		}
		return nil, backoff.Permanent(serr)
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.retryInterval
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(c.maxTries),
	)
}

// Send issues a single request with body; hdr overrides the default headers.
// Non-2xx answers become *StatusError. The caller closes the body of the
// returned response.
func (c *Client) Send(ctx context.Context, method, path string, body io.Reader, hdr http.Header) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, c.URL(path, nil), body, hdr)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, readStatusError(resp)
	}
	return resp, nil
}

func (c *Client) newRequest(ctx context.Context, method, target string, body io.Reader, hdr http.Header) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range hdr {
		req.Header[http.CanonicalHeaderKey(k)] = v
	}
	if c.token != nil {
		if tok := c.token(ctx); tok != "" {
			req.Header.Set("Authorization", "Bearer "+tok)
		}
	}
	return req, nil
}

// DecodeJSON decodes the body of resp into out. 204 answers leave out as is.
func DecodeJSON(resp *http.Response, out any) error {
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("backend: decode %s response: %w", resp.Request.URL.Path, err)
	}
	return nil
}

// readStatusError drains and closes resp, keeping the collaborator's error
// code and message when the body is JSON.
func readStatusError(resp *http.Response) *StatusError {
	defer resp.Body.Close()
	se := &StatusError{Status: resp.StatusCode}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	mt, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mt == "application/json" || strings.HasSuffix(mt, "+json") {
		var body struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(b, &body) == nil {
			se.Code, se.Message = body.Error, body.Message
			return se
		}
	}
	se.Message = strings.TrimSpace(string(b))
	if len(se.Message) > 200 {
		se.Message = se.Message[:200]
	}
	return se
}

// HTTPStatus maps a collaborator error to the status the portal answers with.
func HTTPStatus(err error) int {
	var se *StatusError
	switch {
	case errors.As(err, &se) && se.Status < 500:
		return se.Status
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// EndpointError converts a collaborator error for the portal's HTTP layer.
// The collaborator's message is shown for 4xx answers only.
func EndpointError(err error) error {
	if err == nil {
		return nil
	}
	status := HTTPStatus(err)
	msg := ""
	var se *StatusError
	if errors.As(err, &se) && se.Status < 500 {
		msg = se.Message
		if msg == "" {
			msg = se.Code
		}
	}
	return endpoint.Error(status, msg, err)
}
