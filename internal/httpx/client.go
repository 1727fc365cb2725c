// Package httpx is a thin JSON HTTP client used by the token manager and
// AI providers. It remembers the last status code and error for diagnostics.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Response is the outcome of one HTTP exchange. Body is fully read and the
// underlying connection released before Response is returned.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the status code is in the 2xx range.
func (r Response) OK() bool {
	return r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
}

// Decode unmarshals the response body into out.
func (r Response) Decode(out any) error {
	if err := json.Unmarshal(r.Body, out); err != nil {
		return fmt.Errorf("decode response body: %w", err)
	}
	return nil
}

// Client wraps http.Client with JSON helpers and last status/error tracking.
type Client struct {
	httpClient *http.Client

	mu         sync.Mutex
	lastStatus int
	lastErr    error
}

// New creates a Client with the given timeout. A non-positive timeout
// disables the client-level deadline; callers then bound requests via ctx.
func New(timeout time.Duration) *Client {
	return &Client{httpClient: &http.Client{Timeout: timeout}}
}

// Timeout returns the client-level deadline, zero when disabled.
func (c *Client) Timeout() time.Duration {
	return c.httpClient.Timeout
}

// LastStatus returns the status code of the most recent exchange, 0 if none.
func (c *Client) LastStatus() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatus
}

// LastError returns the transport error of the most recent exchange, if any.
func (c *Client) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

func (c *Client) record(status int, err error) {
	c.mu.Lock()
	c.lastStatus = status
	c.lastErr = err
	c.mu.Unlock()
}

// PostJSON sends body as a JSON POST and returns the raw response.
func (c *Client) PostJSON(ctx context.Context, rawURL string, headers map[string]string, body any) (Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("encode request body: %w", err)
	}
	if headers == nil {
		headers = map[string]string{}
	}
	if _, ok := headers["Content-Type"]; !ok {
		headers["Content-Type"] = "application/json"
	}
	return c.do(ctx, http.MethodPost, rawURL, headers, bytes.NewReader(payload))
}

// PostForm sends an application/x-www-form-urlencoded POST.
func (c *Client) PostForm(ctx context.Context, rawURL string, headers map[string]string, form url.Values) (Response, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = "application/x-www-form-urlencoded"
	return c.do(ctx, http.MethodPost, rawURL, headers, strings.NewReader(form.Encode()))
}

// Post sends a POST with a caller-provided body and content type. Used for
// multipart uploads where the caller builds the body itself.
func (c *Client) Post(ctx context.Context, rawURL string, headers map[string]string, contentType string, body io.Reader) (Response, error) {
	if headers == nil {
		headers = map[string]string{}
	}
	headers["Content-Type"] = contentType
	return c.do(ctx, http.MethodPost, rawURL, headers, body)
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, rawURL string, headers map[string]string) (Response, error) {
	return c.do(ctx, http.MethodGet, rawURL, headers, nil)
}

func (c *Client) do(ctx context.Context, method, rawURL string, headers map[string]string, body io.Reader) (Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		c.record(0, err)
		return Response{}, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.record(0, err)
		return Response{}, fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		c.record(resp.StatusCode, err)
		return Response{}, fmt.Errorf("read response body: %w", err)
	}

	c.record(resp.StatusCode, nil)
	return Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}
