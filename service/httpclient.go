package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

const maxErrorBody = 1024

// ApplicationJSON is the content-type header for JSON request bodies.
var ApplicationJSON = http.Header{"Content-Type": {"application/json"}}

// RequestOptions enumerates what a request may carry. Body and JSON are
// mutually exclusive.
type RequestOptions struct {
	Headers http.Header
	Query   url.Values
	Body    io.Reader
	JSON    any
	Timeout time.Duration
}

// StatusError is returned for responses with a status code of 400 or above.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
}

type HTTPClient struct {
	Client *http.Client
}

func NewHTTPClient(timeout time.Duration) *HTTPClient {
	return &HTTPClient{Client: &http.Client{Timeout: timeout}}
}

func (c *HTTPClient) Get(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodGet, rawURL, opts)
}

// GetJSON issues a GET and decodes the JSON response body into dst.
func (c *HTTPClient) GetJSON(ctx context.Context, rawURL string, opts RequestOptions, dst any) error {
	resp, err := c.Get(ctx, rawURL, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("failed to decode response from %s: %w", rawURL, err)
	}
	return nil
}

func (c *HTTPClient) Post(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodPost, rawURL, opts)
}

func (c *HTTPClient) Put(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodPut, rawURL, opts)
}

func (c *HTTPClient) Patch(ctx context.Context, rawURL string, opts RequestOptions) (*http.Response, error) {
	return c.Do(ctx, http.MethodPatch, rawURL, opts)
}

// Do sends a single request. On a status of 400 or above the body is drained
// and closed and a *StatusError is returned; otherwise the caller owns the
// response body.
func (c *HTTPClient) Do(ctx context.Context, method, rawURL string, opts RequestOptions) (*http.Response, error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		resp, err := c.do(ctx, method, rawURL, opts)
		if err != nil || resp == nil {
			cancel()
			return resp, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, nil
	}
	return c.do(ctx, method, rawURL, opts)
}

func (c *HTTPClient) do(ctx context.Context, method, rawURL string, opts RequestOptions) (*http.Response, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}
	if len(opts.Query) > 0 {
		q := u.Query()
		for k, vs := range opts.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	body := opts.Body
	if opts.JSON != nil {
		if body != nil {
			return nil, fmt.Errorf("request options set both Body and JSON")
		}
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	for k, vs := range opts.Headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	if opts.JSON != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &StatusError{Method: method, URL: u.String(), StatusCode: resp.StatusCode, Body: string(b)}
	}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
