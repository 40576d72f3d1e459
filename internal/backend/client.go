// Package backend dispatches requests to the school REST backend.
//
// Each call is a single request/response: no retries, queueing, batching or
// in-flight deduplication. The credential is attached on the way out and a
// rejected credential is reported through OnUnauthorized before the error is
// returned to the caller.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CredentialSource yields the bearer credential for the request scope, or "".
type CredentialSource interface {
	Credential(ctx context.Context) string
}

// CredentialFunc adapts a function to CredentialSource.
type CredentialFunc func(ctx context.Context) string

// Credential implements CredentialSource.
func (f CredentialFunc) Credential(ctx context.Context) string { return f(ctx) }

// Observer receives one observation per completed call.
type Observer interface {
	ObserveBackendCall(endpoint string, status int, elapsed time.Duration)
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Timeout     time.Duration
	HTTPClient  *http.Client
	Credentials CredentialSource
	// OnUnauthorized runs synchronously when a credentialed request is rejected with 401.
	OnUnauthorized func(ctx context.Context)
	Observer       Observer
}

// Client wraps interactions with the backend API.
type Client struct {
	baseURL        string
	httpClient     *http.Client
	credentials    CredentialSource
	onUnauthorized func(ctx context.Context)
	observer       Observer
}

// NewClient constructs a new client.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &Client{
		baseURL:        strings.TrimRight(opts.BaseURL, "/"),
		httpClient:     httpClient,
		credentials:    opts.Credentials,
		onUnauthorized: opts.OnUnauthorized,
		observer:       opts.Observer,
	}
}

// WithCredentials returns a copy of the client bound to another credential source.
func (c *Client) WithCredentials(src CredentialSource, onUnauthorized func(ctx context.Context)) *Client {
	clone := *c
	clone.credentials = src
	clone.onUnauthorized = onUnauthorized
	return &clone
}

// Get issues a GET with optional query parameters and decodes into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	return c.Do(ctx, http.MethodGet, path, query, nil, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPost, path, nil, body, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, http.MethodPut, path, nil, body, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, http.MethodDelete, path, nil, nil, out)
}

// Do sends one request and decodes a JSON response into out when out is non-nil.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("backend: encode %s: %w", path, err)
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	credentialed := false
	if c.credentials != nil {
		if token := c.credentials.Credential(ctx); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
			credentialed = true
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.observe(method, path, 0, start)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrUnavailable, method, path, ctxErr)
		}
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	c.observe(method, path, resp.StatusCode, start)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Path: path, Message: readMessage(resp.Body)}
		if resp.StatusCode == http.StatusUnauthorized && credentialed && c.onUnauthorized != nil {
			c.onUnauthorized(ctx)
		}
		return apiErr
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
		return fmt.Errorf("backend: decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) observe(method, path string, status int, start time.Time) {
	if c.observer == nil {
		return
	}
	c.observer.ObserveBackendCall(method+" "+Endpoint(path), status, time.Since(start))
}

// Endpoint collapses identifiers in a path so metrics keep a bounded label set.
func Endpoint(path string) string {
	parts := strings.Split(path, "/")
	for i, p := range parts {
		if looksLikeID(p) {
			parts[i] = ":id"
		}
	}
	return strings.Join(parts, "/")
}

func looksLikeID(segment string) bool {
	if len(segment) < 8 {
		return false
	}
	digits := 0
	for _, r := range segment {
		switch {
		case r >= '0' && r <= '9':
			digits++
		case r >= 'a' && r <= 'f', r >= 'A' && r <= 'F', r == '-':
		default:
			return false
		}
	}
	return digits > 0
}

type errorBody struct {
	Message string `json:"message"`
	Error   string `json:"error"`
}

func readMessage(r io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(r, 64<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}
	var body errorBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	return body.Error
}
