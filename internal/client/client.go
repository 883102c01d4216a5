// Package client talks to the diagnostic HTTP API of an opencode-style server.
//
// Every request carries the project directory as a `directory` query
// parameter and, when a server password is configured, HTTP basic auth.
// Responses are decoded into order-preserving tree values and unwrapped with
// the envelope rule implemented by Normalize.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"strings"
	"time"

	"github.com/marcusrbrown/ocdiag/internal/auth"
	"github.com/marcusrbrown/ocdiag/internal/buildinfo"
	"github.com/marcusrbrown/ocdiag/internal/observability"
	"github.com/marcusrbrown/ocdiag/internal/tree"
)

// DefaultTimeout is the default HTTP request timeout.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of an unexpected response is quoted in errors.
const maxErrorBody = 512

// Client is the collaborator API client.
type Client struct {
	baseURL    string
	directory  string
	creds      auth.Credentials
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithDirectory sets the project directory sent with every request.
func WithDirectory(dir string) Option {
	return func(c *Client) { c.directory = dir }
}

// WithCredentials sets the basic-auth credentials.
func WithCredentials(creds auth.Credentials) Option {
	return func(c *Client) { c.creds = creds }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.httpClient.Timeout = d
		}
	}
}

// New creates a client for the server at baseURL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: observability.HTTPTransport(nil),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Health probes /global/health. Only a 2xx answer counts as healthy.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	status, body, err := c.do(ctx, "/global/health", nil)
	if err != nil {
		return nil, err
	}

	if status < 200 || status >= 300 {
		return nil, unexpectedStatus("health check", status, body)
	}

	raw, err := decodeBody(body)
	if err != nil {
		return nil, fmt.Errorf("decode health response: %w", err)
	}

	data, err := Normalize(raw)
	if err != nil {
		return nil, err
	}

	return &Health{Raw: data, Version: stringField(data, "version")}, nil
}

// Health is a decoded health-check answer.
type Health struct {
	Raw     any
	Version string
}

// Get fetches path and returns the unwrapped data.
//
// Transport failures, undecodable bodies and envelope errors are all returned
// as errors. A non-2xx status whose body is an error envelope reports the
// envelope's message.
func (c *Client) Get(ctx context.Context, path string, query neturl.Values) (any, error) {
	status, body, err := c.do(ctx, path, query)
	if err != nil {
		return nil, err
	}

	raw, decodeErr := decodeBody(body)

	if status < 200 || status >= 300 {
		if decodeErr == nil {
			if _, envErr := Normalize(raw); envErr != nil {
				return nil, envErr
			}
		}

		return nil, unexpectedStatus("GET "+path, status, body)
	}

	if decodeErr != nil {
		return nil, fmt.Errorf("decode %s response: %w", path, decodeErr)
	}

	return Normalize(raw)
}

func (c *Client) do(ctx context.Context, path string, query neturl.Values) (int, []byte, error) {
	reqURL := c.endpoint(path, query)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	c.setRequestHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}

	return resp.StatusCode, body, nil
}

func (c *Client) endpoint(path string, query neturl.Values) string {
	q := neturl.Values{}
	for k, v := range query {
		q[k] = append([]string(nil), v...)
	}

	if c.directory != "" {
		q.Set("directory", c.directory)
	}

	u := c.baseURL + path
	if encoded := q.Encode(); encoded != "" {
		u += "?" + encoded
	}

	return u
}

func (c *Client) setRequestHeaders(req *http.Request) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", buildinfo.UserAgent())

	if !c.creds.Empty() {
		req.SetBasicAuth(c.creds.Username, c.creds.Password)
	}
}

func decodeBody(body []byte) (any, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, nil //nolint:nilnil // an empty body is null data
	}

	return tree.Parse(body)
}

// unexpectedStatus creates a formatted error from an unexpected HTTP status code.
func unexpectedStatus(operation string, statusCode int, body []byte) error {
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody] + "..."
	}

	if text == "" {
		return fmt.Errorf("%s failed with status %d", operation, statusCode)
	}

	return fmt.Errorf("%s failed with status %d: %s", operation, statusCode, text)
}

func stringField(v any, key string) string {
	obj, ok := v.(*tree.Object)
	if !ok {
		return ""
	}

	s, _ := obj.Get(key)
	str, _ := s.(string)

	return str
}

// EnvelopeError is an error reported inside a response body.
type EnvelopeError struct {
	Message string
}

func (e *EnvelopeError) Error() string {
	return e.Message
}

// Normalize applies the response envelope rule:
//   - an object whose "error" field is present and non-null is an error;
//     a string error is used as-is, anything else as its JSON text
//   - otherwise an object with a "data" field yields that field
//   - otherwise the whole value is the data
func Normalize(v any) (any, error) {
	obj, ok := v.(*tree.Object)
	if !ok {
		return v, nil
	}

	if errVal, ok := obj.Get("error"); ok && errVal != nil {
		return nil, &EnvelopeError{Message: errorText(errVal)}
	}

	if data, ok := obj.Get("data"); ok {
		return data, nil
	}

	return obj, nil
}

func errorText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}

	return string(b)
}
