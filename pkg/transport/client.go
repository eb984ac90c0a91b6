package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aussiebroadwan/authkit/pkg/idx"
	"github.com/aussiebroadwan/authkit/pkg/slogx"
)

const (
	defaultTimeout = 10 * time.Second

	// maxBodyBytes bounds how much of a response is buffered.
	maxBodyBytes = 10 << 20
)

// OnFulfilled handles a successful response. It may replace the response or
// turn it into an error.
type OnFulfilled func(*Response) (*Response, error)

// OnRejected handles a failed request. Returning a response recovers from the
// failure; returning an error passes it down the chain.
type OnRejected func(error) (*Response, error)

// InterceptorID identifies a registered interceptor for Eject.
type InterceptorID uint64

type interceptor struct {
	id          InterceptorID
	onFulfilled OnFulfilled
	onRejected  OnRejected
}

// Config configures a Client. Zero values select defaults.
type Config struct {
	// BaseURL is prefixed to relative request URLs.
	BaseURL string

	// HTTPClient performs the round trips. Defaults to a client with a 10s timeout.
	HTTPClient *http.Client

	// Headers are installed as default headers.
	Headers map[string]string

	Logger *slog.Logger
}

// Client issues buffered HTTP requests through an interceptor chain.
// It is safe for concurrent use.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.RWMutex
	defaults     http.Header
	interceptors []interceptor
	nextID       InterceptorID
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	c := &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: hc,
		logger:     slogx.OrDefault(cfg.Logger),
		defaults:   make(http.Header),
	}
	for k, v := range cfg.Headers {
		c.defaults.Set(k, v)
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Logger returns the client's fallback logger.
func (c *Client) Logger() *slog.Logger { return c.logger }

// ============================================================================
// Default headers
// ============================================================================

// SetDefaultHeader sets a header sent with every request that does not set it itself.
func (c *Client) SetDefaultHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults.Set(key, value)
}

// DelDefaultHeader removes a default header.
func (c *Client) DelDefaultHeader(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.defaults.Del(key)
}

// DefaultHeader returns the current value of a default header.
func (c *Client) DefaultHeader(key string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaults.Get(key)
}

// ============================================================================
// Interceptors
// ============================================================================

// Use appends a response interceptor. Either handler may be nil.
func (c *Client) Use(onFulfilled OnFulfilled, onRejected OnRejected) InterceptorID {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	c.interceptors = append(c.interceptors, interceptor{
		id:          c.nextID,
		onFulfilled: onFulfilled,
		onRejected:  onRejected,
	})
	return c.nextID
}

// Eject removes an interceptor. Unknown ids are ignored.
func (c *Client) Eject(id InterceptorID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, ic := range c.interceptors {
		if ic.id == id {
			c.interceptors = append(c.interceptors[:i:i], c.interceptors[i+1:]...)
			return
		}
	}
}

// InterceptorCount returns the number of registered interceptors.
func (c *Client) InterceptorCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.interceptors)
}

func (c *Client) snapshot() ([]interceptor, http.Header) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ics := make([]interceptor, len(c.interceptors))
	copy(ics, c.interceptors)
	return ics, c.defaults.Clone()
}

// ============================================================================
// Requests
// ============================================================================

// Do sends req and runs the result through the interceptor chain.
func (c *Client) Do(req *Request) (*Response, error) {
	ics, defaults := c.snapshot()

	resp, err := c.send(req, defaults)
	for _, ic := range ics {
		if err != nil {
			if ic.onRejected != nil {
				resp, err = ic.onRejected(err)
			}
			continue
		}
		if ic.onFulfilled != nil {
			resp, err = ic.onFulfilled(resp)
		}
	}
	return resp, err
}

// Get issues a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(NewRequest(ctx, http.MethodGet, path, nil))
}

// Post issues a POST request with the given content type.
func (c *Client) Post(ctx context.Context, path, contentType string, body []byte) (*Response, error) {
	req := NewRequest(ctx, http.MethodPost, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.Do(req)
}

// PostJSON marshals v and POSTs it as application/json.
func (c *Client) PostJSON(ctx context.Context, path string, v any) (*Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return c.Post(ctx, path, "application/json", body)
}

// PostForm POSTs form values as application/x-www-form-urlencoded.
func (c *Client) PostForm(ctx context.Context, path string, form url.Values) (*Response, error) {
	return c.Post(ctx, path, "application/x-www-form-urlencoded", []byte(form.Encode()))
}

func (c *Client) resolve(u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") || c.baseURL == "" {
		return u
	}
	return c.baseURL + "/" + strings.TrimPrefix(u, "/")
}

func (c *Client) send(req *Request, defaults http.Header) (*Response, error) {
	ctx := req.Context()
	start := time.Now()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(ctx, req.Method, c.resolve(req.URL), body)
	if err != nil {
		return nil, &ResponseError{Request: req, Err: fmt.Errorf("failed to create request: %w", err)}
	}

	for k, vs := range defaults {
		hreq.Header[k] = vs
	}
	for k, vs := range req.Header {
		hreq.Header[k] = vs
	}
	if hreq.Header.Get(slogx.RequestIDHeader) == "" {
		hreq.Header.Set(slogx.RequestIDHeader, idx.New().String())
	}
	reqID := hreq.Header.Get(slogx.RequestIDHeader)
	log := slogx.FromContext(ctx, c.logger)

	hresp, err := c.httpClient.Do(hreq)
	if err != nil {
		log.DebugContext(ctx, "http_request_failed",
			"req_id", reqID,
			"method", req.Method,
			"url", req.URL,
			"retry", req.retry,
			"err", err,
		)
		return nil, &ResponseError{Request: req, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer hresp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxBodyBytes))
	if err != nil {
		return nil, &ResponseError{Request: req, Err: fmt.Errorf("failed to read response body: %w", err)}
	}

	resp := &Response{
		StatusCode: hresp.StatusCode,
		Header:     hresp.Header,
		Body:       data,
		Request:    req,
	}

	log.DebugContext(ctx, "http_request_completed",
		"req_id", reqID,
		"method", req.Method,
		"url", req.URL,
		"status", resp.StatusCode,
		"retry", req.retry,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ResponseError{Request: req, Response: resp}
	}
	return resp, nil
}
