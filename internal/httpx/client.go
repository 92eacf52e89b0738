// Fieldsync - Offline-Resilient Sync Client for Oryx Field ERP
// Copyright 2026 Oryx Systems
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/oryxerp/fieldsync

// Package httpx is the resilient HTTP transport for the sync layer.
//
// Every request flows through one pipeline:
//
//	cache consult → dedup supersession → circuit breaker → bounded retry →
//	cache populate / invalidate
//
// Reads with a cache TTL are answered from the response cache without
// touching the network. Concurrent identical requests never run in
// parallel: a newer request cancels the older one ("latest request wins").
// Transient network failures are retried twice with increasing backoff;
// application errors (4xx/5xx) are returned verbatim and never retried.
// Successful mutations invalidate cached reads under their own path prefix.
//
// The client never refreshes credentials: a 401 comes back to the caller as
// an APIError for the caller's re-authentication flow.
package httpx

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/oryxerp/fieldsync/internal/cache"
	"github.com/oryxerp/fieldsync/internal/events"
	"github.com/oryxerp/fieldsync/internal/logging"
	"github.com/oryxerp/fieldsync/internal/metrics"
)

// TokenSource supplies the bearer credential injected into requests.
type TokenSource interface {
	Token() string
}

// Enqueuer accepts a mutation for later replay. Implemented by the
// offline action queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, method, path string, body json.RawMessage) error
}

// Config holds client tuning. Zero values fall back to defaults.
type Config struct {
	// BaseURL is the backend root, e.g. "https://erp.example.com/api".
	BaseURL string

	// ConnectTimeout bounds TCP connection establishment. Default 10s.
	ConnectTimeout time.Duration

	// RequestTimeout bounds a whole request/response cycle. Default 15s.
	RequestTimeout time.Duration

	// UploadTimeout is the longer tier used for multipart uploads. Default 60s.
	UploadTimeout time.Duration

	// MaxRetries is the number of additional attempts after a transient
	// failure. Default 2 (3 attempts total).
	MaxRetries int

	// RetryBaseDelay is the first backoff; it doubles per retry.
	// Default 500ms (so 500ms, then 1s).
	RetryBaseDelay time.Duration
}

func (c *Config) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 15 * time.Second
	}
	if c.UploadTimeout <= 0 {
		c.UploadTimeout = 60 * time.Second
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 2
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = 500 * time.Millisecond
	}
}

// Request describes one call through the pipeline.
type Request struct {
	Method string
	Path   string
	Query  map[string]string

	// Body is marshaled with go-json unless it is already []byte or
	// json.RawMessage, which are sent as-is.
	Body interface{}

	// CacheTTL enables response caching for GET requests. Zero disables.
	CacheTTL time.Duration

	// NoDedupe opts this request out of in-flight supersession.
	NoDedupe bool

	// NoAuth skips bearer injection (login, token refresh).
	NoAuth bool

	// Upload selects the long timeout tier.
	Upload bool
}

// Response is a completed call. Body is fully read and the connection
// released before Do returns.
type Response struct {
	Status    int
	Body      []byte
	FromCache bool
}

// JSON decodes the response body into v.
func (r *Response) JSON(v interface{}) error {
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// Client is the resilient HTTP client. Safe for concurrent use.
type Client struct {
	cfg      Config
	http     *http.Client
	cache    *cache.ResponseCache
	tokens   TokenSource
	bus      *events.Bus
	breaker  *gobreaker.CircuitBreaker[*Response]
	inflight *inflightRegistry
}

// New creates a Client. cache and bus may be nil to disable response
// caching and event emission; tokens may be nil for unauthenticated use.
func New(cfg Config, respCache *cache.ResponseCache, tokens TokenSource, bus *events.Bus) *Client {
	cfg.applyDefaults()

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: cfg.ConnectTimeout,
		}).DialContext,
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: cfg.ConnectTimeout,
	}

	c := &Client{
		cfg:      cfg,
		http:     &http.Client{Transport: transport},
		cache:    respCache,
		tokens:   tokens,
		bus:      bus,
		inflight: newInflightRegistry(),
	}
	c.breaker = newTransportBreaker()
	return c
}

// newTransportBreaker builds the circuit breaker guarding the transport.
// Opens after a 60% failure rate with at least 10 requests in the window;
// recovers through a half-open state after 30 seconds. Only transport-level
// failures count; application error responses are successful round trips.
func newTransportBreaker() *gobreaker.CircuitBreaker[*Response] {
	return gobreaker.NewCircuitBreaker[*Response](gobreaker.Settings{
		Name:        "fieldsync-transport",
		MaxRequests: 3,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < 10 {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= 0.6
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is not a transport failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Info().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state change")
		},
	})
}

// Do executes a request through the full pipeline.
//
// Error taxonomy:
//   - *APIError: non-2xx response, never retried
//   - *TransientError: network failure after the retry budget
//   - ErrSuperseded: canceled because an identical newer request arrived
//   - context errors: the caller's own context ended
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	req.Method = strings.ToUpper(req.Method)
	key := cache.Key(req.Path, req.Query)

	// 1. Cache consult for reads.
	cacheable := req.Method == http.MethodGet && req.CacheTTL > 0 && c.cache != nil
	if cacheable {
		if payload, ok := c.cache.Get(key); ok {
			metrics.CacheHits.Inc()
			return &Response{Status: http.StatusOK, Body: payload, FromCache: true}, nil
		}
		metrics.CacheMisses.Inc()
	}

	// 2. Dedup supersession.
	reqCtx := ctx
	if !req.NoDedupe {
		var release func()
		var superseded bool
		reqCtx, release, superseded = c.inflight.register(ctx, req.Method+" "+key)
		defer release()
		if superseded {
			metrics.DedupSupersessions.Inc()
			logging.Debug().Str("key", key).Msg("superseded older in-flight request")
		}
	}

	body, err := marshalBody(req.Body)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	resp, err := c.doWithRetry(reqCtx, req, body)
	metrics.RequestDuration.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.RequestsTotal.WithLabelValues(req.Method, outcomeLabel(err)).Inc()
		return nil, err
	}
	metrics.RequestsTotal.WithLabelValues(req.Method, "success").Inc()

	// 5. Populate cache or invalidate after success.
	if cacheable {
		c.cache.Put(key, resp.Body, req.CacheTTL)
	} else if isMutation(req.Method) && c.cache != nil {
		prefix := invalidationPrefix(req.Path)
		removed := c.cache.Invalidate(prefix)
		metrics.CacheInvalidations.Add(float64(removed))
		if c.bus != nil {
			c.bus.PublishCacheInvalidated(prefix, removed)
		}
	}

	return resp, nil
}

// doWithRetry runs the attempt loop: transient failures are retried with
// doubling backoff, everything else returns immediately.
func (c *Client) doWithRetry(ctx context.Context, req Request, body []byte) (*Response, error) {
	delay := c.cfg.RetryBaseDelay

	var lastErr error
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			metrics.RequestRetries.Inc()
			logging.Debug().
				Str("method", req.Method).
				Str("path", req.Path).
				Int("attempt", attempt+1).
				Dur("delay", delay).
				Msg("retrying after transient failure")
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, c.cancellationError(ctx)
			}
			delay *= 2
		}

		resp, err := c.breaker.Execute(func() (*Response, error) {
			return c.attempt(ctx, req, body)
		})
		if err == nil {
			return c.classify(resp)
		}

		// Cancellation ends the loop immediately; retrying a canceled
		// request would resurrect the superseded call.
		if ctx.Err() != nil {
			return nil, c.cancellationError(ctx)
		}

		// Breaker rejections and network failures are both transient.
		lastErr = err
	}

	return nil, &TransientError{Err: lastErr}
}

// attempt performs one network round trip. Errors are transport-level only;
// any received HTTP response returns without error.
func (c *Client) attempt(ctx context.Context, req Request, body []byte) (*Response, error) {
	timeout := c.cfg.RequestTimeout
	if req.Upload {
		timeout = c.cfg.UploadTimeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	reqURL := c.cfg.BaseURL + req.Path
	if len(req.Query) > 0 {
		values := url.Values{}
		for name, value := range req.Query {
			values.Set(name, value)
		}
		reqURL += "?" + values.Encode()
	}

	var reader io.Reader = http.NoBody
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, reqURL, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if len(body) > 0 {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	// 6. Bearer injection unless the caller opted out.
	if !req.NoAuth && c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	return &Response{Status: httpResp.StatusCode, Body: respBody}, nil
}

// classify turns a received response into the caller-facing result.
// Non-2xx responses become APIErrors carrying the backend's detail message.
func (c *Client) classify(resp *Response) (*Response, error) {
	if resp.Status >= 200 && resp.Status <= 299 {
		return resp, nil
	}

	apiErr := &APIError{Status: resp.Status}
	var eb errorBody
	if err := json.Unmarshal(resp.Body, &eb); err == nil && eb.Detail != "" {
		apiErr.Detail = eb.Detail
	}
	return nil, apiErr
}

// cancellationError distinguishes supersession from the caller's own
// context ending.
func (c *Client) cancellationError(ctx context.Context) error {
	if cause := context.Cause(ctx); errors.Is(cause, ErrSuperseded) {
		return ErrSuperseded
	}
	return ctx.Err()
}

// DoOrEnqueue executes a mutation, falling back to the offline queue when
// the network is persistently unavailable. Implements "retry first, queue
// on persistent failure": the request gets the full transient retry budget
// before being queued. Returns queued=true when the action was handed to
// the queue instead of completing.
func (c *Client) DoOrEnqueue(ctx context.Context, req Request, q Enqueuer) (resp *Response, queued bool, err error) {
	if !isMutation(req.Method) {
		return nil, false, fmt.Errorf("httpx: refusing to enqueue non-mutating %s request", req.Method)
	}

	resp, err = c.Do(ctx, req)
	if err == nil {
		return resp, false, nil
	}
	if !IsTransient(err) {
		return nil, false, err
	}

	body, merr := marshalBody(req.Body)
	if merr != nil {
		return nil, false, merr
	}
	if qerr := q.Enqueue(ctx, req.Method, req.Path, body); qerr != nil {
		return nil, false, fmt.Errorf("enqueue after transient failure: %w", qerr)
	}

	logging.Info().Str("method", req.Method).Str("path", req.Path).Msg("action queued for later sync")
	return nil, true, nil
}

// Replay re-issues a queued mutation. Replays bypass dedup supersession:
// each queued action is a distinct side effect that must not cancel a
// sibling with the same method and path.
func (c *Client) Replay(ctx context.Context, method, path string, body json.RawMessage) error {
	_, err := c.Do(ctx, Request{
		Method:   method,
		Path:     path,
		Body:     body,
		NoDedupe: true,
	})
	return err
}

// InflightCount reports the number of requests currently in flight.
// Exposed for the diagnostics endpoint.
func (c *Client) InflightCount() int {
	return c.inflight.len()
}

// marshalBody serializes a request body, passing raw bytes through.
func marshalBody(body interface{}) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case []byte:
		return b, nil
	case json.RawMessage:
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		return data, nil
	}
}

// isMutation reports whether method has server-side side effects.
func isMutation(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// invalidationPrefix derives the cache invalidation scope from a mutated
// path: a trailing identifier segment is stripped so a write to
// /orders/5 invalidates everything under /orders, while a write to a
// collection path like /visits invalidates /visits itself.
func invalidationPrefix(path string) string {
	p := strings.TrimRight(path, "/")
	i := strings.LastIndexByte(p, '/')
	if i <= 0 {
		return p
	}
	if isIdentifierSegment(p[i+1:]) {
		return p[:i]
	}
	return p
}

// isIdentifierSegment reports whether a path segment looks like a resource
// ID (numeric or UUID) rather than a collection name.
func isIdentifierSegment(segment string) bool {
	if segment == "" {
		return false
	}
	numeric := true
	for _, r := range segment {
		if r < '0' || r > '9' {
			numeric = false
			break
		}
	}
	if numeric {
		return true
	}
	_, err := uuid.Parse(segment)
	return err == nil
}

// outcomeLabel maps an error to its metrics label.
func outcomeLabel(err error) string {
	switch {
	case errors.Is(err, ErrSuperseded):
		return "canceled"
	case IsTransient(err):
		return "transient"
	default:
		if _, ok := IsAPIError(err); ok {
			return "api_error"
		}
		return "canceled"
	}
}
