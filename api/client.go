// Package api talks to the upstream market data providers.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"coinbot.ai/cache"
)

const userAgent = "coinbot/1.0"

// ErrNotFound is returned when the upstream has no data for the key asked
// about. CoinMarketCap answers 200 with the key missing, CoinGecko with an
// empty list or a 404.
var ErrNotFound = errors.New("not found")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	API  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: HTTP %d", e.API, e.Code)
}

// Client wraps http.Client with rate limiting, backoff, stats and an
// optional response cache. It is shared by every provider.
type Client struct {
	client     *http.Client
	limiter    *limiter
	stats      *Stats
	cache      cache.Cache
	ttl        time.Duration
	maxBackoff time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMinInterval spaces calls to the same API at least d apart.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		c.limiter.minInterval = d
	}
}

// WithCache keeps successful GET bodies for ttl.
func WithCache(cc cache.Cache, ttl time.Duration) Option {
	return func(c *Client) {
		c.cache = cc
		c.ttl = ttl
	}
}

// WithMaxBackoff caps the wait after consecutive errors. Zero disables it.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Client) {
		c.maxBackoff = d
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		client:     &http.Client{Timeout: 30 * time.Second},
		limiter:    newLimiter(0),
		stats:      NewStats(),
		maxBackoff: 60 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Stats returns the per-API call statistics.
func (c *Client) Stats() *Stats {
	return c.stats
}

// Request wraps an HTTP request with the API name used for stats and
// rate limiting.
type Request struct {
	*http.Request
	API string
}

// NewRequest creates a new API request with tracking
func NewRequest(ctx context.Context, api, method, url string) (*Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	return &Request{Request: req, API: api}, nil
}

// Do executes the request with backoff, rate limiting and stats. Responses
// with an error status are returned along with a *StatusError so the
// caller may still read the body.
func (c *Client) Do(req *Request) (*http.Response, error) {
	ctx := req.Context()
	api := req.API
	if len(api) == 0 {
		api = "http"
	}

	if backoff := c.stats.Backoff(api, c.maxBackoff); backoff > 0 {
		log.Info().Str("component", "http").Str("api", api).Dur("backoff", backoff).Msg("backing off")
		if err := sleep(ctx, backoff); err != nil {
			return nil, err
		}
	}

	if err := c.limiter.wait(ctx, api); err != nil {
		return nil, err
	}

	c.stats.RecordCall(api)
	start := time.Now()

	resp, err := c.client.Do(req.Request)

	ev := log.Debug().Str("component", "http").Str("api", api).Str("method", req.Method).
		Str("url", truncate(req.URL.Redacted(), 80)).Dur("took", time.Since(start))
	if resp != nil {
		ev = ev.Int("status", resp.StatusCode)
	}
	ev.Msg("request")

	if err != nil {
		c.stats.RecordError(api, err)
		return nil, err
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		c.stats.RecordRateLimit(api)
		return resp, &StatusError{API: api, Code: resp.StatusCode}
	}

	if resp.StatusCode >= 400 {
		serr := &StatusError{API: api, Code: resp.StatusCode}
		c.stats.RecordError(api, serr)
		return resp, serr
	}

	c.stats.RecordSuccess(api)
	return resp, nil
}

// GetJSON returns the body of a successful response, from the cache when
// it holds one for the same URL.
func (c *Client) GetJSON(req *Request) ([]byte, error) {
	key := req.API + " " + req.URL.String()

	if c.cache != nil {
		if v, ok := c.cache.Get(req.Context(), key); ok {
			c.stats.RecordCacheHit(req.API)
			return []byte(v), nil
		}
	}

	resp, err := c.Do(req)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s: reading body: %w", req.API, err)
	}

	if c.cache != nil {
		c.cache.Set(req.Context(), key, string(b), c.ttl)
	}
	return b, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
