// Package httpx provides the HTTP client shared by every server backend:
// retrying JSON and byte-stream fetches, DNS caching, and a per-host
// circuit breaker, modeled after the teacher's fetch.Fetcher.
package httpx

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cenk/backoff"
	"github.com/rs/dnscache"

	"github.com/fhir-pkgs/igpkg/internal/core"
)

const defaultUserAgent = "igpkg/1.0"

// Client is an HTTP client with retry logic for registry and CI server
// requests. Construct with DefaultClient or NewClient.
type Client struct {
	http       *http.Client
	userAgent  string
	maxRetries int
	backoff    func() backoff.BackOff
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the HTTP client timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithMaxRetries sets the maximum number of retries on transient errors
// (429 and 5xx responses).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithUserAgent overrides the default User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithHTTPClient replaces the underlying *http.Client, e.g. to inject a
// transport that accepts invalid TLS certificates for testing, or a
// CircuitBreakerTransport.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithInsecureTLS configures the client to accept invalid TLS
// certificates. Testing only.
func WithInsecureTLS() Option {
	return func(c *Client) {
		t := dnsCachingTransport()
		t.TLSClientConfig = insecureTLSConfig()
		c.http.Transport = t
	}
}

// WithCircuitBreaker wraps the client's transport in a
// CircuitBreakerTransport, tripping per-host after repeated failures
// instead of retrying a server that is already down.
func WithCircuitBreaker() Option {
	return func(c *Client) {
		c.http.Transport = NewCircuitBreakerTransport(c.http.Transport)
	}
}

// NewClient builds a Client with sensible defaults: a 30s timeout, 5
// retries with exponential backoff, retrying on 429 and 5xx responses,
// DNS caching via a 5-minute refresh ticker.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http: &http.Client{
			Timeout:   30 * time.Second,
			Transport: dnsCachingTransport(),
		},
		userAgent:  defaultUserAgent,
		maxRetries: 5,
		backoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 250 * time.Millisecond
			b.MaxInterval = 10 * time.Second
			b.Multiplier = 2.0
			return b
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DefaultClient returns NewClient() with no overrides.
func DefaultClient() *Client {
	return NewClient()
}

// WithUserAgent returns a shallow copy of the client using ua, so the
// original remains usable. Mirrors the teacher's fluent
// DefaultClient().WithUserAgent(...) test idiom.
func (c *Client) WithUserAgent(ua string) *Client {
	clone := *c
	clone.userAgent = ua
	return &clone
}

// sharedDNSResolver is refreshed by a single background ticker for the
// life of the process, rather than one per Client: every Client built
// with the default transport shares it, so constructing many Clients
// (one per request, one per test) never accumulates refresh goroutines.
var sharedDNSResolver = newRefreshingResolver()

func newRefreshingResolver() *dnscache.Resolver {
	resolver := &dnscache.Resolver{}
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			resolver.Refresh(true)
		}
	}()
	return resolver
}

func dnsCachingTransport() *http.Transport {
	resolver := sharedDNSResolver

	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}

	return &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			host, port, err := net.SplitHostPort(addr)
			if err != nil {
				return nil, err
			}
			ips, err := resolver.LookupHost(ctx, host)
			if err != nil {
				return dialer.DialContext(ctx, network, addr)
			}
			var lastErr error
			for _, ip := range ips {
				conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			return nil, lastErr
		},
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// GetJSON fetches url and decodes the JSON body into v.
func (c *Client) GetJSON(ctx context.Context, url string, v any) error {
	body, err := c.GetBody(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return &core.ProtocolError{Backend: "httpx", Name: url, Reason: err.Error()}
	}
	return nil
}

// GetBody fetches url and returns the raw response body, retrying on 429
// and 5xx per the client's backoff policy.
func (c *Client) GetBody(ctx context.Context, url string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, url)
}

// Head issues a HEAD request and returns content length / type, retrying
// on transient failures like GetBody.
func (c *Client) Head(ctx context.Context, url string) (size int64, contentType string, err error) {
	b := c.backoff()
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, b); err != nil {
				return 0, "", err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
		if err != nil {
			return 0, "", fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("User-Agent", c.userAgent)

		resp, err := c.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		_ = resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &core.TransportError{Backend: "httpx", URL: url, StatusCode: resp.StatusCode}
			continue
		}
		if resp.StatusCode == http.StatusNotFound {
			return 0, "", &core.NotFoundError{Backend: "httpx", Name: url}
		}
		if resp.StatusCode != http.StatusOK {
			return 0, "", &core.TransportError{Backend: "httpx", URL: url, StatusCode: resp.StatusCode}
		}

		size = -1
		if cl := resp.Header.Get("Content-Length"); cl != "" {
			if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
				size = n
			}
		}
		return size, resp.Header.Get("Content-Type"), nil
	}
	return 0, "", lastErr
}

func (c *Client) do(ctx context.Context, method, url string) ([]byte, error) {
	b := c.backoff()
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepBackoff(ctx, b); err != nil {
				return nil, err
			}
		}

		body, retry, err := c.attempt(ctx, method, url)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retry {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, url string) (body []byte, retry bool, err error) {
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, false, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json, */*")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("%s %s: %w", method, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, true, fmt.Errorf("reading body: %w", err)
		}
		return b, false, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, false, &core.NotFoundError{Backend: "httpx", Name: url}

	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, true, &core.TransportError{Backend: "httpx", URL: url, StatusCode: resp.StatusCode}

	default:
		limited, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, false, &core.TransportError{
			Backend:    "httpx",
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("%s", string(limited)),
		}
	}
}

func sleepBackoff(ctx context.Context, b backoff.BackOff) error {
	d := b.NextBackOff()
	if d == backoff.Stop {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
