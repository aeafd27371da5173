package httpx

import (
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenk/backoff"
	circuit "github.com/rubyist/circuitbreaker"
)

// CircuitBreakerTransport wraps an http.RoundTripper with one circuit
// breaker per upstream host, so a flaky mirror trips independently of
// every other registry. Modeled on the teacher's CircuitBreakerFetcher.
type CircuitBreakerTransport struct {
	next     http.RoundTripper
	breakers map[string]*circuit.Breaker
	mu       sync.RWMutex
}

// NewCircuitBreakerTransport wraps next, defaulting to
// http.DefaultTransport when next is nil.
func NewCircuitBreakerTransport(next http.RoundTripper) *CircuitBreakerTransport {
	if next == nil {
		next = http.DefaultTransport
	}
	return &CircuitBreakerTransport{
		next:     next,
		breakers: make(map[string]*circuit.Breaker),
	}
}

// RoundTrip implements http.RoundTripper, routing through the breaker for
// req.URL.Host.
func (t *CircuitBreakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host
	b := t.getBreaker(host)

	if !b.Ready() {
		return nil, fmt.Errorf("circuit breaker open for host %s", host)
	}

	var resp *http.Response
	err := b.Call(func() error {
		var rtErr error
		resp, rtErr = t.next.RoundTrip(req)
		if rtErr == nil && resp.StatusCode >= 500 {
			return fmt.Errorf("upstream %s returned %d", host, resp.StatusCode)
		}
		return rtErr
	}, 0)

	if err != nil {
		// A RoundTripper must not return both a non-nil response and a
		// non-nil error: net/http's caller is told to ignore resp and
		// never closes its body, so do that here instead.
		if resp != nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
		}
		return nil, err
	}
	return resp, nil
}

func (t *CircuitBreakerTransport) getBreaker(host string) *circuit.Breaker {
	t.mu.RLock()
	b, ok := t.breakers[host]
	t.mu.RUnlock()
	if ok {
		return b
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.breakers[host]; ok {
		return b
	}

	expBackoff := backoff.NewExponentialBackOff()
	expBackoff.InitialInterval = 30 * time.Second
	expBackoff.MaxInterval = 5 * time.Minute
	expBackoff.Multiplier = 2.0
	expBackoff.Reset()

	b = circuit.NewBreakerWithOptions(&circuit.Options{
		BackOff:    expBackoff,
		ShouldTrip: circuit.ThresholdTripFunc(5),
	})
	t.breakers[host] = b
	return b
}

// BreakerState reports "open"/"closed" per host, for health checks.
func (t *CircuitBreakerTransport) BreakerState() map[string]string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	states := make(map[string]string, len(t.breakers))
	for host, b := range t.breakers {
		if b.Tripped() {
			states[host] = "open"
		} else {
			states[host] = "closed"
		}
	}
	return states
}
