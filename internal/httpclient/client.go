// Package httpclient is the shared outbound HTTP layer. Every external
// call names a logical service; the client acquires that service's rate
// limiter, routes the request through a per-service circuit breaker, and
// delegates the actual exchange to the retrying transport. Failures come
// back classified so pipeline stages can decide between retry, degrade,
// and skip without inspecting status codes themselves.
package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"

	"github.com/Unisami/ProspectAI-sub000/internal/errkind"
	"github.com/Unisami/ProspectAI-sub000/internal/pkg/httpretry"
	"github.com/Unisami/ProspectAI-sub000/internal/ratelimit"
)

// Options tunes the shared client.
type Options struct {
	Timeout    time.Duration // per-request hard cap, default 30s
	MaxRetries int           // retry budget handed to the transport

	// OnBreakerChange is invoked whenever a per-service circuit breaker
	// transitions state. The orchestrator uses it to flag services
	// offline in the system status.
	OnBreakerChange func(service string, from, to gobreaker.State)
}

// Client coordinates rate limiting, circuit breaking, and retries for all
// outbound HTTP traffic. Safe for concurrent use.
type Client struct {
	transport httpretry.HTTPDoer
	limiter   *ratelimit.Limiter
	onChange  func(service string, from, to gobreaker.State)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// New builds the shared client over one pooled http.Transport.
func New(limiter *ratelimit.Limiter, opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	base := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
	return &Client{
		transport: httpretry.NewRetryClient(base, opts.MaxRetries),
		limiter:   limiter,
		onChange:  opts.OnBreakerChange,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
	}
}

// NewWithTransport injects a custom transport, used by tests.
func NewWithTransport(limiter *ratelimit.Limiter, transport httpretry.HTTPDoer, opts Options) *Client {
	c := New(limiter, opts)
	c.transport = transport
	return c
}

// Do executes the request on behalf of the named service. The returned
// error is nil only for 2xx/3xx responses; other statuses yield a
// classified error alongside the still-readable response so callers can
// extract error details from the body. On a non-nil response the caller
// owns closing the body.
func (c *Client) Do(ctx context.Context, service string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Acquire(ctx, service, 1); err != nil {
		return nil, err
	}

	req = req.WithContext(ctx)
	result, err := c.breaker(service).Execute(func() (interface{}, error) {
		resp, err := c.transport.Do(req)
		if err != nil {
			return nil, &errkind.Error{Kind: errkind.OfTransport(err), Service: service, Op: req.Method, Err: err}
		}
		if resp.StatusCode >= 400 {
			return resp, &errkind.Error{
				Kind:       errkind.KindFromStatus(resp.StatusCode),
				Service:    service,
				Op:         req.Method,
				RetryAfter: retryAfterHint(resp),
				Err:        fmt.Errorf("%s %s returned status %d", req.Method, req.URL.Path, resp.StatusCode),
			}
		}
		return resp, nil
	})

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &errkind.Error{Kind: errkind.Transient, Service: service, Op: req.Method, Err: err}
	}

	c.recordOutcome(service, err)
	resp, _ := result.(*http.Response)
	return resp, err
}

// GetJSON issues a GET and decodes the JSON response into out. Error
// responses are drained (up to a snippet) and returned classified.
func (c *Client) GetJSON(ctx context.Context, service, url string, headers map[string]string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return c.doJSON(ctx, service, req, headers, out)
}

// PostJSON issues a POST with a JSON body and decodes the JSON response
// into out (skipped when out is nil).
func (c *Client) PostJSON(ctx context.Context, service, url string, headers map[string]string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doJSON(ctx, service, req, headers, out)
}

func (c *Client) doJSON(ctx context.Context, service string, req *http.Request, headers map[string]string, out interface{}) error {
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "application/json")
	}

	resp, err := c.Do(ctx, service, req)
	if err != nil {
		if resp != nil {
			snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			var ke *errkind.Error
			if errors.As(err, &ke) && len(snippet) > 0 {
				ke.Err = fmt.Errorf("%w: %s", ke.Err, bytes.TrimSpace(snippet))
			}
		}
		return err
	}
	defer resp.Body.Close()

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &errkind.Error{Kind: errkind.Parse, Service: service, Op: req.Method,
			Err: fmt.Errorf("decoding response: %w", err)}
	}
	return nil
}

// BreakerState reports the circuit state for a service, for monitoring.
func (c *Client) BreakerState(service string) gobreaker.State {
	return c.breaker(service).State()
}

func (c *Client) breaker(service string) *gobreaker.CircuitBreaker {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cb, ok := c.breakers[service]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        service,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.ConsecutiveFailures > 5 ||
				(counts.Requests >= 10 && failureRatio >= 0.6)
		},
		// Only upstream-health failures trip the circuit; auth mistakes
		// and bad requests are the caller's problem, not the service's.
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			switch errkind.Of(err) {
			case errkind.Transient, errkind.RateLimited:
				return false
			}
			return true
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("[CircuitBreaker] %s: state changed from %s to %s", name, from.String(), to.String())
			if c.onChange != nil {
				c.onChange(name, from, to)
			}
		},
	})
	c.breakers[service] = cb
	return cb
}

// recordOutcome feeds the limiter's adaptive tuner. Rate pressure and
// upstream flakiness count against the service; everything else counts as
// success so client-side mistakes don't shrink throughput.
func (c *Client) recordOutcome(service string, err error) {
	ok := true
	if err != nil {
		switch errkind.Of(err) {
		case errkind.RateLimited, errkind.Transient:
			ok = false
		}
	}
	c.limiter.RecordOutcome(service, ok)
}

func retryAfterHint(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(v, "%d", &secs); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
