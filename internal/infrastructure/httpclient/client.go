package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/GriffinCanCode/GameLab/backend/internal/infrastructure/resilience"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/time/rate"
)

// ErrUnavailable wraps a rejection by an open breaker.
var ErrUnavailable = errors.New("upstream unavailable: circuit breaker open")

// Options configures a Client.
type Options struct {
	Name      string
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Retries is the resty retry count. Callers relaying non-idempotent
	// requests keep it at zero.
	Retries int
	MinWait time.Duration
	MaxWait time.Duration
	// RPS limits outgoing requests; zero means unlimited.
	RPS float64
	// Transport replaces the pooled transport, mostly for tests.
	Transport http.RoundTripper
	// Breaker overrides the default breaker settings.
	Breaker *resilience.Settings
}

// Client wraps resty with rate limiting and a circuit breaker.
type Client struct {
	Resty   *resty.Client
	Limiter *rate.Limiter
	Breaker *resilience.Breaker
	mu      sync.RWMutex
}

// New creates a client. Only transport errors count against the breaker;
// an HTTP status of any kind is a completed call.
func New(opts Options) *Client {
	if opts.Name == "" {
		opts.Name = "http"
	}
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinWait == 0 {
		opts.MinWait = time.Second
	}
	if opts.MaxWait == 0 {
		opts.MaxWait = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "GameLab-Host/1.0"
	}

	transport := opts.Transport
	if transport == nil {
		retryClient := retryablehttp.NewClient()
		retryClient.Logger = nil
		transport = retryClient.HTTPClient.Transport
	}

	restyClient := resty.New().
		SetTransport(transport).
		SetTimeout(opts.Timeout).
		SetRetryCount(opts.Retries).
		SetRetryWaitTime(opts.MinWait).
		SetRetryMaxWaitTime(opts.MaxWait).
		SetHeader("User-Agent", opts.UserAgent)
	if opts.BaseURL != "" {
		restyClient.SetBaseURL(opts.BaseURL)
	}

	settings := resilience.Settings{
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     15 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 10 ||
				(counts.Requests >= 20 && float64(counts.TotalFailures)/float64(counts.Requests) > 0.7)
		},
	}
	if opts.Breaker != nil {
		settings = *opts.Breaker
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RPS), max(1, int(opts.RPS)))
	}

	return &Client{
		Resty:   restyClient,
		Limiter: limiter,
		Breaker: resilience.New(opts.Name, settings),
	}
}

// SetBearerAuth configures bearer token authentication.
func (c *Client) SetBearerAuth(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetAuthToken(token)
}

// SetHeader adds a default header.
func (c *Client) SetHeader(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Resty.SetHeader(key, value)
}

// Request creates a request after the rate limiter admits it.
func (c *Client) Request(ctx context.Context) (*resty.Request, error) {
	if err := c.Limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Resty.R().SetContext(ctx), nil
}

// Execute runs fn under the breaker.
func (c *Client) Execute(fn func() (*resty.Response, error)) (*resty.Response, error) {
	var resp *resty.Response
	err := c.Breaker.Do(func() error {
		var err error
		resp, err = fn()
		return err
	})
	if errors.Is(err, resilience.ErrCircuitOpen) || errors.Is(err, resilience.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w (%s)", ErrUnavailable, c.Breaker.Name())
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// BreakerState returns the current circuit breaker state.
func (c *Client) BreakerState() resilience.State {
	return c.Breaker.State()
}
