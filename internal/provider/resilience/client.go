package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// Predefined errors for resilient operations.
var (
	// ErrCircuitOpen is returned when the circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrRateLimited is returned when the provider kept answering 429 until
	// the retry ladder was exhausted.
	ErrRateLimited = errors.New("rate limited by provider")

	// ErrTransport wraps network-level failures.
	ErrTransport = errors.New("transport error")
)

const defaultMaxBodyBytes = 32 << 20

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies this client for circuit breaker naming.
	Name string

	// Timeout is the request timeout for individual HTTP calls.
	// Default: 30 seconds
	Timeout time.Duration

	// RetryDelays is the retry ladder. Default: DefaultRetryDelays.
	RetryDelays []time.Duration

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// HTTPClient overrides the underlying client (Timeout is ignored then).
	HTTPClient *http.Client

	// Registry, if set, receives this client and its outcomes.
	Registry *Registry

	// MaxBodyBytes bounds response bodies. Default: 32 MiB.
	MaxBodyBytes int64

	Logger zerolog.Logger
}

// DefaultClientConfig returns defaults for the resilient client.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        30 * time.Second,
		RetryDelays:    DefaultRetryDelays,
		CircuitBreaker: &cbConfig,
	}
}

// Client is a resilient HTTP client with circuit breaker and retry logic.
type Client struct {
	name           string
	httpClient     *http.Client
	breakerConfig  CircuitBreakerConfig
	circuitBreaker atomic.Pointer[gobreaker.CircuitBreaker[[]byte]]
	retryDelays    []time.Duration
	registry       *Registry
	maxBody        int64
	logger         zerolog.Logger
}

// NewClient creates a new resilient HTTP client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.RetryDelays == nil {
		cfg.RetryDelays = DefaultRetryDelays
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	logger := cfg.Logger.With().Str("component", "resilience").Str("provider", cfg.Name).Logger()

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.OnStateChange == nil {
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().Str("from", from.String()).Str("to", to.String()).Msg("circuit breaker state changed")
		}
	}

	c := &Client{
		name:           cfg.Name,
		httpClient:     httpClient,
		breakerConfig:  cbConfig,
		retryDelays:    cfg.RetryDelays,
		registry:       cfg.Registry,
		maxBody:        cfg.MaxBodyBytes,
		logger:         logger,
	}

	c.circuitBreaker.Store(NewCircuitBreaker[[]byte](cbConfig))

	if c.registry != nil {
		c.registry.Register(c.name, c)
	}

	return c
}

// Name returns the provider name.
func (c *Client) Name() string { return c.name }

// Reset replaces the breaker with a closed one. Attempts already running
// finish against the old breaker.
func (c *Client) Reset() {
	c.circuitBreaker.Store(NewCircuitBreaker[[]byte](c.breakerConfig))
	c.logger.Info().Msg("circuit breaker reset")
}

// Fetch executes req and returns the body of a 200 response.
//
// 429 answers, 5xx answers and network errors are retried along the ladder.
// Any other status fails immediately with *StatusError. After the ladder is
// exhausted the last classification is returned: ErrRateLimited,
// *ServerError or ErrTransport. ErrCircuitOpen is returned without calling
// the provider when the breaker is open.
func (c *Client) Fetch(ctx context.Context, req *http.Request) ([]byte, error) {
	ladder := backoff.WithContext(NewLadder(c.retryDelays), ctx)

	attempt := 0
	operation := func() ([]byte, error) {
		attempt++
		body, err := c.circuitBreaker.Load().Execute(func() ([]byte, error) {
			return c.do(ctx, req)
		})
		if err == nil {
			return body, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, backoff.Permanent(ErrCircuitOpen)
		}
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			return nil, backoff.Permanent(err)
		}
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, err
	}

	notify := func(err error, delay time.Duration) {
		c.logger.Warn().
			Err(err).
			Int("attempt", attempt).
			Dur("delay", delay).
			Str("url", req.URL.Path).
			Msg("provider call failed, retrying")
	}

	body, err := backoff.RetryNotifyWithData(operation, ladder, notify)
	if err != nil {
		c.recordFailure(err)
		return nil, err
	}

	c.recordSuccess()
	return body, nil
}

func (c *Client) do(ctx context.Context, req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req.Clone(ctx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, ErrRateLimited
	case resp.StatusCode >= 500:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &ServerError{StatusCode: resp.StatusCode}
	default:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody))
	if err != nil {
		return nil, fmt.Errorf("%w: reading body: %v", ErrTransport, err)
	}
	return body, nil
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.registry != nil {
		c.registry.RecordFailure(c.name, err)
	}
}

// countsAsSuccess keeps rate limiting, non-retryable statuses and caller
// cancellation from tripping the breaker.
func countsAsSuccess(err error) bool {
	if err == nil || errors.Is(err, ErrRateLimited) || errors.Is(err, context.Canceled) {
		return true
	}
	var statusErr *StatusError
	return errors.As(err, &statusErr)
}

// ServerError represents an HTTP 5xx server error.
type ServerError struct {
	StatusCode int
}

func (e *ServerError) Error() string {
	return "server error: " + http.StatusText(e.StatusCode)
}

// StatusError is a non-retryable, non-200 answer (4xx other than 429).
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.Load().State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Load().Counts()
}
