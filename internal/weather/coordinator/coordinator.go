// Package coordinator resolves raw provider payloads through the memory
// tier, the disk tier, in-flight de-duplication and finally a single
// serialized worker that is the only place issuing provider calls.
package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/climaglyph/climaglyph/internal/flight"
	"github.com/climaglyph/climaglyph/internal/provider/resilience"
	"github.com/climaglyph/climaglyph/internal/ratestate"
	"github.com/climaglyph/climaglyph/internal/weather"
	"github.com/climaglyph/climaglyph/internal/weather/cache"
)

const meterName = "github.com/climaglyph/climaglyph/internal/weather/coordinator"

// ErrClosed is returned for requests that were queued when the coordinator
// shut down.
var ErrClosed = fmt.Errorf("%w: coordinator closed", weather.ErrTemporarilyUnavailable)

// Requester turns request keys into provider HTTP requests.
type Requester interface {
	// Provider names the upstream; it selects the rate state and client.
	Provider() string

	// BuildRequest returns the GET request for key.
	BuildRequest(ctx context.Context, key weather.RequestKey) (*http.Request, error)
}

// Result is a resolved raw payload and the tier that served it.
type Result struct {
	Payload []byte
	Tier    weather.Tier
}

// Config holds configuration for the coordinator.
type Config struct {
	Logger zerolog.Logger

	// Memory is the in-process tier (default: new empty tier).
	Memory *cache.Memory

	// Disk is the on-disk tier; nil disables it.
	Disk *cache.Disk

	// Limiters holds the rate state per provider. Providers without an entry
	// get a default limiter on first use.
	Limiters map[string]*ratestate.Limiter

	// Clients holds the HTTP client per provider. Providers without an entry
	// get a client built from RetryDelays and Registry.
	Clients map[string]*resilience.Client

	// RetryDelays is the ladder for default clients (default: 2s..80s).
	RetryDelays []time.Duration

	// Registry receives default clients.
	Registry *resilience.Registry

	// Cooldown is how long a provider stays disabled after its final rate
	// limit rejection (default: 60s).
	Cooldown time.Duration

	// BumpFactor multiplies the pacing interval after a final rate limit
	// rejection (default: 2), capped at BumpCap (default: the limiter's max).
	BumpFactor float64
	BumpCap    time.Duration

	// QueueSize bounds the worker queue (default: 1024).
	QueueSize int

	// Meter records the coordinator counters (default: the global meter).
	Meter metric.Meter
}

// Coordinator is the request coordinator. It is safe for concurrent use.
type Coordinator struct {
	logger      zerolog.Logger
	memory      *cache.Memory
	disk        *cache.Disk
	retryDelays []time.Duration
	registry    *resilience.Registry
	cooldown    time.Duration
	bumpFactor  float64
	bumpCap     time.Duration

	mu       sync.Mutex
	limiters map[string]*ratestate.Limiter
	clients  map[string]*resilience.Client

	flights flight.Group[Result]
	queue   chan *task

	startOnce sync.Once
	closeOnce sync.Once
	stopped   chan struct{}
	cancel    context.CancelFunc
	done      chan struct{}

	resolves metric.Int64Counter
	fetches  metric.Int64Counter
}

type task struct {
	requester Requester
	key       weather.RequestKey
	done      chan taskResult
}

type taskResult struct {
	result Result
	err    error
}

// New creates a coordinator. The worker starts on first use or on Start.
func New(cfg Config) *Coordinator {
	memory := cfg.Memory
	if memory == nil {
		memory = cache.NewMemory()
	}

	retryDelays := cfg.RetryDelays
	if retryDelays == nil {
		retryDelays = resilience.DefaultRetryDelays
	}

	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}

	bumpFactor := cfg.BumpFactor
	if bumpFactor < 1 {
		bumpFactor = 2
	}

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1024
	}

	limiters := make(map[string]*ratestate.Limiter, len(cfg.Limiters))
	for name, l := range cfg.Limiters {
		limiters[name] = l
	}
	clients := make(map[string]*resilience.Client, len(cfg.Clients))
	for name, cl := range cfg.Clients {
		clients[name] = cl
	}

	c := &Coordinator{
		logger:      cfg.Logger.With().Str("component", "coordinator").Logger(),
		memory:      memory,
		disk:        cfg.Disk,
		retryDelays: retryDelays,
		registry:    cfg.Registry,
		cooldown:    cooldown,
		bumpFactor:  bumpFactor,
		bumpCap:     cfg.BumpCap,
		limiters:    limiters,
		clients:     clients,
		queue:       make(chan *task, queueSize),
		stopped:     make(chan struct{}),
		done:        make(chan struct{}),
	}
	c.initMetrics(cfg.Meter)

	return c
}

func (c *Coordinator) initMetrics(meter metric.Meter) {
	if meter == nil {
		meter = otel.Meter(meterName)
	}
	fallback := noop.NewMeterProvider().Meter(meterName)

	var err error
	c.resolves, err = meter.Int64Counter(
		"climaglyph.coordinator.resolves",
		metric.WithDescription("Resolved payloads by serving tier"),
		metric.WithUnit("{payload}"),
	)
	if err != nil {
		c.logger.Warn().Err(err).Msg("creating resolves counter")
		c.resolves, _ = fallback.Int64Counter("climaglyph.coordinator.resolves")
	}

	c.fetches, err = meter.Int64Counter(
		"climaglyph.coordinator.fetches",
		metric.WithDescription("Provider fetches by outcome"),
		metric.WithUnit("{fetch}"),
	)
	if err != nil {
		c.logger.Warn().Err(err).Msg("creating fetches counter")
		c.fetches, _ = fallback.Int64Counter("climaglyph.coordinator.fetches")
	}
}

// Start launches the worker. It is idempotent and called lazily by Resolve.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()
		go c.run(ctx)
	})
}

// Close stops the worker after its current task and fails queued tasks
// with ErrClosed.
func (c *Coordinator) Close() {
	c.closeOnce.Do(func() {
		close(c.stopped)

		started := true
		c.startOnce.Do(func() { started = false })

		c.mu.Lock()
		cancel := c.cancel
		c.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if started {
			<-c.done
		}
	})
}

// Resolve returns the raw payload for key: memory tier, then disk tier,
// then an in-flight call for the same key, then a new fetch through the
// worker. Errors always wrap one of the weather taxonomy sentinels.
//
// When ctx ends the caller stops waiting but the fetch still completes and
// populates the caches.
func (c *Coordinator) Resolve(ctx context.Context, r Requester, key weather.RequestKey) (Result, error) {
	if payload, ok := c.memory.Get(key); ok {
		c.countResolve(ctx, weather.TierMemory)
		return Result{Payload: payload, Tier: weather.TierMemory}, nil
	}

	if c.disk != nil {
		if payload, ok := c.disk.Get(key); ok {
			c.memory.Set(key, payload)
			c.countResolve(ctx, weather.TierDisk)
			return Result{Payload: payload, Tier: weather.TierDisk}, nil
		}
	}

	c.Start()

	res, shared, err := c.flights.Do(ctx, key.String(), func() (Result, error) {
		if payload, ok := c.memory.Get(key); ok {
			return Result{Payload: payload, Tier: weather.TierMemory}, nil
		}
		return c.enqueue(r, key)
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return Result{}, fmt.Errorf("%w: %w", weather.ErrTemporarilyUnavailable, err)
		}
		return Result{}, err
	}

	if shared {
		c.logger.Debug().Str("key", key.String()).Msg("joined in-flight request")
	}
	c.countResolve(ctx, res.Tier)
	return res, nil
}

func (c *Coordinator) enqueue(r Requester, key weather.RequestKey) (Result, error) {
	t := &task{requester: r, key: key, done: make(chan taskResult, 1)}

	select {
	case c.queue <- t:
	case <-c.stopped:
		return Result{}, ErrClosed
	}

	select {
	case out := <-t.done:
		return out.result, out.err
	case <-c.stopped:
		return Result{}, ErrClosed
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-c.queue:
			res, err := c.process(ctx, t)
			t.done <- taskResult{result: res, err: err}
		}
	}
}

func (c *Coordinator) process(ctx context.Context, t *task) (Result, error) {
	provider := t.requester.Provider()
	limiter := c.Limiter(provider)
	client := c.client(provider)
	log := c.logger.With().Str("provider", provider).Str("key", t.key.String()).Logger()

	if limiter.IsDisabled() {
		c.countFetch(ctx, provider, "breaker_open")
		return Result{}, fmt.Errorf("%w: %s disabled until %s", weather.ErrTemporarilyUnavailable,
			provider, limiter.DisabledUntil().UTC().Format(time.RFC3339))
	}

	if err := limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("%w: %w", weather.ErrTemporarilyUnavailable, err)
	}

	req, err := t.requester.BuildRequest(ctx, t.key)
	if err != nil {
		c.countFetch(ctx, provider, "bad_request")
		return Result{}, fmt.Errorf("%w: building %s request: %v", weather.ErrConfiguration, provider, err)
	}

	log.Debug().Str("url", req.URL.Redacted()).Msg("fetching from provider")

	body, err := client.Fetch(ctx, req)
	if err != nil {
		return Result{}, c.classify(ctx, log, limiter, provider, err)
	}

	if !json.Valid(body) {
		c.countFetch(ctx, provider, "malformed")
		log.Warn().Int("bytes", len(body)).Msg("provider returned invalid JSON")
		return Result{}, fmt.Errorf("%w: %s payload is not JSON", weather.ErrMalformedResponse, provider)
	}

	limiter.Relax()

	if c.disk != nil {
		if err := c.disk.Put(t.key, body); err != nil {
			log.Warn().Err(err).Msg("failed to persist payload")
		}
	}
	c.memory.Set(t.key, body)

	c.countFetch(ctx, provider, "ok")
	return Result{Payload: body, Tier: weather.TierNetwork}, nil
}

func (c *Coordinator) classify(ctx context.Context, log zerolog.Logger, limiter *ratestate.Limiter, provider string, err error) error {
	var statusErr *resilience.StatusError

	switch {
	case errors.Is(err, resilience.ErrRateLimited):
		c.countFetch(ctx, provider, "rate_limited")
		limiter.Bump(c.bumpFactor, c.bumpCap)
		limiter.MarkDisabled(c.cooldown)
		c.registry.RecordRateLimited(provider)
		log.Warn().Dur("cooldown", c.cooldown).Msg("rate limit retries exhausted")
		return fmt.Errorf("%w: %s rate limited", weather.ErrTemporarilyUnavailable, provider)

	case errors.As(err, &statusErr):
		c.countFetch(ctx, provider, "rejected")
		log.Warn().Int("status", statusErr.StatusCode).Msg("provider rejected request")
		return fmt.Errorf("%w: %s answered %d", weather.ErrInsufficientData, provider, statusErr.StatusCode)

	default:
		c.countFetch(ctx, provider, "unavailable")
		log.Warn().Err(err).Msg("provider unavailable")
		return fmt.Errorf("%w: %s: %v", weather.ErrTemporarilyUnavailable, provider, err)
	}
}

// Limiter returns the rate state for provider, creating a default one if
// none was configured.
func (c *Coordinator) Limiter(provider string) *ratestate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[provider]
	if !ok {
		l = ratestate.New(ratestate.Config{Name: provider, Logger: c.logger})
		c.limiters[provider] = l
	}
	return l
}

func (c *Coordinator) client(provider string) *resilience.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	cl, ok := c.clients[provider]
	if !ok {
		cl = resilience.NewClient(resilience.ClientConfig{
			Name:        provider,
			RetryDelays: c.retryDelays,
			Registry:    c.registry,
			Logger:      c.logger,
		})
		c.clients[provider] = cl
	}
	return cl
}

// ResetBreaker clears the rate state and the circuit breaker of provider so
// the next request is dispatched immediately. It reports false for unknown
// providers.
func (c *Coordinator) ResetBreaker(provider string) bool {
	c.mu.Lock()
	l, hasLimiter := c.limiters[provider]
	cl, hasClient := c.clients[provider]
	c.mu.Unlock()
	if !hasLimiter && !hasClient {
		return false
	}
	if hasLimiter {
		l.Reset()
	}
	if hasClient {
		cl.Reset()
	}
	return true
}

// Status is a diagnostic snapshot.
type Status struct {
	Providers     []ratestate.Status `json:"providers"`
	Pending       int                `json:"pending"`
	Queued        int                `json:"queued"`
	MemoryEntries int                `json:"memoryEntries"`
}

// Status returns the current state of every known provider and the queues.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	limiters := make([]*ratestate.Limiter, 0, len(c.limiters))
	for _, l := range c.limiters {
		limiters = append(limiters, l)
	}
	c.mu.Unlock()

	s := Status{
		Pending:       c.flights.Pending(),
		Queued:        len(c.queue),
		MemoryEntries: c.memory.Len(),
	}
	for _, l := range limiters {
		s.Providers = append(s.Providers, l.Status())
	}
	sort.Slice(s.Providers, func(i, j int) bool { return s.Providers[i].Provider < s.Providers[j].Provider })
	return s
}

func (c *Coordinator) countResolve(ctx context.Context, tier weather.Tier) {
	c.resolves.Add(ctx, 1, metric.WithAttributes(attribute.String("tier", string(tier))))
}

func (c *Coordinator) countFetch(ctx context.Context, provider, outcome string) {
	c.fetches.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}
