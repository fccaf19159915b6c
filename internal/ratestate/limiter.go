// Package ratestate holds the process-wide pacing and circuit-breaker state
// for one upstream provider.
//
// A Limiter guarantees at most one dispatch per interval. The interval grows
// after rejections (Bump) and decays back toward the base after successes
// (Relax). MarkDisabled opens the breaker until a deadline that is mirrored
// through a DeadlineStore, so a restarted process does not immediately
// retry a provider that recently rejected it.
package ratestate

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Defaults.
const (
	DefaultBaseInterval = 1150 * time.Millisecond
	DefaultMaxInterval  = 30 * time.Second
	DefaultRelaxFactor  = 0.9
)

// Config configures a Limiter.
type Config struct {
	// Name identifies the provider in logs.
	Name string

	// BaseInterval is the minimum spacing between dispatches (default: 1.15s).
	BaseInterval time.Duration

	// MaxInterval caps Bump when no explicit cap is given (default: 30s).
	MaxInterval time.Duration

	// RelaxFactor multiplies the interval on each success (default: 0.9).
	RelaxFactor float64

	// Store persists the breaker deadline (default: in-memory).
	Store DeadlineStore

	Logger zerolog.Logger

	// Now overrides the clock in tests.
	Now func() time.Time
}

// Limiter is one provider's RateState. It is safe for concurrent use; no
// lock is held while Wait blocks.
type Limiter struct {
	name        string
	base        time.Duration
	max         time.Duration
	relaxFactor float64
	store       DeadlineStore
	logger      zerolog.Logger
	now         func() time.Time

	mu            sync.Mutex
	interval      time.Duration
	pacer         *rate.Limiter
	lastDispatch  time.Time
	disabledUntil time.Time
}

// New creates a Limiter.
func New(cfg Config) *Limiter {
	base := cfg.BaseInterval
	if base <= 0 {
		base = DefaultBaseInterval
	}

	maxInterval := cfg.MaxInterval
	if maxInterval < base {
		maxInterval = DefaultMaxInterval
		if maxInterval < base {
			maxInterval = base
		}
	}

	relax := cfg.RelaxFactor
	if relax <= 0 || relax >= 1 {
		relax = DefaultRelaxFactor
	}

	store := cfg.Store
	if store == nil {
		store = NewMemoryStore()
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Limiter{
		name:        cfg.Name,
		base:        base,
		max:         maxInterval,
		relaxFactor: relax,
		store:       store,
		logger:      cfg.Logger.With().Str("component", "ratestate").Str("provider", cfg.Name).Logger(),
		now:         now,
		interval:    base,
		pacer:       newPacer(base),
	}
}

func newPacer(interval time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(interval), 1)
}

// Name returns the provider name.
func (l *Limiter) Name() string { return l.name }

// Wait blocks until the current interval has elapsed since the previous
// dispatch and records this dispatch. It only fails when ctx ends.
//
// The pacer schedules slots from its own reservations, so a waiter that wakes
// late would shorten the following gap. The dispatch time is therefore
// checked against lastDispatch as well.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	pacer := l.pacer
	l.mu.Unlock()

	if err := pacer.Wait(ctx); err != nil {
		return err
	}

	for {
		l.mu.Lock()
		now := time.Now()
		remaining := time.Duration(0)
		if !l.lastDispatch.IsZero() {
			remaining = l.lastDispatch.Add(l.interval).Sub(now)
		}
		if remaining <= 0 {
			l.lastDispatch = now
			l.mu.Unlock()
			return nil
		}
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Interval returns the current minimum spacing.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}

// LastDispatch returns when Wait last let a request through.
func (l *Limiter) LastDispatch() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDispatch
}

// Bump multiplies the interval by factor, capped at limit (MaxInterval when
// limit is zero).
func (l *Limiter) Bump(factor float64, limit time.Duration) {
	if limit <= 0 {
		limit = l.max
	}
	if factor < 1 {
		factor = 1
	}

	l.mu.Lock()
	next := time.Duration(math.Min(float64(l.interval)*factor, float64(limit)))
	if next < l.base {
		next = l.base
	}
	l.setIntervalLocked(next)
	l.mu.Unlock()

	l.logger.Warn().Dur("interval", next).Msg("pacing interval increased")
}

// Relax decays the interval toward the base interval.
func (l *Limiter) Relax() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.interval <= l.base {
		return
	}
	next := time.Duration(float64(l.interval) * l.relaxFactor)
	if next < l.base {
		next = l.base
	}
	l.setIntervalLocked(next)
}

func (l *Limiter) setIntervalLocked(d time.Duration) {
	l.interval = d
	l.pacer.SetLimit(rate.Every(d))
}

// MarkDisabled opens the breaker for d. A later existing deadline is kept.
func (l *Limiter) MarkDisabled(d time.Duration) {
	deadline := l.now().Add(d)

	l.mu.Lock()
	if l.disabledUntil.After(deadline) {
		deadline = l.disabledUntil
	}
	l.disabledUntil = deadline
	l.mu.Unlock()

	if err := l.store.Save(deadline); err != nil {
		l.logger.Error().Err(err).Msg("failed to persist breaker deadline")
	}

	l.logger.Warn().Time("until", deadline).Msg("provider disabled")
}

// DisabledUntil returns the effective breaker deadline, merging the stored
// value (possibly written by another process) with the in-memory one.
func (l *Limiter) DisabledUntil() time.Time {
	stored, err := l.store.Load()
	if err != nil {
		l.logger.Debug().Err(err).Msg("reading breaker deadline")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if stored.After(l.disabledUntil) {
		l.disabledUntil = stored
	}
	return l.disabledUntil
}

// IsDisabled reports whether the breaker deadline lies in the future.
func (l *Limiter) IsDisabled() bool {
	return l.now().Before(l.DisabledUntil())
}

// Reset clears the breaker in memory and in the store and restores the base
// interval with no pacing history.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.disabledUntil = time.Time{}
	l.interval = l.base
	l.pacer = newPacer(l.base)
	l.lastDispatch = time.Time{}
	l.mu.Unlock()

	if err := l.store.Clear(); err != nil {
		l.logger.Error().Err(err).Msg("failed to clear breaker deadline")
	}

	l.logger.Info().Msg("rate state reset")
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	Provider      string        `json:"provider"`
	Interval      time.Duration `json:"interval"`
	LastDispatch  time.Time     `json:"lastDispatch"`
	DisabledUntil time.Time     `json:"disabledUntil"`
	Disabled      bool          `json:"disabled"`
}

// Status returns a snapshot of the state.
func (l *Limiter) Status() Status {
	until := l.DisabledUntil()

	l.mu.Lock()
	defer l.mu.Unlock()
	return Status{
		Provider:      l.name,
		Interval:      l.interval,
		LastDispatch:  l.lastDispatch,
		DisabledUntil: until,
		Disabled:      l.now().Before(until),
	}
}
