package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// State is the circuit breaker state. There is no half-open state: once the
// reset timeout elapses the breaker closes and the next call is a normal
// attempt.
type State int

const (
	StateClosed State = iota
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// BreakerStats is a read-only snapshot of a breaker.
type BreakerStats struct {
	State        string `json:"state"`
	IsOpen       bool   `json:"is_open"`
	FailureCount int    `json:"failure_count"`
	SuccessCount int    `json:"success_count"`
	Threshold    int    `json:"threshold"`
	ResetTimeout int64  `json:"reset_timeout_ms"`
}

// Breaker counts cache failures since the last success and, once the count
// reaches the threshold, opens for resetTimeout. While open, callers skip the
// cache path entirely.
//
// The reset is a timer owned by the breaker; Close cancels it.
type Breaker struct {
	name         string
	threshold    int
	resetTimeout time.Duration
	log          zerolog.Logger

	mu        sync.Mutex
	state     State
	failures  int
	successes int
	stopTimer func() bool
	closed    bool

	// afterFunc schedules f after d and returns a cancel func. Tests swap it.
	afterFunc func(d time.Duration, f func()) (stop func() bool)
}

// NewBreaker returns a closed breaker. Non-positive arguments fall back to a
// threshold of 5 and a reset timeout of one minute.
func NewBreaker(name string, threshold int, resetTimeout time.Duration, logger zerolog.Logger) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if resetTimeout <= 0 {
		resetTimeout = time.Minute
	}
	breakerOpen.WithLabelValues(name).Set(0)
	return &Breaker{
		name:         name,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		log:          logger.With().Str("breaker", name).Logger(),
		afterFunc: func(d time.Duration, f func()) func() bool {
			return time.AfterFunc(d, f).Stop
		},
	}
}

// Name returns the breaker's name.
func (b *Breaker) Name() string { return b.name }

// Allow reports whether the cache path may be attempted.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == StateClosed
}

// Success records a successful cache operation.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.successes++
}

// Failure records a failed cache operation and opens the breaker when the
// threshold is reached. It reports whether this call opened it.
func (b *Breaker) Failure(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.state == StateOpen || b.failures < b.threshold {
		return false
	}
	b.state = StateOpen
	breakerOpen.WithLabelValues(b.name).Set(1)
	breakerTransitions.WithLabelValues(b.name, StateOpen.String()).Inc()
	b.log.Error().Err(err).
		Int("failures", b.failures).
		Dur("reset_timeout", b.resetTimeout).
		Msg("circuit breaker opened")
	if !b.closed {
		b.stopTimer = b.afterFunc(b.resetTimeout, b.reset)
	}
	return true
}

// reset closes the breaker and clears the failure count.
func (b *Breaker) reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopTimer = nil
	if b.state != StateOpen {
		return
	}
	b.state = StateClosed
	b.failures = 0
	breakerOpen.WithLabelValues(b.name).Set(0)
	breakerTransitions.WithLabelValues(b.name, StateClosed.String()).Inc()
	b.log.Info().Msg("circuit breaker closed")
}

// Stats returns a snapshot of the breaker.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:        b.state.String(),
		IsOpen:       b.state == StateOpen,
		FailureCount: b.failures,
		SuccessCount: b.successes,
		Threshold:    b.threshold,
		ResetTimeout: b.resetTimeout.Milliseconds(),
	}
}

// Close cancels a pending reset. A closed breaker keeps its state but never
// schedules another reset.
func (b *Breaker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.stopTimer != nil {
		b.stopTimer()
		b.stopTimer = nil
	}
}

// ExecuteWithFallback runs cacheOp unless the breaker is open. Any cacheOp
// error, ErrCacheMiss included, is recorded as a failure and absorbed; the
// result then comes from fallbackOp, whose error is returned unchanged.
func ExecuteWithFallback[T any](ctx context.Context, b *Breaker, op string, cacheOp, fallbackOp func(context.Context) (T, error)) (T, error) {
	if !b.Allow() {
		lookups.WithLabelValues(b.name, op, "skipped").Inc()
		fallbacks.WithLabelValues(b.name, op).Inc()
		return fallbackOp(ctx)
	}

	v, err := cacheOp(ctx)
	if err == nil {
		b.Success()
		lookups.WithLabelValues(b.name, op, "hit").Inc()
		return v, nil
	}

	if errors.Is(err, ErrCacheMiss) {
		lookups.WithLabelValues(b.name, op, "miss").Inc()
		b.log.Debug().Str("op", op).Msg("cache miss")
	} else {
		lookups.WithLabelValues(b.name, op, "error").Inc()
		b.log.Warn().Err(err).Str("op", op).Msg("cache read failed")
	}
	b.Failure(err)

	fallbacks.WithLabelValues(b.name, op).Inc()
	return fallbackOp(ctx)
}
