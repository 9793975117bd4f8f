// Package retry re-runs failing operations with configurable backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/devicelab-dev/zylix-test/pkg/core"
	"github.com/devicelab-dev/zylix-test/pkg/logger"
)

// Strategy selects how the delay grows between attempts.
type Strategy int

const (
	StrategyExponential Strategy = iota
	StrategyFixed
	StrategyLinear
	StrategyImmediate
)

func (s Strategy) String() string {
	switch s {
	case StrategyFixed:
		return "fixed"
	case StrategyLinear:
		return "linear"
	case StrategyImmediate:
		return "immediate"
	default:
		return "exponential"
	}
}

// ParseStrategy parses a strategy name. "none" is an alias for immediate.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(s) {
	case "", "exponential":
		return StrategyExponential, nil
	case "fixed":
		return StrategyFixed, nil
	case "linear":
		return StrategyLinear, nil
	case "immediate", "none":
		return StrategyImmediate, nil
	}
	return 0, fmt.Errorf("unknown retry strategy %q", s)
}

// Config controls an Executor.
type Config struct {
	Strategy     Strategy
	MaxRetries   int // Retries after the first attempt
	InitialDelay time.Duration
	MaxDelay     time.Duration // Zero means unbounded
	Multiplier   float64       // Exponential growth factor, default 2
	Jitter       float64       // Fraction of the delay, 0..1

	// RetryOn, when non-empty, limits retries to errors matching one of its
	// entries. NoRetryOn entries are never retried and take precedence.
	RetryOn   []error
	NoRetryOn []error

	// OnRetry is called before each sleep.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultConfig returns exponential backoff from 100ms, three retries.
func DefaultConfig() Config {
	return Config{
		Strategy:     StrategyExponential,
		MaxRetries:   3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2,
		Jitter:       0.1,
	}
}

// Stats describes one Execute call.
type Stats struct {
	Attempts   int
	TotalDelay time.Duration
	LastError  error
	Succeeded  bool
}

// Executor runs operations under a Config. It is safe for concurrent use;
// Stats reports the most recently finished call.
type Executor struct {
	cfg   Config
	log   logrus.FieldLogger
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	stats Stats
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(l logrus.FieldLogger) Option {
	return func(e *Executor) { e.log = l }
}

// WithSeed makes jitter deterministic.
func WithSeed(seed uint64) Option {
	return func(e *Executor) {
		r := rand.New(rand.NewPCG(seed, seed))
		var mu sync.Mutex
		e.rand = func() float64 {
			mu.Lock()
			defer mu.Unlock()
			return r.Float64()
		}
	}
}

// New creates an Executor.
func New(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:   cfg,
		log:   logger.Component("retry"),
		rand:  rand.Float64,
		sleep: sleep,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the executor's configuration.
func (e *Executor) Config() Config { return e.cfg }

// Stats returns the statistics of the last finished call.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// Execute runs op until it succeeds, fails with a non-retryable error, or
// the retries are used up. The operation's last error is returned as is.
func (e *Executor) Execute(ctx context.Context, op func(ctx context.Context) error) error {
	_, err := e.Run(ctx, op)
	return err
}

// Do is Execute for operations that return a value.
func Do[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error)) (T, error) {
	var out T
	_, err := e.Run(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err == nil {
			out = v
		}
		return err
	})
	return out, err
}

// Run is Execute returning the call's statistics.
func (e *Executor) Run(ctx context.Context, op func(ctx context.Context) error) (Stats, error) {
	var st Stats
	defer func() {
		e.mu.Lock()
		e.stats = st
		e.mu.Unlock()
	}()

	for {
		if err := ctx.Err(); err != nil {
			st.LastError = contextError(err)
			return st, st.LastError
		}

		st.Attempts++
		err := op(ctx)
		if err == nil {
			st.Succeeded = true
			st.LastError = nil
			return st, nil
		}
		st.LastError = err

		if !e.ShouldRetry(err) || st.Attempts > e.cfg.MaxRetries {
			return st, err
		}

		delay := e.Delay(st.Attempts)
		e.log.WithFields(logrus.Fields{
			"attempt": st.Attempts,
			"delay":   delay,
			"error":   err.Error(),
		}).Debug("retrying")
		if e.cfg.OnRetry != nil {
			e.cfg.OnRetry(st.Attempts, err, delay)
		}
		if err := e.sleep(ctx, delay); err != nil {
			st.LastError = err
			return st, err
		}
		st.TotalDelay += delay
	}
}

// ShouldRetry applies the deny and allow lists to err.
func (e *Executor) ShouldRetry(err error) bool {
	if matches(err, e.cfg.NoRetryOn) {
		return false
	}
	if len(e.cfg.RetryOn) > 0 {
		return matches(err, e.cfg.RetryOn)
	}
	return true
}

func matches(err error, targets []error) bool {
	for _, t := range targets {
		if errors.Is(err, t) {
			return true
		}
	}
	return false
}

// Delay returns the wait after the given failed attempt (1-based),
// including jitter.
func (e *Executor) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.cfg.InitialDelay)
	var d float64
	switch e.cfg.Strategy {
	case StrategyFixed:
		d = base
	case StrategyLinear:
		d = base * float64(attempt)
	case StrategyImmediate:
		return 0
	default:
		m := e.cfg.Multiplier
		if m <= 0 {
			m = 2
		}
		d = base * math.Pow(m, float64(attempt-1))
	}

	if e.cfg.MaxDelay > 0 && d > float64(e.cfg.MaxDelay) {
		d = float64(e.cfg.MaxDelay)
	}
	if j := e.cfg.Jitter; j > 0 {
		d += (e.rand()*2 - 1) * j * d
	}
	if d < 0 {
		return 0
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return contextError(ctx.Err())
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return contextError(ctx.Err())
	case <-t.C:
		return nil
	}
}

// contextError maps a context error to the engine's taxonomy.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ErrTimeout.WithCause(err)
	}
	return err
}
