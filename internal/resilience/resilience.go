// Package resilience wraps outbound calls to the embedder, the chat LLM,
// and the vector store with retry/backoff, a circuit breaker, and
// per-call timeouts (spec.md §4.14).
package resilience

import (
	"context"
	"errors"
	"math/rand/v2"
	"net"
	"sync"
	"time"

	"github.com/archreview/archreview/internal/config"
)

// ErrCircuitOpen is returned by Do when the circuit breaker has tripped
// and is refusing calls.
var ErrCircuitOpen = errors.New("resilience: circuit breaker open")

// HTTPStatusError lets a caller report the HTTP status code of a failed
// outbound call so it can be classified as transient or not, per
// spec.md §4.14's "HTTP 408/425/429/500-504 ... are transient".
type HTTPStatusError struct {
	StatusCode int
	Err        error
}

func (e *HTTPStatusError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}

	return "resilience: http status error"
}

func (e *HTTPStatusError) Unwrap() error { return e.Err }

var transientStatusCodes = map[int]struct{}{
	408: {}, 425: {}, 429: {},
	500: {}, 501: {}, 502: {}, 503: {}, 504: {},
}

// IsTransient classifies an error as transient (worth retrying) per
// spec.md §4.14: HTTP 408/425/429/500-504 and socket errors are
// transient; everything else is not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var httpErr *HTTPStatusError
	if errors.As(err, &httpErr) {
		_, transient := transientStatusCodes[httpErr.StatusCode]
		return transient
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	return false
}

// Backoff returns the exponential-backoff-with-full-jitter duration for
// the given 0-indexed retry attempt, per spec.md §4.14 (base 250ms,
// factor 2.0, cap 15s by default — overridable via cfg).
func Backoff(attempt int, cfg config.ResilienceConfig) time.Duration {
	base := time.Duration(cfg.BackoffBaseMillis) * time.Millisecond
	if base <= 0 {
		base = 250 * time.Millisecond
	}

	factor := cfg.BackoffFactor
	if factor <= 0 {
		factor = 2.0
	}

	capDur := time.Duration(cfg.BackoffCapMillis) * time.Millisecond
	if capDur <= 0 {
		capDur = 15 * time.Second
	}

	dur := float64(base)
	for i := 0; i < attempt; i++ {
		dur *= factor
	}

	capped := time.Duration(dur)
	if capped > capDur || capped < 0 {
		capped = capDur
	}

	if capped <= 0 {
		return 0
	}

	return time.Duration(rand.Int64N(int64(capped) + 1))
}

// breakerState is the circuit breaker's finite state.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements the failure-ratio breaker of spec.md §4.14.
// No circuit-breaker library is used anywhere in the retrieved pack, so
// this is hand-rolled arithmetic over a sliding outcome window.
type CircuitBreaker struct {
	mu sync.Mutex

	cfg    config.ResilienceConfig
	state  breakerState
	window []outcome

	openedAt        time.Time
	halfOpenInFlight bool
}

// NewCircuitBreaker builds a closed CircuitBreaker.
func NewCircuitBreaker(cfg config.ResilienceConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg, state: stateClosed}
}

// Allow reports whether a call may proceed, transitioning open -> half-open
// once break_duration has elapsed.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		breakDuration := time.Duration(b.cfg.BreakerBreakDurationSecs) * time.Second
		if breakDuration <= 0 {
			breakDuration = 30 * time.Second
		}

		if time.Since(b.openedAt) < breakDuration {
			return false
		}

		b.state = stateHalfOpen
		b.halfOpenInFlight = true

		return true
	case stateHalfOpen:
		if b.halfOpenInFlight {
			return false
		}

		b.halfOpenInFlight = true

		return true
	default:
		return true
	}
}

// RecordResult folds a call's outcome into the breaker's window and
// re-evaluates its state.
func (b *CircuitBreaker) RecordResult(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()

	if b.state == stateHalfOpen {
		b.halfOpenInFlight = false

		if success {
			b.state = stateClosed
			b.window = nil
		} else {
			b.state = stateOpen
			b.openedAt = now
		}

		return
	}

	b.window = append(b.window, outcome{at: now, success: success})
	b.trimWindow(now)

	minThroughput := b.cfg.BreakerMinThroughput
	if minThroughput <= 0 {
		minThroughput = 10
	}

	failureRatio := b.cfg.BreakerFailureRatio
	if failureRatio <= 0 {
		failureRatio = 0.5
	}

	if len(b.window) < minThroughput {
		return
	}

	var failures int

	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}

	if float64(failures)/float64(len(b.window)) >= failureRatio {
		b.state = stateOpen
		b.openedAt = now
	}
}

func (b *CircuitBreaker) trimWindow(now time.Time) {
	windowDur := time.Duration(b.cfg.BreakerSamplingWindowSecs) * time.Second
	if windowDur <= 0 {
		windowDur = 30 * time.Second
	}

	cutoff := now.Add(-windowDur)

	kept := b.window[:0]

	for _, o := range b.window {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}

	b.window = kept
}

// Executor wraps a named outbound collaborator (embedder, chat LLM,
// vector store) with a circuit breaker, retry-with-backoff, and a
// per-call timeout.
type Executor struct {
	breaker *CircuitBreaker
	cfg     config.ResilienceConfig
}

// New builds an Executor with its own circuit breaker.
func New(cfg config.ResilienceConfig) *Executor {
	return &Executor{breaker: NewCircuitBreaker(cfg), cfg: cfg}
}

// Do runs fn under a per-call timeout, retrying transient failures with
// exponential backoff and jitter up to max_retry_attempts, and refusing
// to call at all while the circuit breaker is open.
func (e *Executor) Do(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	maxAttempts := e.cfg.MaxRetryAttempts
	if maxAttempts < 0 {
		maxAttempts = 0
	}

	var lastErr error

	for attempt := 0; attempt <= maxAttempts; attempt++ {
		if !e.breaker.Allow() {
			return ErrCircuitOpen
		}

		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err := fn(callCtx)
		cancel()

		e.breaker.RecordResult(err == nil)

		if err == nil {
			return nil
		}

		lastErr = err

		if !IsTransient(err) {
			return err
		}

		if attempt == maxAttempts {
			break
		}

		wait := Backoff(attempt, e.cfg)

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return lastErr
}
