package resilience_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archreview/archreview/internal/config"
	"github.com/archreview/archreview/internal/resilience"
)

func testCfg() config.ResilienceConfig {
	return config.ResilienceConfig{
		MaxRetryAttempts:          3,
		BackoffBaseMillis:         1,
		BackoffFactor:             2.0,
		BackoffCapMillis:          10,
		BreakerFailureRatio:       0.5,
		BreakerMinThroughput:      4,
		BreakerSamplingWindowSecs: 30,
		BreakerBreakDurationSecs:  30,
	}
}

func TestIsTransient_ClassifiesHTTPStatusCodes(t *testing.T) {
	t.Parallel()

	assert.True(t, resilience.IsTransient(&resilience.HTTPStatusError{StatusCode: 429}))
	assert.True(t, resilience.IsTransient(&resilience.HTTPStatusError{StatusCode: 503}))
	assert.False(t, resilience.IsTransient(&resilience.HTTPStatusError{StatusCode: 400}))
	assert.False(t, resilience.IsTransient(nil))
}

func TestIsTransient_ClassifiesNetErrorsAndDeadlines(t *testing.T) {
	t.Parallel()

	assert.True(t, resilience.IsTransient(context.DeadlineExceeded))
	assert.True(t, resilience.IsTransient(&net.DNSError{IsTimeout: true}))
	assert.False(t, resilience.IsTransient(errors.New("boom")))
}

func TestExecutor_Do_RetriesTransientFailureThenSucceeds(t *testing.T) {
	t.Parallel()

	e := resilience.New(testCfg())

	var attempts int

	err := e.Do(context.Background(), time.Second, func(context.Context) error {
		attempts++
		if attempts < 3 {
			return &resilience.HTTPStatusError{StatusCode: 503}
		}

		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestExecutor_Do_DoesNotRetryNonTransientFailure(t *testing.T) {
	t.Parallel()

	e := resilience.New(testCfg())

	var attempts int
	boom := errors.New("boom")

	err := e.Do(context.Background(), time.Second, func(context.Context) error {
		attempts++
		return boom
	})

	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestExecutor_Do_GivesUpAfterMaxRetryAttempts(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.MaxRetryAttempts = 2
	cfg.BreakerMinThroughput = 1000

	e := resilience.New(cfg)

	var attempts int

	err := e.Do(context.Background(), time.Second, func(context.Context) error {
		attempts++
		return &resilience.HTTPStatusError{StatusCode: 500}
	})

	assert.Error(t, err)
	assert.Equal(t, 3, attempts)
}

func TestCircuitBreaker_OpensAfterFailureRatioExceedsThreshold(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker(testCfg())

	for i := 0; i < 4; i++ {
		require.True(t, b.Allow())
		b.RecordResult(false)
	}

	assert.False(t, b.Allow())
}

func TestCircuitBreaker_StaysClosedBelowMinThroughput(t *testing.T) {
	t.Parallel()

	b := resilience.NewCircuitBreaker(testCfg())

	b.RecordResult(false)
	b.RecordResult(false)

	assert.True(t, b.Allow())
}

func TestCircuitBreaker_HalfOpenClosesOnSuccessAfterBreakDuration(t *testing.T) {
	t.Parallel()

	cfg := testCfg()
	cfg.BreakerBreakDurationSecs = 1

	b := resilience.NewCircuitBreaker(cfg)

	for i := 0; i < 4; i++ {
		b.RecordResult(false)
	}

	require.False(t, b.Allow())

	time.Sleep(1100 * time.Millisecond)

	require.True(t, b.Allow())
	b.RecordResult(true)

	assert.True(t, b.Allow())
	b.RecordResult(true)
	assert.True(t, b.Allow())
}

func TestBackoff_NeverExceedsCap(t *testing.T) {
	t.Parallel()

	cfg := testCfg()

	for attempt := 0; attempt < 10; attempt++ {
		d := resilience.Backoff(attempt, cfg)
		assert.LessOrEqual(t, d, time.Duration(cfg.BackoffCapMillis)*time.Millisecond)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
