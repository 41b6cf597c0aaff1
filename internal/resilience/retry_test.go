package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    attempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		Multiplier:     2.0,
	}
}

func TestDoVal_SuccessFirstAttempt(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), DefaultRetryConfig(), func(context.Context) (int, error) {
		calls++
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 1, calls)
}

func TestDoVal_RetriesTransient(t *testing.T) {
	calls := 0
	v, err := DoVal(context.Background(), fastRetry(3), func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", NewTransientError(errors.New("overloaded"), 529)
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
}

func TestDoVal_ExhaustsCeiling(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(4), func(context.Context) (int, error) {
		calls++
		return 0, NewTransientError(errors.New("always failing"), 503)
	})
	require.Error(t, err)
	assert.Equal(t, 4, calls)
}

func TestDoVal_PermanentNoRetry(t *testing.T) {
	calls := 0
	_, err := DoVal(context.Background(), fastRetry(5), func(context.Context) (int, error) {
		calls++
		return 0, NewPermanentError(errors.New("invalid api key"), 401)
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.True(t, IsPermanent(err))
}

func TestDoVal_ContextCancelStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := DoVal(ctx, fastRetry(10), func(context.Context) (int, error) {
		calls++
		if calls == 2 {
			cancel()
		}
		return 0, NewTransientError(errors.New("flaky"), 500)
	})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 3)
}

func TestDo_WrapsDoVal(t *testing.T) {
	calls := 0
	err := Do(context.Background(), fastRetry(2), func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestIsTransient(t *testing.T) {
	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(errors.New("bad request")))
	assert.True(t, IsTransient(NewTransientError(errors.New("x"), 429)))
	assert.True(t, IsTransient(errors.New("read tcp: i/o timeout")))
	// Permanent wins even if the message looks retryable.
	assert.False(t, IsTransient(NewPermanentError(errors.New("i/o timeout"), 401)))
}

func TestClassifyHTTPStatus(t *testing.T) {
	base := errors.New("status error")
	assert.True(t, IsTransient(ClassifyHTTPStatus(base, 429)))
	assert.True(t, IsTransient(ClassifyHTTPStatus(base, 503)))
	assert.True(t, IsPermanent(ClassifyHTTPStatus(base, 401)))
	assert.True(t, IsPermanent(ClassifyHTTPStatus(base, 422)))
	assert.NoError(t, ClassifyHTTPStatus(nil, 500))

	unclassified := ClassifyHTTPStatus(base, 418)
	assert.False(t, IsTransient(unclassified))
	assert.False(t, IsPermanent(unclassified))
}
