package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errFlaky = errors.New("flaky")

func TestDoSucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), Policy{Attempts: 3, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls < 3 {
			return errFlaky
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorUnchanged(t *testing.T) {
	calls := 0
	final := errors.New("final")
	err := Do(context.Background(), Policy{Attempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 2 {
			return final
		}
		return errFlaky
	})
	assert.Same(t, final, err)
	assert.Equal(t, 2, calls)
}

func TestDoLinearBackoff(t *testing.T) {
	var retried []int
	start := time.Now()
	_ = Do(context.Background(), Policy{
		Attempts:  3,
		BaseDelay: 20 * time.Millisecond,
		OnRetry:   func(attempt int, _ error) { retried = append(retried, attempt) },
	}, func(context.Context) error { return errFlaky })

	// 20ms after the first failure, 40ms after the second.
	assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	assert.Equal(t, []int{1, 2}, retried)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("validation")
	calls := 0
	err := Do(context.Background(), Policy{
		Attempts:  5,
		BaseDelay: time.Millisecond,
		Retryable: func(err error) bool { return !errors.Is(err, fatal) },
	}, func(context.Context) error {
		calls++
		return fatal
	})
	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, calls)
}

func TestDoZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, func(context.Context) error {
		calls++
		return errFlaky
	})
	assert.Equal(t, 1, calls)
}

func TestDoHonorsCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := Do(ctx, Policy{Attempts: 5, BaseDelay: time.Hour}, func(context.Context) error {
		calls++
		cancel()
		return errFlaky
	})
	assert.ErrorIs(t, err, errFlaky)
	assert.Equal(t, 1, calls)
}

func TestDoValue(t *testing.T) {
	calls := 0
	v, err := DoValue(context.Background(), Policy{Attempts: 2, BaseDelay: time.Millisecond}, func(context.Context) (string, error) {
		calls++
		if calls == 1 {
			return "", errFlaky
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
}
