package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/modal-labs/conveyor/internal/clock"
)

// recordSleeps replaces the sleep seam with one that records requested delays
// and returns immediately. It restores the original on test cleanup.
func recordSleeps(t *testing.T) *[]time.Duration {
	t.Helper()
	var recorded []time.Duration
	original := clock.SleepFunc
	clock.SleepFunc = func(ctx context.Context, d time.Duration) error {
		recorded = append(recorded, d)
		return ctx.Err()
	}
	t.Cleanup(func() { clock.SleepFunc = original })
	return &recorded
}

func TestRetry_Defaults(t *testing.T) {
	r := New("test")
	assert.Equal(t, "test", r.Name)
	assert.Equal(t, 3, r.Attempts)
	assert.Equal(t, time.Duration(0), r.BaseDelay)
	assert.Equal(t, 1.0, r.DelayFactor)
	assert.False(t, r.EnableJitter)
}

func TestRetry_ZeroAttemptsPanics(t *testing.T) {
	require.Panics(t, func() {
		_ = New("test").WithAttempts(0).Do(context.Background(), func(context.Context) error {
			return nil
		})
	})
}

func TestRetry_NegativeDelayPanics(t *testing.T) {
	require.Panics(t, func() {
		_ = New("test").WithBaseDelay(-time.Second).Do(context.Background(), func(context.Context) error {
			return nil
		})
	})
	require.Panics(t, func() {
		_ = New("test").WithDelayFactor(-1.0).Do(context.Background(), func(context.Context) error {
			return nil
		})
	})
}

func TestRetry_SuccessfulRetry(t *testing.T) {
	count := 0
	err := New("test").Do(context.Background(), func(context.Context) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRetry_FailedRetry(t *testing.T) {
	recordSleeps(t)
	wantErr := errors.New("persistent")
	count := 0
	r := New("test")
	err := r.Do(context.Background(), func(context.Context) error {
		count++
		return wantErr
	})
	require.ErrorIs(t, err, wantErr)
	assert.Equal(t, r.Attempts, count)
}

func TestRetry_DelayedRetry(t *testing.T) {
	recorded := recordSleeps(t)

	// Attempts run at virtual offsets 0s, 1s, 3s, 7s, 15s.
	var elapsed time.Duration
	original := clock.SleepFunc
	clock.SleepFunc = func(ctx context.Context, d time.Duration) error {
		elapsed += d
		return original(ctx, d)
	}
	t.Cleanup(func() { clock.SleepFunc = original })

	count := 0
	err := New("test").
		WithAttempts(5).
		WithBaseDelay(time.Second).
		WithDelayFactor(2.0).
		Do(context.Background(), func(context.Context) error {
			count++
			if elapsed < 5*time.Second {
				return errors.New("not yet")
			}
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 4, count)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, *recorded)
}

func TestRetry_ExhaustedSchedule(t *testing.T) {
	recorded := recordSleeps(t)
	err := New("test").
		WithAttempts(5).
		WithBaseDelay(time.Second).
		WithDelayFactor(2.0).
		Do(context.Background(), func(context.Context) error {
			return errors.New("always")
		})
	require.Error(t, err)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, *recorded)
}

func TestRetry_JitterBounds(t *testing.T) {
	testCases := []struct {
		name   string
		random float64
		expect time.Duration
	}{
		{name: "lower bound", random: 0.0, expect: 50 * time.Millisecond},
		{name: "upper bound", random: 0.999999, expect: 100 * time.Millisecond},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			recorded := recordSleeps(t)
			originalRand := randFloat
			randFloat = func() float64 { return tc.random }
			t.Cleanup(func() { randFloat = originalRand })

			_ = New("test_jitter").
				WithAttempts(2).
				WithBaseDelay(100 * time.Millisecond).
				WithJitter(true).
				Do(context.Background(), func(context.Context) error {
					return errors.New("always")
				})

			require.Len(t, *recorded, 1)
			delay := (*recorded)[0]
			assert.GreaterOrEqual(t, delay, 50*time.Millisecond)
			assert.Less(t, delay, 100*time.Millisecond)
			if tc.random == 0.0 {
				assert.Equal(t, tc.expect, delay)
			}
		})
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	count := 0
	err := New("test").
		WithBaseDelay(time.Millisecond).
		Do(ctx, func(context.Context) error {
			count++
			return errors.New("transient")
		})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, count)
}

func TestRun_ReturnsValue(t *testing.T) {
	recordSleeps(t)
	count := 0
	value, err := Run(context.Background(), New("test"), func(context.Context) (int, error) {
		count++
		if count < 2 {
			return 0, errors.New("not yet")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, value)
	assert.Equal(t, 2, count)
}

func TestRun_ZeroValueOnFailure(t *testing.T) {
	recordSleeps(t)
	value, err := Run(context.Background(), New("test"), func(context.Context) (string, error) {
		return "partial", errors.New("always")
	})
	require.Error(t, err)
	assert.Equal(t, "", value)
}
