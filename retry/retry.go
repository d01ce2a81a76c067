package retry

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/charmbracelet/log"
	"github.com/modal-labs/conveyor/internal/clock"
)

// randFloat returns a value in [0, 1). Override in tests for deterministic
// jitter.
var randFloat = rand.Float64

// Retry calls a fallible operation multiple times, with a growing delay.
//
// If a BaseDelay is provided, the operation is given an exponentially
// increasing delay between runs, up until the maximum number of attempts.
// The first successful result wins; otherwise the last error is returned.
type Retry struct {
	// Name of the operation being retried, used in log messages.
	Name string

	// Attempts is the number of attempts to make.
	Attempts int

	// BaseDelay is the delay after the first attempt, if provided.
	BaseDelay time.Duration

	// DelayFactor multiplies the delay after each attempt.
	DelayFactor float64

	// EnableJitter selects the delay randomly from [delay/2, delay).
	EnableJitter bool

	// Logger overrides the default logger for between-attempt warnings.
	Logger *log.Logger
}

// New returns a Retry with default parameters: 3 attempts, no delay.
func New(name string) Retry {
	return Retry{
		Name:        name,
		Attempts:    3,
		BaseDelay:   0,
		DelayFactor: 1.0,
	}
}

// WithAttempts sets the number of attempts to make.
func (r Retry) WithAttempts(attempts int) Retry {
	r.Attempts = attempts
	return r
}

// WithBaseDelay sets the delay after the first attempt.
func (r Retry) WithBaseDelay(delay time.Duration) Retry {
	r.BaseDelay = delay
	return r
}

// WithDelayFactor sets the exponential factor increasing the delay.
func (r Retry) WithDelayFactor(factor float64) Retry {
	r.DelayFactor = factor
	return r
}

// WithJitter enables or disables delay jitter.
func (r Retry) WithJitter(enabled bool) Retry {
	r.EnableJitter = enabled
	return r
}

// WithLogger sets the logger used for between-attempt warnings.
func (r Retry) WithLogger(logger *log.Logger) Retry {
	r.Logger = logger
	return r
}

func (r Retry) applyJitter(delay time.Duration) time.Duration {
	if !r.EnableJitter {
		return delay
	}
	// [0.5, 1.0)
	return time.Duration(float64(delay) * (0.5 + randFloat()/2))
}

func (r Retry) logger() *log.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return log.Default()
}

// Do runs a fallible operation using this retry configuration. It returns
// the first successful result if any, or the last error. Sleeps between
// attempts are context-aware: a cancelled context surfaces ctx.Err().
//
// Panics if the number of attempts is less than 1, or the base delay or
// delay factor is incorrectly set to a negative value.
func (r Retry) Do(ctx context.Context, op func(ctx context.Context) error) error {
	if r.Attempts < 1 {
		panic("retry: attempts must be greater than 0")
	}
	if r.BaseDelay < 0 || r.DelayFactor < 0 {
		panic("retry: delay cannot be negative")
	}
	delay := r.BaseDelay
	var err error
	for i := 0; i < r.Attempts; i++ {
		if err = op(ctx); err == nil {
			return nil
		}
		if i == r.Attempts-1 {
			break
		}
		r.logger().Warn(fmt.Sprintf("failed retryable operation %s, retrying", r.Name), "err", err)
		if sleepErr := clock.Sleep(ctx, r.applyJitter(delay)); sleepErr != nil {
			return sleepErr
		}
		delay = time.Duration(float64(delay) * r.DelayFactor)
	}
	return err
}

// Run is the generic counterpart of Do for operations that produce a value.
// It returns the first successful value, or the zero value together with the
// last error.
func Run[T any](ctx context.Context, r Retry, op func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var opErr error
		result, opErr = op(ctx)
		return opErr
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
