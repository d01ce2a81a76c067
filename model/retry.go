package model

import (
	"fmt"
	"time"

	"github.com/modal-labs/conveyor/retry"
)

// Retry declares a step retry policy in workflow documents. Zero values fall
// back to the retry package defaults: 3 attempts, no delay, factor 1.
type Retry struct {
	// Attempts is the total number of attempts, including the first
	Attempts int `json:"attempts,omitempty" yaml:"attempts,omitempty"`

	// Delay is the base delay after the first attempt (duration string)
	Delay string `json:"delay,omitempty" yaml:"delay,omitempty"`

	// Factor multiplies the delay after each attempt
	Factor float64 `json:"factor,omitempty" yaml:"factor,omitempty"`

	// Jitter selects each delay randomly from [delay/2, delay)
	Jitter bool `json:"jitter,omitempty" yaml:"jitter,omitempty"`
}

// Validate verifies the retry declaration is statically sound.
func (r *Retry) Validate() error {
	if r.Attempts < 0 {
		return fmt.Errorf("attempts cannot be negative")
	}
	if r.Factor < 0 {
		return fmt.Errorf("factor cannot be negative")
	}
	if r.Delay != "" {
		delay, err := time.ParseDuration(r.Delay)
		if err != nil {
			return err
		}
		if delay < 0 {
			return fmt.Errorf("delay cannot be negative")
		}
	}
	return nil
}

// Policy materialises the declaration into a named retry policy. A nil
// receiver yields a single-attempt policy so that callers can apply it
// unconditionally.
func (r *Retry) Policy(name string) (retry.Retry, error) {
	policy := retry.New(name)
	if r == nil {
		return policy.WithAttempts(1), nil
	}
	if err := r.Validate(); err != nil {
		return policy, err
	}
	if r.Attempts > 0 {
		policy = policy.WithAttempts(r.Attempts)
	}
	if r.Delay != "" {
		delay, err := time.ParseDuration(r.Delay)
		if err != nil {
			return policy, err
		}
		policy = policy.WithBaseDelay(delay)
	}
	if r.Factor > 0 {
		policy = policy.WithDelayFactor(r.Factor)
	}
	return policy.WithJitter(r.Jitter), nil
}
