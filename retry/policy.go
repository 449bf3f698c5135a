package retry

import (
	"fmt"
	"time"

	"github.com/goliatone/go-durable"
)

// Policy retries a failed task up to MaxAttempts times, waiting Backoff
// between attempts.
type Policy struct {
	// MaxAttempts counts the first attempt, so 1 disables retries
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`
	// Backoff computes the delay between attempts, nil retries immediately
	Backoff Strategy `json:"-" yaml:"-"`
	// RetryTimeout stops retrying once this much orchestration time passed
	// since the first attempt, zero means no limit
	RetryTimeout time.Duration `json:"retryTimeout,omitempty" yaml:"retryTimeout,omitempty"`
	// Handle filters which failures are retried, nil retries every failure
	Handle func(error) bool `json:"-" yaml:"-"`
}

// Context describes the failed attempt handed to a Handler.
type Context struct {
	LastFailure       error
	LastAttemptNumber int
	TotalRetryTime    time.Duration
}

// Handler decides whether another attempt is made.
type Handler func(Context) bool

// Validate checks the policy bounds.
func (p *Policy) Validate() error {
	if p == nil {
		return nil
	}
	if p.MaxAttempts < 1 {
		return durable.NewError(durable.ErrInvalidOptions,
			fmt.Sprintf("retry policy max attempts must be at least 1, got %d", p.MaxAttempts),
			nil,
			map[string]any{"max_attempts": p.MaxAttempts},
		)
	}
	if p.RetryTimeout < 0 {
		return durable.NewError(durable.ErrInvalidOptions, "retry policy timeout cannot be negative", nil, nil)
	}
	return nil
}

// ShouldRetry reports whether attempt, which just failed with err after
// elapsed orchestration time, may be followed by another one.
func (p *Policy) ShouldRetry(attempt int, err error, elapsed time.Duration) bool {
	if p == nil || attempt >= p.MaxAttempts {
		return false
	}
	if p.RetryTimeout > 0 && elapsed >= p.RetryTimeout {
		return false
	}
	if p.Handle != nil && !p.Handle(err) {
		return false
	}
	return true
}

// Delay returns the backoff inserted after the given 1-based attempt failed.
func (p *Policy) Delay(attempt int, err error) time.Duration {
	if p == nil || p.Backoff == nil {
		return 0
	}
	d := p.Backoff.SleepDuration(attempt-1, err)
	if d < 0 {
		return 0
	}
	return d
}
