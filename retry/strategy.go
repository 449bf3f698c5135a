package retry

import (
	"math"
	"time"
)

// Strategy computes the delay before the next attempt.
type Strategy interface {
	// SleepDuration returns how long to wait before the next retry attempt.
	// The attempt index starts at 0, incrementing after each failure.
	SleepDuration(attempt int, err error) time.Duration
}

// NoDelayStrategy retries immediately, without a backoff timer.
type NoDelayStrategy struct{}

func (NoDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	return 0
}

// FixedDelayStrategy waits the same delay between every attempt.
type FixedDelayStrategy struct {
	Delay time.Duration
}

func (f FixedDelayStrategy) SleepDuration(_ int, _ error) time.Duration {
	if f.Delay < 0 {
		return 0
	}
	return f.Delay
}

// ExponentialBackoffStrategy grows the delay by Factor on every attempt.
//
//	retry.Policy{
//	    MaxAttempts: 5,
//	    Backoff: retry.ExponentialBackoffStrategy{
//	        Base:   time.Second,
//	        Factor: 2,
//	        Max:    time.Minute,
//	    },
//	}
type ExponentialBackoffStrategy struct {
	// Base is the first delay
	Base time.Duration
	// Factor multiplies the delay each attempt, values below 1 are treated as 1
	Factor float64
	// Max caps the delay when positive
	Max time.Duration
}

func (e ExponentialBackoffStrategy) SleepDuration(attempt int, _ error) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	factor := e.Factor
	if factor < 1 {
		factor = 1
	}
	delay := float64(e.Base) * math.Pow(factor, float64(attempt))
	if e.Max > 0 && (delay > float64(e.Max) || math.IsInf(delay, 1)) {
		return e.Max
	}
	if delay > float64(math.MaxInt64) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}
