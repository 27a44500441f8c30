package worker

import (
	"math"
	"time"

	"transfit/internal/config"
)

// RetryPolicy defines exponential backoff parameters.
type RetryPolicy struct {
	// MaxRetries is the retry count at which a queued item is dropped.
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    5,
		InitialDelay:  time.Second,
		MaxDelay:      32 * time.Second,
		BackoffFactor: 2,
	}
}

// RetryPolicyFromConfig fills the policy from the sync section.
func RetryPolicyFromConfig(cfg config.SyncConfig) RetryPolicy {
	p := DefaultRetryPolicy()
	if cfg.MaxRetryCount > 0 {
		p.MaxRetries = cfg.MaxRetryCount
	}
	if cfg.BackoffBase > 0 {
		p.InitialDelay = cfg.BackoffBase
	}
	if cfg.BackoffCap > 0 {
		p.MaxDelay = cfg.BackoffCap
	}
	return p
}

// Delay returns InitialDelay * BackoffFactor^retryCount clamped to MaxDelay.
// Negative counts are treated as zero.
func (r RetryPolicy) Delay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	if r.InitialDelay <= 0 {
		r.InitialDelay = time.Second
	}
	if r.BackoffFactor <= 0 {
		r.BackoffFactor = 2
	}

	delay := float64(r.InitialDelay) * math.Pow(r.BackoffFactor, float64(retryCount))
	if r.MaxDelay > 0 && delay > float64(r.MaxDelay) {
		return r.MaxDelay
	}
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Exhausted reports whether an item with retryCount must be dropped instead of retried.
func (r RetryPolicy) Exhausted(retryCount int) bool {
	return r.MaxRetries > 0 && retryCount >= r.MaxRetries
}
