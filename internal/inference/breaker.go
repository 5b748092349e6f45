package inference

import (
	"sync"
	"time"
)

// Breaker is a process-wide circuit breaker over the inference provider.
// Provider health is a shared resource, so the failure count is global, not
// per user. After threshold consecutive failures the breaker opens for the
// cooldown window; the first call after the window is a probe, and a success
// resets the count.
type Breaker struct {
	mu        sync.Mutex
	threshold int
	cooldown  time.Duration

	failures int
	open     bool
	openedAt time.Time
}

// NewBreaker creates a breaker with the given consecutive-failure threshold
// and cooldown window.
func NewBreaker(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether a call may proceed. While open and within the
// cooldown it returns false; once the cooldown elapses a probe is allowed.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.open {
		return true
	}
	return time.Since(b.openedAt) >= b.cooldown
}

// RecordSuccess resets the consecutive-failure count and closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.open = false
}

// RecordFailure counts one failure and opens the breaker at the threshold.
// A failed probe re-opens with a fresh cooldown.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.failures >= b.threshold {
		b.open = true
		b.openedAt = time.Now()
	}
}

// Failures returns the current consecutive-failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}
