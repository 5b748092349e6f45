package service

import "sync"

// InflightCounter caps concurrent dispatches per user. It protects the
// provider from a single user fanning out requests; it is not a quota and
// nothing is charged for a denial here.
type InflightCounter struct {
	mu     sync.Mutex
	counts map[string]int
	max    int
}

// NewInflightCounter creates a counter with the given per-user cap.
func NewInflightCounter(max int) *InflightCounter {
	if max < 1 {
		max = 1
	}
	return &InflightCounter{
		counts: make(map[string]int),
		max:    max,
	}
}

// Acquire takes one slot for the user. Returns false when the user is
// already at the cap.
func (c *InflightCounter) Acquire(userID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[userID] >= c.max {
		return false
	}
	c.counts[userID]++
	return true
}

// Release returns one slot. Every exit path of a dispatch must release
// exactly once; the floor at zero keeps a double release from going negative.
func (c *InflightCounter) Release(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.counts[userID] <= 1 {
		delete(c.counts, userID)
		return
	}
	c.counts[userID]--
}

// Count returns the user's current in-flight count.
func (c *InflightCounter) Count(userID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[userID]
}
