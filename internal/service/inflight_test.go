package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflightCounterCapsPerUser(t *testing.T) {
	c := NewInflightCounter(2)

	assert.True(t, c.Acquire("u1"))
	assert.True(t, c.Acquire("u1"))
	assert.False(t, c.Acquire("u1"), "third concurrent request must be denied")

	// Other users are unaffected.
	assert.True(t, c.Acquire("u2"))

	c.Release("u1")
	assert.True(t, c.Acquire("u1"), "released slot is available again")
}

func TestInflightCounterReleaseFloorsAtZero(t *testing.T) {
	c := NewInflightCounter(1)

	assert.True(t, c.Acquire("u1"))
	c.Release("u1")
	c.Release("u1")
	assert.Equal(t, 0, c.Count("u1"))
	assert.True(t, c.Acquire("u1"))
}
