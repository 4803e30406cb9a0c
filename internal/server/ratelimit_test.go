package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiter_Window(t *testing.T) {
	clock := time.Unix(1000, 0)
	r := newRateLimiter(2, time.Second)
	r.now = func() time.Time { return clock }

	assert.True(t, r.Allow("a"))
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))
	assert.True(t, r.Allow("b"), "limits are per link")

	clock = clock.Add(250 * time.Millisecond)
	assert.False(t, r.Allow("a"), "tokens refill at limit per window")

	clock = clock.Add(300 * time.Millisecond)
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))
}

func TestRateLimiter_DisabledAndForget(t *testing.T) {
	off := newRateLimiter(0, 0)
	for range 100 {
		assert.True(t, off.Allow("a"))
	}

	r := newRateLimiter(1, time.Hour)
	assert.True(t, r.Allow("a"))
	assert.False(t, r.Allow("a"))
	r.Forget("a")
	assert.True(t, r.Allow("a"))
}
