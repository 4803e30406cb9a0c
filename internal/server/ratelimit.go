package server

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter caps how many proposals a single link may submit per window, with bursts
// up to the limit. A zero limit disables it.
type rateLimiter struct {
	limit int
	every rate.Limit
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	if window <= 0 {
		window = time.Second
	}
	r := &rateLimiter{
		limit:    limit,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
	if limit > 0 {
		r.every = rate.Every(window / time.Duration(limit))
	}
	return r
}

// Allow spends one token of linkID's limiter.
func (r *rateLimiter) Allow(linkID string) bool {
	if r.limit <= 0 {
		return true
	}
	r.mu.Lock()
	l, ok := r.limiters[linkID]
	if !ok {
		l = rate.NewLimiter(r.every, r.limit)
		r.limiters[linkID] = l
	}
	r.mu.Unlock()
	return l.AllowN(r.now(), 1)
}

// Forget drops the limiter of a disconnected link.
func (r *rateLimiter) Forget(linkID string) {
	r.mu.Lock()
	delete(r.limiters, linkID)
	r.mu.Unlock()
}
