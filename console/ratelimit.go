package console

import (
	"sync"

	"golang.org/x/time/rate"
)

// ipRateLimiter enforces the per-source-IP request budget on /search. Each
// IP gets a token bucket refilled at max/window requests per second with a
// burst of max, so more than max requests inside one window are refused.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func newIPRateLimiter(maxRequests, windowSec int) *ipRateLimiter {
	return &ipRateLimiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    rate.Limit(float64(maxRequests) / float64(windowSec)),
		burst:    maxRequests,
	}
}

// Allow reports whether ip may make another request now.
func (l *ipRateLimiter) Allow(ip string) bool {
	l.mu.Lock()
	// Bound the table; a clear is cheaper and simpler than LRU bookkeeping
	// at this size and only momentarily forgives over-budget sources.
	if len(l.limiters) > 10000 {
		l.limiters = make(map[string]*rate.Limiter)
	}
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()

	return lim.Allow()
}
