package http

import "time"

// rateLimiter counts frames in fixed windows. It belongs to one read loop
// and is not safe for concurrent use.
type rateLimiter struct {
	limit   int
	window  time.Duration
	start   time.Time
	counter int
}

func newRateLimiter(limit int) *rateLimiter {
	return &rateLimiter{limit: limit, window: time.Minute}
}

func (r *rateLimiter) allow(now time.Time) bool {
	if r == nil || r.limit <= 0 {
		return true
	}
	if now.Sub(r.start) >= r.window {
		r.start = now
		r.counter = 0
	}
	r.counter++
	return r.counter <= r.limit
}
