package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter tracks per-client command rates. Clients are keyed by remote
// address, one token bucket each.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a limiter allowing requestsPerHour sustained commands
// per client with the given burst. A non-positive requestsPerHour disables
// limiting.
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	var r rate.Limit
	if requestsPerHour > 0 {
		r = rate.Limit(float64(requestsPerHour) / 3600.0)
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

func (l *Limiter) limiterFor(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, ok := l.limiters[client]
	if !ok {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[client] = limiter
	}
	return limiter
}

// Allow reports whether the client may issue another command now.
func (l *Limiter) Allow(client string) bool {
	if l.rate == 0 {
		return true
	}
	return l.limiterFor(client).Allow()
}

// Tokens returns the client's available burst capacity.
func (l *Limiter) Tokens(client string) float64 {
	return l.limiterFor(client).Tokens()
}

// Forget drops the client's bucket, typically on disconnect.
func (l *Limiter) Forget(client string) {
	l.mu.Lock()
	delete(l.limiters, client)
	l.mu.Unlock()
}
