package api

import (
	"sync"

	"golang.org/x/time/rate"

	"studioflow/internal/config"
)

// keyedLimiter keeps one token bucket per client key.
type keyedLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newKeyedLimiter(cfg config.APIRateLimitConfig) *keyedLimiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 5
	}
	return &keyedLimiter{rps: rate.Limit(cfg.RPS), burst: burst}
}

// Allow always succeeds when no rate is configured.
func (l *keyedLimiter) Allow(key string) bool {
	if l.rps <= 0 {
		return true
	}
	return l.get(key).Allow()
}

func (l *keyedLimiter) get(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	actual, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rps, l.burst))
	return actual.(*rate.Limiter)
}
