// Package ratelimit implements an advisory per-provider rate window: a
// token bucket that never blocks a request, only annotates /health with
// the current headroom.
package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// defaultRPS/defaultBurst are conservative placeholders for providers
// whose quotas are unknown.
const (
	defaultRPS   = 5
	defaultBurst = 10
)

// Tracker holds one token-bucket limiter per provider name.
type Tracker struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New returns an empty Tracker; limiters are created lazily per provider.
func New() *Tracker {
	return &Tracker{limiters: make(map[string]*rate.Limiter)}
}

func (t *Tracker) limiter(provider string) *rate.Limiter {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.limiters[provider]
	if !ok {
		l = rate.NewLimiter(rate.Limit(defaultRPS), defaultBurst)
		t.limiters[provider] = l
	}
	return l
}

// Observe records one request against the provider's bucket. It never
// blocks or rejects; it exists purely to keep Headroom current.
func (t *Tracker) Observe(provider string) {
	t.limiter(provider).Allow()
}

// Headroom reports the provider's current token count and configured
// burst, for surfacing on /health.
func (t *Tracker) Headroom(provider string) (available float64, burst int) {
	l := t.limiter(provider)
	return l.Tokens(), l.Burst()
}
