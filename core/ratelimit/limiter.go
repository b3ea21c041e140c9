// Package ratelimit throttles inbound events per user key with token buckets.
package ratelimit

import (
	"sync"
	"time"

	coreconfig "github.com/m3rciful/agendabot/core/config"

	"golang.org/x/time/rate"
)

// idleAfter is how long a key may stay silent before its bucket is dropped.
const idleAfter = 10 * time.Minute

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// Keyed hands out one token bucket per key. A nil *Keyed allows everything.
type Keyed struct {
	every time.Duration
	burst int
	now   func() time.Time

	mu        sync.Mutex
	entries   map[string]*entry
	lastSweep time.Time
}

// New returns a limiter refilling one token per interval with the given burst.
// A non-positive interval disables limiting and New returns nil.
func New(interval time.Duration, burst int) *Keyed {
	if interval <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &Keyed{every: interval, burst: burst, now: time.Now, entries: make(map[string]*entry)}
}

// FromConfig builds the limiter described by the rate_limit section.
func FromConfig(cfg coreconfig.RateLimitConfig) *Keyed {
	return New(time.Duration(cfg.IntervalMS)*time.Millisecond, cfg.Burst)
}

// Allow reports whether an event for key may proceed now.
func (k *Keyed) Allow(key string) bool {
	if k == nil || key == "" {
		return true
	}
	now := k.now()

	k.mu.Lock()
	defer k.mu.Unlock()
	if now.Sub(k.lastSweep) > idleAfter {
		for key, e := range k.entries {
			if now.Sub(e.seen) > idleAfter {
				delete(k.entries, key)
			}
		}
		k.lastSweep = now
	}
	e, ok := k.entries[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(rate.Every(k.every), k.burst)}
		k.entries[key] = e
	}
	e.seen = now
	return e.lim.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (k *Keyed) Len() int {
	if k == nil {
		return 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}
