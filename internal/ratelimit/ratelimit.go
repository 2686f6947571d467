// Package ratelimit implements per-tool token buckets with discrete refill:
// RefillTokens are added every RefillInterval, capped at Capacity. Buckets
// live in process memory only; a clustered deployment needs an external store.
package ratelimit

import (
	"sync"
	"time"
)

// Limit describes one bucket's behaviour.
type Limit struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
}

// DefaultLimit is applied to every tool without an override.
var DefaultLimit = Limit{Capacity: 100, RefillTokens: 100, RefillInterval: time.Minute}

// Decision is the outcome of one consumption attempt. Denied callers use
// NanosToRefill as the retry hint; consumption never blocks.
type Decision struct {
	Allowed       bool
	Remaining     int
	NanosToRefill int64
}

// RetryAfterSeconds converts the refill hint to whole seconds, rounding up so
// a client that waits that long is guaranteed to find tokens.
func (d Decision) RetryAfterSeconds() int64 {
	return (d.NanosToRefill + int64(time.Second) - 1) / int64(time.Second)
}

// Limiter owns the buckets, keyed by tool name and created lazily on first
// use so unconfigured tools still get the default limit.
type Limiter struct {
	def       Limit
	overrides map[string]Limit

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

func New(def Limit, overrides map[string]Limit) *Limiter {
	if def.Capacity <= 0 {
		def = DefaultLimit
	}
	return &Limiter{def: def, overrides: overrides, buckets: map[string]*bucket{}, now: time.Now}
}

// LimitFor returns the limit that applies to the named tool.
func (l *Limiter) LimitFor(tool string) Limit {
	if lim, ok := l.overrides[tool]; ok {
		return lim
	}
	return l.def
}

// TryConsume takes one token from the tool's bucket if available.
func (l *Limiter) TryConsume(tool string) Decision {
	l.mu.Lock()
	b, ok := l.buckets[tool]
	if !ok {
		b = newBucket(l.LimitFor(tool), l.now())
		l.buckets[tool] = b
	}
	l.mu.Unlock()
	return b.tryConsume(l.now())
}

// bucket state is guarded by its own mutex so tools do not contend with each
// other after the map lookup.
type bucket struct {
	mu         sync.Mutex
	limit      Limit
	tokens     int
	lastRefill time.Time
}

func newBucket(limit Limit, now time.Time) *bucket {
	return &bucket{limit: limit, tokens: limit.Capacity, lastRefill: now}
}

func (b *bucket) tryConsume(now time.Time) Decision {
	b.mu.Lock()
	defer b.mu.Unlock()

	if elapsed := now.Sub(b.lastRefill); elapsed >= b.limit.RefillInterval {
		intervals := int64(elapsed / b.limit.RefillInterval)
		b.tokens = min(b.limit.Capacity, b.tokens+int(intervals)*b.limit.RefillTokens)
		b.lastRefill = b.lastRefill.Add(time.Duration(intervals) * b.limit.RefillInterval)
	}

	d := Decision{NanosToRefill: b.lastRefill.Add(b.limit.RefillInterval).Sub(now).Nanoseconds()}
	if b.tokens > 0 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = b.tokens
	return d
}
