// Package ratelimit provides a per-client token bucket.
//
// Admission fails closed: a request without a client key is rejected rather
// than billed to a shared bucket.
package ratelimit

import (
	"sync"
	"time"
)

const (
	// pruneThreshold bounds the bucket map; idle buckets are dropped once
	// the map grows past it.
	pruneThreshold = 1024
	bucketIdleTTL  = 10 * time.Minute
)

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// Limiter admits requests per client key using a token bucket. A fresh key
// starts with a full bucket of burst tokens refilled at refillPerSec.
type Limiter struct {
	mu           sync.Mutex
	buckets      map[string]*bucket
	refillPerSec float64
	burst        float64

	now func() time.Time // test hook
}

// New creates a limiter. Non-positive refill or burst values fall back to
// one token per second and a burst of one.
func New(refillPerSec float64, burst int) *Limiter {
	if refillPerSec <= 0 {
		refillPerSec = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		buckets:      make(map[string]*bucket),
		refillPerSec: refillPerSec,
		burst:        float64(burst),
		now:          time.Now,
	}
}

// Admit spends one token for the key. When the bucket is empty it returns
// false and how long until the next token. An empty key is always rejected.
func (l *Limiter) Admit(key string) (bool, time.Duration) {
	if key == "" {
		return false, 0
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()

	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= pruneThreshold {
			l.pruneLocked(now)
		}
		b = &bucket{tokens: l.burst}
		l.buckets[key] = b
	} else {
		elapsed := now.Sub(b.lastSeen).Seconds()
		b.tokens += elapsed * l.refillPerSec
		if b.tokens > l.burst {
			b.tokens = l.burst
		}
	}
	b.lastSeen = now

	if b.tokens >= 1 {
		b.tokens--
		return true, 0
	}

	deficit := 1 - b.tokens
	retryAfter := time.Duration(deficit / l.refillPerSec * float64(time.Second))
	if retryAfter < time.Millisecond {
		retryAfter = time.Millisecond
	}
	return false, retryAfter
}

// ActiveClients reports how many client buckets are currently tracked.
func (l *Limiter) ActiveClients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) pruneLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > bucketIdleTTL {
			delete(l.buckets, key)
		}
	}
}
