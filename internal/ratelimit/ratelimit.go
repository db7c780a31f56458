// Package ratelimit implements a per-resource token bucket with lazy
// refill and FIFO-ordered waiters.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/Ap3pp3rs94/signalbot/internal/metrics"
)

// Limiter holds one token bucket per resource key, refilling lazily on
// Acquire (no background goroutine runs while a bucket has no waiters).
type Limiter struct {
	mu       sync.Mutex
	capacity float64
	refill   float64
	buckets  map[string]*bucket
	metrics  *metrics.Registry
	now      func() time.Time
}

type bucket struct {
	tokens     float64
	lastRefill time.Time
	// waiters is a FIFO queue of hand-off channels. A channel is closed only
	// once its token has already been debited, so a waiter woken off this
	// queue never has to compete for the token again.
	waiters []chan struct{}
}

// New constructs a Limiter with one bucket shape (capacity, refill/s) shared
// by every resource key.
func New(capacity, refillPerSecond float64, reg *metrics.Registry) *Limiter {
	return &Limiter{
		capacity: capacity,
		refill:   refillPerSecond,
		buckets:  make(map[string]*bucket),
		metrics:  reg,
		now:      time.Now,
	}
}

// Acquire suspends the caller until a token is available for resource, then
// decrements it. Concurrent callers on the same resource are served FIFO.
func (l *Limiter) Acquire(ctx context.Context, resource string) error {
	start := l.now()
	wait, ok := l.tryAcquire(resource)
	if ok {
		l.observeWait(resource, start)
		return nil
	}
	select {
	case <-ctx.Done():
		l.abandon(resource, wait)
		return ctx.Err()
	case <-wait:
		l.observeWait(resource, start)
		return nil
	}
}

func (l *Limiter) observeWait(resource string, start time.Time) {
	if l.metrics != nil {
		l.metrics.RateLimiterWaitSeconds.WithLabelValues(resource).Observe(l.now().Sub(start).Seconds())
	}
}

// tryAcquire grants a token immediately when the bucket has one free and no
// one is already queued for it. Otherwise it enqueues a hand-off channel and
// returns it; the channel is closed once a later refill hands this waiter
// its token.
func (l *Limiter) tryAcquire(resource string) (chan struct{}, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[resource]
	if !ok {
		b = &bucket{tokens: l.capacity, lastRefill: l.now()}
		l.buckets[resource] = b
	}
	l.refillLocked(b)

	// A fresh caller may not jump ahead of already-queued waiters even when
	// a token happens to be available; that would break FIFO ordering.
	if len(b.waiters) == 0 && b.tokens >= 1.0 {
		b.tokens -= 1.0
		return nil, true
	}

	ch := make(chan struct{})
	b.waiters = append(b.waiters, ch)
	if len(b.waiters) == 1 {
		l.armWakeLocked(b)
	}
	return ch, false
}

// armWakeLocked schedules a timer to grant the head waiter(s) once enough
// tokens have accumulated. Called with l.mu held; must only be called when
// no wake is already scheduled for this bucket, which holds as long as a
// wake is always re-armed while waiters remain (see wakeLocked).
func (l *Limiter) armWakeLocked(b *bucket) {
	if l.refill <= 0 {
		return
	}
	need := 1.0 - b.tokens
	if need < 0 {
		need = 0
	}
	d := time.Duration(need/l.refill*float64(time.Second)) + time.Millisecond
	time.AfterFunc(d, func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.wakeLocked(b)
	})
}

// wakeLocked refills the bucket and hands off a token to as many queued
// waiters, head first, as the refilled balance allows, closing each one's
// channel only after its token has been debited. If waiters remain after
// that, it re-arms the wake so none of them is left stranded.
func (l *Limiter) wakeLocked(b *bucket) {
	l.refillLocked(b)
	for len(b.waiters) > 0 && b.tokens >= 1.0 {
		ch := b.waiters[0]
		b.waiters = b.waiters[1:]
		b.tokens -= 1.0
		close(ch)
	}
	if len(b.waiters) > 0 {
		l.armWakeLocked(b)
	}
}

// abandon removes a cancelled waiter's channel from the queue. If the
// channel was already granted and popped by wakeLocked, this is a no-op.
func (l *Limiter) abandon(resource string, ch chan struct{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return
	}
	for i, w := range b.waiters {
		if w == ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}

func (l *Limiter) refillLocked(b *bucket) {
	now := l.now()
	if l.refill <= 0 {
		b.lastRefill = now
		return
	}
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.lastRefill = now
	b.tokens += elapsed * l.refill
	if b.tokens > l.capacity {
		b.tokens = l.capacity
	}
}

// Snapshot reports the current token count for resource, for introspection.
func (l *Limiter) Snapshot(resource string) float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[resource]
	if !ok {
		return l.capacity
	}
	l.refillLocked(b)
	return b.tokens
}
