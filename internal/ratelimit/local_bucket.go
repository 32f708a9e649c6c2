package ratelimit

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalTokenBucket keeps one in-process bucket per subject. It is used when
// no Redis instance is configured. Buckets idle for a whole window are
// dropped, so memory is bounded by the subjects seen within one window.
type LocalTokenBucket struct {
	mu        sync.Mutex
	buckets   map[string]*localBucket
	limit     rate.Limit
	burst     int
	idleAfter time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type localBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLocalTokenBucket(capacity int, window time.Duration) (*LocalTokenBucket, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("capacity must be positive")
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive")
	}

	return &LocalTokenBucket{
		buckets:   make(map[string]*localBucket),
		limit:     rate.Limit(float64(capacity) / window.Seconds()),
		burst:     capacity,
		idleAfter: window,
		now:       time.Now,
	}, nil
}

func (l *LocalTokenBucket) Allow(_ context.Context, subject string, cost int64) (Decision, error) {
	subject = normalizeSubject(subject)
	if cost < 1 {
		cost = 1
	}

	if cost > int64(l.burst) {
		return Decision{Allowed: false, RetryAfter: time.Duration(float64(time.Second) * float64(l.burst) / float64(l.limit))}, nil
	}

	now := l.now()
	limiter := l.limiterFor(subject, now)

	reservation := limiter.ReserveN(now, int(cost))
	delay := reservation.DelayFrom(now)
	if delay > 0 {
		reservation.CancelAt(now)
		return Decision{
			Allowed:    false,
			Remaining:  remaining(limiter.TokensAt(now)),
			RetryAfter: delay,
		}, nil
	}

	return Decision{
		Allowed:   true,
		Remaining: remaining(limiter.TokensAt(now)),
	}, nil
}

func (l *LocalTokenBucket) limiterFor(subject string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) >= l.idleAfter {
		l.evictIdle(now)
		l.lastSweep = now
	}

	b, ok := l.buckets[subject]
	if !ok {
		b = &localBucket{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[subject] = b
	}
	b.lastSeen = now
	return b.limiter
}

// evictIdle drops buckets untouched for a window. Such a bucket has refilled
// to capacity and is indistinguishable from a new one. Caller holds l.mu.
func (l *LocalTokenBucket) evictIdle(now time.Time) {
	for subject, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleAfter {
			delete(l.buckets, subject)
		}
	}
}

func (l *LocalTokenBucket) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func remaining(tokens float64) int64 {
	if tokens < 0 {
		return 0
	}
	return int64(math.Floor(tokens))
}
