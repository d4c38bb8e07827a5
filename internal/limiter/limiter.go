// Package limiter bounds how many pipeline executions run at once.
package limiter

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// DefaultCapacity is used when a non-positive capacity is requested.
const DefaultCapacity = 5

// Limiter is a fixed-capacity counting semaphore. Waiters are admitted in
// the order they called Acquire.
type Limiter struct {
	sem      *semaphore.Weighted
	capacity int64
	inUse    atomic.Int64
	waiting  atomic.Int64
}

// New creates a Limiter admitting at most capacity holders.
func New(capacity int) *Limiter {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Limiter{
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
	}
}

// Acquire blocks until a slot is free or ctx is done. On success the caller
// must call Release exactly once.
func (l *Limiter) Acquire(ctx context.Context) error {
	l.waiting.Add(1)
	err := l.sem.Acquire(ctx, 1)
	l.waiting.Add(-1)
	if err != nil {
		return err
	}
	l.inUse.Add(1)
	return nil
}

// TryAcquire takes a slot without blocking and reports whether it succeeded.
func (l *Limiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.inUse.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *Limiter) Release() {
	l.inUse.Add(-1)
	l.sem.Release(1)
}

// Capacity returns the configured number of slots.
func (l *Limiter) Capacity() int { return int(l.capacity) }

// InUse returns the number of slots currently held.
func (l *Limiter) InUse() int { return int(l.inUse.Load()) }

// Waiting returns the number of callers blocked in Acquire.
func (l *Limiter) Waiting() int { return int(l.waiting.Load()) }
