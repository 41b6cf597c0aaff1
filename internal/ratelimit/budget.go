// Package ratelimit implements the dual budget that paces LLM calls: a
// request quota and a consumption-unit quota, both per one-minute interval.
// Callers debit an estimate before a call and return the unused portion once
// true usage is known.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// ErrUnsatisfiable is returned when a request's estimate exceeds the
// per-interval consumption capacity, so no amount of waiting could admit it.
var ErrUnsatisfiable = eris.New("ratelimit: estimate exceeds budget capacity")

const interval = time.Minute

// Budget is a dual token bucket. Each Acquire debits one request token and
// estimate consumption units under a single lock, so the two quotas can
// never drift apart. Refill is lazy: tokens reset when an interval boundary
// has passed since the last refill, rather than on a background timer.
type Budget struct {
	mu   sync.Mutex
	cond *sync.Cond

	requestCap int64
	unitCap    int64

	requests int64
	units    int64

	lastRefill time.Time

	// now is swapped out by tests.
	now func() time.Time
}

// NewBudget returns a budget granting requestsPerMinute requests and
// unitsPerMinute consumption units per interval. Non-positive capacities
// mean unlimited for that dimension.
func NewBudget(requestsPerMinute, unitsPerMinute int64) *Budget {
	b := &Budget{
		requestCap: requestsPerMinute,
		unitCap:    unitsPerMinute,
		requests:   requestsPerMinute,
		units:      unitsPerMinute,
		now:        time.Now,
	}
	b.lastRefill = b.now()
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Acquire blocks until one request token and estimate consumption units are
// available, then debits both. It returns ErrUnsatisfiable immediately if
// estimate can never fit in a full interval, and the context error if ctx is
// done before admission.
func (b *Budget) Acquire(ctx context.Context, estimate int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unitCap > 0 && estimate > b.unitCap {
		return ErrUnsatisfiable
	}

	// Wake waiters when the context ends so the Wait loop can observe it.
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		b.cond.Broadcast()
		b.mu.Unlock()
	})
	defer stop()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		b.refillLocked()
		if b.admitLocked(estimate) {
			return nil
		}

		// No waiter signal can help before the next interval boundary,
		// so also wake up on a timer.
		wait := b.lastRefill.Add(interval).Sub(b.now())
		if wait <= 0 {
			continue
		}
		timer := time.AfterFunc(wait, b.cond.Broadcast)
		b.cond.Wait()
		timer.Stop()
	}
}

// TryAcquire debits one request token and estimate consumption units if both
// are available right now, without blocking.
func (b *Budget) TryAcquire(estimate int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.unitCap > 0 && estimate > b.unitCap {
		return false
	}
	b.refillLocked()
	return b.admitLocked(estimate)
}

// ReleaseUnused credits back consumption units that an estimate over-debited,
// once the call's true usage is known. Request tokens are never returned.
// Credits are capped at the interval capacity and wake blocked acquirers.
func (b *Budget) ReleaseUnused(delta int64) {
	if delta <= 0 || b.unitCap <= 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.units += delta
	if b.units > b.unitCap {
		b.units = b.unitCap
	}
	b.cond.Broadcast()
}

// Remaining reports the request tokens and consumption units currently
// available, after applying any pending refill.
func (b *Budget) Remaining() (requests, units int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refillLocked()
	return b.requests, b.units
}

func (b *Budget) admitLocked(estimate int64) bool {
	if b.requestCap > 0 && b.requests < 1 {
		return false
	}
	if b.unitCap > 0 && b.units < estimate {
		return false
	}
	if b.requestCap > 0 {
		b.requests--
	}
	if b.unitCap > 0 {
		b.units -= estimate
	}
	return true
}

func (b *Budget) refillLocked() {
	elapsed := b.now().Sub(b.lastRefill)
	if elapsed < interval {
		return
	}
	b.requests = b.requestCap
	b.units = b.unitCap
	b.lastRefill = b.lastRefill.Add(elapsed.Truncate(interval))
	b.cond.Broadcast()
}
