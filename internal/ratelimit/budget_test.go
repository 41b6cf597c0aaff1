package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudget_RequestQuotaBound(t *testing.T) {
	// Two requests per interval, five concurrent claimants: exactly two
	// are admitted without waiting.
	b := NewBudget(2, 0)

	var admitted atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if b.TryAcquire(0) {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(2), admitted.Load())
}

func TestBudget_UnitQuotaBound(t *testing.T) {
	b := NewBudget(0, 1000)

	assert.True(t, b.TryAcquire(600))
	assert.False(t, b.TryAcquire(600), "second debit would exceed the unit quota")
	assert.True(t, b.TryAcquire(400))

	_, units := b.Remaining()
	assert.Equal(t, int64(0), units)
}

func TestBudget_Unsatisfiable(t *testing.T) {
	b := NewBudget(10, 100)

	err := b.Acquire(context.Background(), 101)
	require.ErrorIs(t, err, ErrUnsatisfiable)

	// An exactly-capacity estimate is admissible.
	require.NoError(t, b.Acquire(context.Background(), 100))
}

func TestBudget_UnlimitedDimensions(t *testing.T) {
	b := NewBudget(0, 0)
	for i := 0; i < 100; i++ {
		assert.True(t, b.TryAcquire(1 << 40))
	}
}

func TestBudget_ReleaseUnused(t *testing.T) {
	b := NewBudget(10, 100)

	require.True(t, b.TryAcquire(80))
	assert.False(t, b.TryAcquire(80))

	// True usage turned out to be 20, so 60 units come back.
	b.ReleaseUnused(60)
	assert.True(t, b.TryAcquire(80))
}

func TestBudget_ReleaseUnusedCappedAtCapacity(t *testing.T) {
	b := NewBudget(10, 100)
	b.ReleaseUnused(1000)
	_, units := b.Remaining()
	assert.Equal(t, int64(100), units)
}

func TestBudget_LazyRefill(t *testing.T) {
	b := NewBudget(1, 50)
	clock := time.Unix(0, 0)
	b.now = func() time.Time { return clock }
	b.lastRefill = clock

	require.True(t, b.TryAcquire(50))
	assert.False(t, b.TryAcquire(1))

	// Crossing one interval boundary restores both quotas.
	clock = clock.Add(interval)
	assert.True(t, b.TryAcquire(50))

	// Multiple elapsed intervals refill once, not cumulatively.
	clock = clock.Add(5 * interval)
	reqs, units := b.Remaining()
	assert.Equal(t, int64(1), reqs)
	assert.Equal(t, int64(50), units)
}

func TestBudget_AcquireUnblocksOnRelease(t *testing.T) {
	b := NewBudget(0, 100)
	require.True(t, b.TryAcquire(100))

	done := make(chan error, 1)
	go func() {
		done <- b.Acquire(context.Background(), 40)
	}()

	select {
	case err := <-done:
		t.Fatalf("acquire returned before units were released: %v", err)
	case <-time.After(20 * time.Millisecond):
	}

	b.ReleaseUnused(50)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("acquire did not unblock after release")
	}
}

func TestBudget_AcquireHonorsContext(t *testing.T) {
	b := NewBudget(1, 0)
	require.NoError(t, b.Acquire(context.Background(), 0))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := b.Acquire(ctx, 0)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
