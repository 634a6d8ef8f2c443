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

func TestLimiterBoundsInFlightPerHost(t *testing.T) {
	t.Parallel()

	const capacity = 3
	l := New(Policy{MaxConcurrency: capacity, MinInterval: 0})

	var inFlight, peak atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			permit, err := l.Acquire(context.Background(), "busy.example.org")
			if !assert.NoError(t, err) {
				return
			}
			defer permit.Release()
			cur := inFlight.Add(1)
			for {
				old := peak.Load()
				if cur <= old || peak.CompareAndSwap(old, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.Equal(t, int32(capacity), peak.Load(), "pool should saturate under load")
}

func TestLimiterHostsAreIndependent(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 1, MinInterval: 0})
	held, err := l.Acquire(context.Background(), "a.example.org")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	other, err := l.Acquire(ctx, "b.example.org")
	require.NoError(t, err)
	other.Release()
}

func TestLimiterSpacesRequestStarts(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 5, MinInterval: 50 * time.Millisecond})
	start := time.Now()
	for i := 0; i < 3; i++ {
		p, err := l.Acquire(context.Background(), "slow.example.org")
		require.NoError(t, err)
		p.Release()
	}
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestLimiterSuspendTakesPrecedence(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 5, MinInterval: 0})
	l.Suspend("throttled.example.org", time.Now().Add(80*time.Millisecond))
	// An earlier deadline never shortens the suspension.
	l.Suspend("throttled.example.org", time.Now().Add(time.Millisecond))

	start := time.Now()
	p, err := l.Acquire(context.Background(), "THROTTLED.example.org")
	require.NoError(t, err)
	p.Release()
	assert.GreaterOrEqual(t, time.Since(start), 70*time.Millisecond)
}

func TestLimiterAcquireHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 1, MinInterval: 0})
	held, err := l.Acquire(context.Background(), "full.example.org")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "full.example.org")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestLimiterFallsBackOnBadPolicy(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 0, MinInterval: -time.Second})
	assert.Equal(t, Policy{MaxConcurrency: FallbackConcurrency, MinInterval: FallbackInterval}, l.PolicyFor("x.example.org"))

	l.Configure("y.example.org", Policy{MaxConcurrency: -2, MinInterval: time.Second})
	assert.Equal(t, FallbackConcurrency, l.PolicyFor("y.example.org").MaxConcurrency)

	l.Configure("z.example.org", Policy{MaxConcurrency: 4, MinInterval: 200 * time.Millisecond})
	assert.Equal(t, Policy{MaxConcurrency: 4, MinInterval: 200 * time.Millisecond}, l.PolicyFor("z.example.org"))
}

func TestPermitReleaseIsIdempotent(t *testing.T) {
	t.Parallel()

	l := New(Policy{MaxConcurrency: 1, MinInterval: 0})
	p, err := l.Acquire(context.Background(), "once.example.org")
	require.NoError(t, err)
	p.Release()
	p.Release()

	// A double release must not have grown the pool to two slots.
	first, err := l.Acquire(context.Background(), "once.example.org")
	require.NoError(t, err)
	defer first.Release()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "once.example.org")
	require.Error(t, err)
}

func TestLimiterShrinkCountsHeldPermits(t *testing.T) {
	t.Parallel()

	const host = "resized.example.org"
	l := New(Policy{MaxConcurrency: 2, MinInterval: 0})
	first, err := l.Acquire(context.Background(), host)
	require.NoError(t, err)
	second, err := l.Acquire(context.Background(), host)
	require.NoError(t, err)

	l.Configure(host, Policy{MaxConcurrency: 1, MinInterval: 0})
	assert.Equal(t, 2, l.InFlight(host))

	tryAcquire := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		p, err := l.Acquire(ctx, host)
		if err == nil {
			p.Release()
		}
		return err
	}

	require.ErrorIs(t, tryAcquire(), context.DeadlineExceeded)
	first.Release()
	// One permit is still out, which fills the shrunken pool.
	require.ErrorIs(t, tryAcquire(), context.DeadlineExceeded)
	second.Release()
	require.NoError(t, tryAcquire())
	assert.Zero(t, l.InFlight(host))
}

func TestLimiterGrowWakesWaiters(t *testing.T) {
	t.Parallel()

	const host = "grown.example.org"
	l := New(Policy{MaxConcurrency: 1, MinInterval: 0})
	held, err := l.Acquire(context.Background(), host)
	require.NoError(t, err)
	defer held.Release()

	got := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		p, err := l.Acquire(ctx, host)
		if err == nil {
			p.Release()
		}
		got <- err
	}()

	time.Sleep(20 * time.Millisecond)
	l.Configure(host, Policy{MaxConcurrency: 2, MinInterval: 0})

	select {
	case err := <-got:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("waiter was not released after the pool grew")
	}
}
