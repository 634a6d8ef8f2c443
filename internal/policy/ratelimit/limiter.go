// Package ratelimit bounds per-host request concurrency and spacing.
//
// Each host gets a slot count bounded by its max concurrency and a token
// bucket with burst 1 refilled once per minimum interval, so a permit is
// granted only when a slot is free and the interval since the previous
// request start has elapsed. A Retry-After suspension overrides both.
// Reconfiguring a host resizes its pool in place; permits already granted
// keep counting against the new bound.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/jobcrawler/internal/metrics"
)

// Fallback values used when a policy is misconfigured.
const (
	FallbackConcurrency = 1
	FallbackInterval    = time.Second
)

// Policy is the politeness budget for one host.
type Policy struct {
	MaxConcurrency int
	MinInterval    time.Duration
}

func (p Policy) sanitize() Policy {
	if p.MaxConcurrency <= 0 || p.MinInterval < 0 {
		return Policy{MaxConcurrency: FallbackConcurrency, MinInterval: FallbackInterval}
	}
	return p
}

// Limiter manages per-host permits.
type Limiter struct {
	mu       sync.Mutex
	hosts    map[string]*hostState
	defaults Policy
	now      func() time.Time
}

// hostState is guarded by Limiter.mu, except interval which is safe for
// concurrent use.
type hostState struct {
	policy    Policy
	interval  *rate.Limiter
	suspended time.Time
	inFlight  int
	// freed is closed and replaced whenever a slot frees up or the pool grows.
	freed chan struct{}
}

func (st *hostState) wake() {
	close(st.freed)
	st.freed = make(chan struct{})
}

// Permit is a granted slot for one request. Release it exactly once; extra
// calls are no-ops.
type Permit struct {
	host    string
	limiter *Limiter
	state   *hostState
	once    sync.Once
}

// Release returns the slot to the host's pool.
func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.limiter.mu.Lock()
		defer p.limiter.mu.Unlock()
		p.state.inFlight--
		p.state.wake()
	})
}

// Host is the host this permit was granted for.
func (p *Permit) Host() string {
	return p.host
}

// New creates a Limiter whose unconfigured hosts use defaults.
func New(defaults Policy) *Limiter {
	return &Limiter{
		hosts:    make(map[string]*hostState),
		defaults: defaults.sanitize(),
		now:      time.Now,
	}
}

// Configure sets the policy for host. Permits already granted count against
// the new concurrency bound until released.
func (l *Limiter) Configure(host string, p Policy) {
	host = normalizeHost(host)
	p = p.sanitize()
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.hosts[host]
	if !ok {
		l.hosts[host] = newHostState(p)
		return
	}
	if st.policy == p {
		return
	}
	if p.MinInterval != st.policy.MinInterval {
		st.interval.SetLimit(intervalLimit(p.MinInterval))
	}
	st.policy = p
	st.wake()
}

// InFlight reports how many permits for host are currently held.
func (l *Limiter) InFlight(host string) int {
	host = normalizeHost(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(host).inFlight
}

// PolicyFor returns the policy currently applied to host.
func (l *Limiter) PolicyFor(host string) Policy {
	return l.state(normalizeHost(host)).policy
}

// Acquire blocks until host has a free slot, the minimum interval has passed
// and any Retry-After suspension has ended. It fails only when ctx ends.
func (l *Limiter) Acquire(ctx context.Context, host string) (*Permit, error) {
	host = normalizeHost(host)
	st := l.state(host)
	start := l.now()

	if err := l.waitSuspension(ctx, host); err != nil {
		return nil, err
	}
	if err := l.acquireSlot(ctx, host, st); err != nil {
		return nil, err
	}
	permit := &Permit{host: host, limiter: l, state: st}
	if err := l.waitSuspension(ctx, host); err != nil {
		permit.Release()
		return nil, err
	}
	if err := st.interval.Wait(ctx); err != nil {
		permit.Release()
		return nil, fmt.Errorf("wait %s interval: %w", host, err)
	}
	if waited := l.now().Sub(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(host, waited)
	}
	return permit, nil
}

func (l *Limiter) acquireSlot(ctx context.Context, host string, st *hostState) error {
	for {
		l.mu.Lock()
		if st.inFlight < st.policy.MaxConcurrency {
			st.inFlight++
			l.mu.Unlock()
			return nil
		}
		freed := st.freed
		l.mu.Unlock()
		select {
		case <-ctx.Done():
			return fmt.Errorf("acquire %s slot: %w", host, ctx.Err())
		case <-freed:
		}
	}
}

// Suspend blocks all acquisitions for host until the given time. A later
// suspension extends an earlier one; an earlier one never shortens it.
func (l *Limiter) Suspend(host string, until time.Time) {
	host = normalizeHost(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.stateLocked(host)
	if until.After(st.suspended) {
		st.suspended = until
	}
}

// SuspendedUntil reports the current suspension deadline for host.
func (l *Limiter) SuspendedUntil(host string) time.Time {
	host = normalizeHost(host)
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(host).suspended
}

func (l *Limiter) waitSuspension(ctx context.Context, host string) error {
	for {
		until := l.SuspendedUntil(host)
		wait := until.Sub(l.now())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("wait %s suspension: %w", host, ctx.Err())
		case <-timer.C:
		}
	}
}

func (l *Limiter) state(host string) *hostState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked(host)
}

func (l *Limiter) stateLocked(host string) *hostState {
	st, ok := l.hosts[host]
	if !ok {
		st = newHostState(l.defaults)
		l.hosts[host] = st
	}
	return st
}

func newHostState(p Policy) *hostState {
	return &hostState{
		policy:   p,
		interval: rate.NewLimiter(intervalLimit(p.MinInterval), 1),
		freed:    make(chan struct{}),
	}
}

func intervalLimit(d time.Duration) rate.Limit {
	if d <= 0 {
		return rate.Inf
	}
	return rate.Every(d)
}

func normalizeHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if host == "" {
		return "unknown"
	}
	return host
}
