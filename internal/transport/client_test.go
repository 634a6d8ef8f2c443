package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/policy/ratelimit"
)

func newTestClient(gate Gate, robots Robots) *Client {
	return New(Options{
		UserAgent:   "test-agent",
		Contact:     "ops@example.org",
		Timeout:     2 * time.Second,
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}, gate, robots, zap.NewNop())
}

type denyRobots struct{ calls atomic.Int32 }

func (d *denyRobots) IsAllowed(context.Context, string, string, string) bool {
	d.calls.Add(1)
	return false
}

func TestFetchSendsIdentity(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.Equal(t, "ops@example.org", r.Header.Get("From"))
		assert.Equal(t, "yes", r.Header.Get("X-Custom"))
		_, _ = w.Write([]byte("hello world"))
	}))
	defer srv.Close()

	c := newTestClient(nil, nil)
	resp, err := c.Fetch(context.Background(), Request{URL: srv.URL, Header: http.Header{"X-Custom": {"yes"}}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "hello world", string(resp.Body))
	assert.Equal(t, 1, resp.Attempts)
}

func TestFetchRetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	resp, err := newTestClient(nil, nil).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(3), hits.Load())
	assert.Equal(t, 3, resp.Attempts)
}

func TestFetchExhaustedServerErrorReturnsStatus(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	resp, err := newTestClient(nil, nil).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetchNeverRetriesClientErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	resp, err := newTestClient(nil, nil).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchConditionalGet(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		_, _ = w.Write([]byte("feed body"))
	}))
	defer srv.Close()

	c := newTestClient(nil, nil)
	ctx := context.Background()
	first, err := c.Fetch(ctx, Request{URL: srv.URL, Conditional: true})
	require.NoError(t, err)
	assert.Equal(t, "feed body", string(first.Body))

	second, err := c.Fetch(ctx, Request{URL: srv.URL, Conditional: true})
	require.ErrorIs(t, err, ErrNotModified)
	assert.Equal(t, http.StatusNotModified, second.Status)

	// Unconditional requests ignore cached validators.
	third, err := c.Fetch(ctx, Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, third.Status)

	c.Forget(srv.URL)
	fourth, err := c.Fetch(ctx, Request{URL: srv.URL, Conditional: true})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, fourth.Status)
	assert.Equal(t, int32(4), hits.Load())
}

func TestFetchEnforcesSizeCap(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(strings.Repeat("x", 2048)))
	}))
	defer srv.Close()

	_, err := newTestClient(nil, nil).Fetch(context.Background(), Request{URL: srv.URL, MaxBytes: 1024})
	require.ErrorIs(t, err, ErrTooLarge)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchRetryAfterSuspendsHost(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := ratelimit.New(ratelimit.Policy{MaxConcurrency: 2, MinInterval: 0})
	start := time.Now()
	resp, err := newTestClient(limiter, nil).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, int32(2), hits.Load())
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)

	host := strings.TrimPrefix(srv.URL, "http://")
	assert.True(t, limiter.SuspendedUntil(host).After(start))
}

func TestFetchGivesUpOnLongRetryAfter(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Retry-After", "3600")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	limiter := ratelimit.New(ratelimit.Policy{MaxConcurrency: 1, MinInterval: 0})
	resp, err := newTestClient(limiter, nil).Fetch(context.Background(), Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, resp.Status)
	assert.Equal(t, int32(1), hits.Load())
}

func TestFetchHonoursRobots(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	robots := &denyRobots{}
	_, err := newTestClient(nil, robots).Fetch(context.Background(), Request{URL: srv.URL + "/jobs"})
	require.ErrorIs(t, err, ErrDisallowed)
	assert.Equal(t, int32(1), robots.calls.Load())
	assert.Zero(t, hits.Load())
}

func TestFetchNetworkErrorIsRedacted(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := newTestClient(nil, nil).Fetch(context.Background(), Request{URL: addr + "/jobs?api_key=sekrit"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "sekrit")
	assert.Contains(t, err.Error(), "3 attempt(s)")
}

func TestFetchDoesNotRetryCanceledContext(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestClient(nil, nil).Fetch(ctx, Request{URL: srv.URL})
	require.Error(t, err)
	assert.Zero(t, hits.Load())
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	at, ok := parseRetryAfter("120", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(2*time.Minute), at)

	at, ok = parseRetryAfter("Wed, 01 Jan 2025 00:05:00 GMT", now)
	require.True(t, ok)
	assert.Equal(t, now.Add(5*time.Minute), at)

	at, ok = parseRetryAfter("Tue, 31 Dec 2024 00:00:00 GMT", now)
	require.True(t, ok)
	assert.Equal(t, now, at)

	_, ok = parseRetryAfter("", now)
	assert.False(t, ok)
	_, ok = parseRetryAfter("soon", now)
	assert.False(t, ok)
	_, ok = parseRetryAfter("-5", now)
	assert.False(t, ok)
}

func TestRetryPolicyBackoffIsCapped(t *testing.T) {
	t.Parallel()

	p := NewRetryPolicy(5, 100*time.Millisecond, 400*time.Millisecond)
	for attempt := 1; attempt <= 5; attempt++ {
		d := p.Backoff(attempt)
		assert.LessOrEqual(t, d, 400*time.Millisecond)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
	}
	assert.False(t, p.ShouldRetryStatus(http.StatusNotFound, 1))
	assert.True(t, p.ShouldRetryStatus(http.StatusTooManyRequests, 1))
	assert.False(t, p.ShouldRetryStatus(http.StatusInternalServerError, 5))
}
