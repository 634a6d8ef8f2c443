package robots

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newServer(t *testing.T, hits *atomic.Int32, handler http.HandlerFunc) (*httptest.Server, string) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/robots.txt" {
			hits.Add(1)
		}
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, strings.TrimPrefix(srv.URL, "http://")
}

func TestResolverAllowsAndDenies(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	_, host := newServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nDisallow: /private\nCrawl-delay: 3")
	})
	r := New(Options{UserAgent: "jobcrawler", Respect: true, Scheme: "http"}, zap.NewNop())
	ctx := context.Background()

	assert.True(t, r.IsAllowed(ctx, host, "/jobs", ""))
	assert.False(t, r.IsAllowed(ctx, host, "/private/list", "jobcrawler"))
	assert.Equal(t, 3*time.Second, r.CrawlDelay(ctx, host))
	assert.Equal(t, int32(1), hits.Load(), "robots.txt should be cached")
}

func TestResolverMergesCrawlDelayByMax(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	_, host := newServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nCrawl-delay: 2")
	})
	r := New(Options{UserAgent: "jobcrawler", Respect: true, Scheme: "http"}, zap.NewNop())
	ctx := context.Background()

	assert.Equal(t, 2*time.Second, r.EffectiveInterval(ctx, host, 500*time.Millisecond))
	assert.Equal(t, 5*time.Second, r.EffectiveInterval(ctx, host, 5*time.Second))
}

func TestResolverFailsOpen(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	_, host := newServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	r := New(Options{UserAgent: "jobcrawler", Respect: true, Scheme: "http"}, zap.NewNop())
	ctx := context.Background()

	assert.True(t, r.IsAllowed(ctx, host, "/anything", ""))
	assert.Zero(t, r.CrawlDelay(ctx, host))
	assert.Equal(t, int32(1), hits.Load(), "failure should be cached")

	// Unreachable host.
	assert.True(t, r.IsAllowed(ctx, "127.0.0.1:1", "/x", ""))
}

func TestResolverMissingRobotsAllowsAll(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	_, host := newServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		http.NotFound(w, nil)
	})
	r := New(Options{UserAgent: "jobcrawler", Respect: true, Scheme: "http"}, zap.NewNop())
	assert.True(t, r.IsAllowed(context.Background(), host, "/private", ""))
}

func TestResolverDisabled(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	_, host := newServer(t, &hits, func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, "User-agent: *\nDisallow: /")
	})
	r := New(Options{UserAgent: "jobcrawler", Respect: false, Scheme: "http"}, zap.NewNop())
	assert.True(t, r.IsAllowed(context.Background(), host, "/", ""))
	assert.Zero(t, hits.Load())
}
