// Package robots fetches, caches and evaluates robots.txt rules per host.
package robots

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/JakeFAU/jobcrawler/internal/metrics"
)

const maxRobotsBytes = 1 << 20

// Options configures a Resolver.
type Options struct {
	UserAgent string
	// Respect disables all checks when false.
	Respect bool
	// TTL is how long a fetched robots.txt stays cached.
	TTL time.Duration
	// FailureTTL is how long a failed fetch is remembered as allow-all.
	FailureTTL time.Duration
	// Scheme used to reach robots.txt; defaults to https.
	Scheme string
	Client *http.Client
}

// Resolver answers is-allowed and crawl-delay questions for hosts.
type Resolver struct {
	opts   Options
	client *http.Client
	cache  *cache.Cache
	group  singleflight.Group
	logger *zap.Logger
}

// entry is a cached robots.txt; nil data means no restrictions.
type entry struct {
	data *robotstxt.RobotsData
}

// New builds a Resolver.
func New(opts Options, logger *zap.Logger) *Resolver {
	if opts.TTL <= 0 {
		opts.TTL = 12 * time.Hour
	}
	if opts.FailureTTL <= 0 {
		opts.FailureTTL = time.Hour
	}
	if opts.Scheme == "" {
		opts.Scheme = "https"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Resolver{
		opts:   opts,
		client: client,
		cache:  cache.New(opts.TTL, opts.TTL/2),
		logger: logger,
	}
}

// IsAllowed reports whether userAgent may fetch path on host. Fetch failures
// are treated as no restrictions.
func (r *Resolver) IsAllowed(ctx context.Context, host, path, userAgent string) bool {
	if r == nil || !r.opts.Respect {
		return true
	}
	if userAgent == "" {
		userAgent = r.opts.UserAgent
	}
	if path == "" {
		path = "/"
	}
	e := r.load(ctx, host)
	if e.data == nil {
		return true
	}
	return e.data.TestAgent(path, userAgent)
}

// CrawlDelay returns the Crawl-delay declared for our user agent, or 0.
func (r *Resolver) CrawlDelay(ctx context.Context, host string) time.Duration {
	if r == nil || !r.opts.Respect {
		return 0
	}
	e := r.load(ctx, host)
	if e.data == nil {
		return 0
	}
	group := e.data.FindGroup(r.opts.UserAgent)
	if group == nil {
		return 0
	}
	return group.CrawlDelay
}

// EffectiveInterval merges the policy interval with the robots crawl delay
// by taking the larger of the two.
func (r *Resolver) EffectiveInterval(ctx context.Context, host string, policyInterval time.Duration) time.Duration {
	if delay := r.CrawlDelay(ctx, host); delay > policyInterval {
		return delay
	}
	return policyInterval
}

func (r *Resolver) load(ctx context.Context, host string) entry {
	hostKey := strings.ToLower(strings.TrimSpace(host))
	if cached, ok := r.cache.Get(hostKey); ok {
		if e, ok := cached.(entry); ok {
			return e
		}
	}
	v, _, _ := r.group.Do(hostKey, func() (any, error) {
		data, err := r.fetch(ctx, hostKey)
		if err != nil {
			metrics.ObserveRobotsFailure()
			r.logger.Warn("robots fetch failed; allowing access", zap.String("host", hostKey), zap.Error(err))
			e := entry{}
			r.cache.Set(hostKey, e, r.opts.FailureTTL)
			return e, nil
		}
		e := entry{data: data}
		r.cache.Set(hostKey, e, r.opts.TTL)
		return e, nil
	})
	e, _ := v.(entry)
	return e
}

func (r *Resolver) fetch(ctx context.Context, host string) (*robotstxt.RobotsData, error) {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", r.opts.Scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("new robots request: %w", err)
	}
	req.Header.Set("User-Agent", r.opts.UserAgent)
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch robots: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			r.logger.Debug("Failed to close robots response body", zap.Error(cerr))
		}
	}()
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("fetch robots: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRobotsBytes))
	if err != nil {
		return nil, fmt.Errorf("read robots body: %w", err)
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		return nil, fmt.Errorf("parse robots: %w", err)
	}
	return data, nil
}
