// Package transport is the crawler's HTTP client: per-host permits, robots
// checks, retries with jittered backoff, conditional GETs and size caps.
package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/policy/ratelimit"
)

var (
	// ErrNotModified is returned for a conditional GET answered with 304.
	ErrNotModified = errors.New("not modified")
	// ErrTooLarge is returned when a body exceeds the size cap.
	ErrTooLarge = errors.New("response exceeds size cap")
	// ErrDisallowed is returned when robots.txt forbids the URL.
	ErrDisallowed = errors.New("disallowed by robots.txt")
)

// Gate hands out per-host request permits.
type Gate interface {
	Acquire(ctx context.Context, host string) (*ratelimit.Permit, error)
	Suspend(host string, until time.Time)
}

// Robots answers whether a path may be fetched.
type Robots interface {
	IsAllowed(ctx context.Context, host, path, userAgent string) bool
}

// Request describes one logical fetch; retries are internal.
type Request struct {
	URL    string
	Method string
	Header http.Header
	Body   []byte
	// Timeout bounds each attempt; zero uses the client default.
	Timeout time.Duration
	// MaxBytes caps the body; zero uses the client default.
	MaxBytes int64
	// Conditional sends cached validators and may yield ErrNotModified.
	Conditional bool
}

// Response is a fully read HTTP response.
type Response struct {
	URL      string
	Status   int
	Header   http.Header
	Body     []byte
	Duration time.Duration
	Attempts int
}

// Options configures a Client.
type Options struct {
	UserAgent   string
	Contact     string
	Timeout     time.Duration
	MaxBytes    int64
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// MaxRetryAfter is the longest Retry-After the client will wait out
	// before giving up on the request.
	MaxRetryAfter time.Duration
	HTTPClient    *http.Client
}

// Client performs polite HTTP fetches.
type Client struct {
	http       *http.Client
	opts       Options
	retry      *RetryPolicy
	gate       Gate
	robots     Robots
	validators *validatorCache
	logger     *zap.Logger
	now        func() time.Time
}

// New builds a Client. gate and robots may be nil.
func New(opts Options, gate Gate, robots Robots, logger *zap.Logger) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 5 << 20
	}
	if opts.MaxRetryAfter <= 0 {
		opts.MaxRetryAfter = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "jobcrawler/1.0"
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Transport: newHTTPTransport()}
	}
	return &Client{
		http:       client,
		opts:       opts,
		retry:      NewRetryPolicy(opts.MaxAttempts, opts.BaseDelay, opts.MaxDelay),
		gate:       gate,
		robots:     robots,
		validators: newValidatorCache(0),
		logger:     logger.Named("transport"),
		now:        time.Now,
	}
}

// UserAgent is the identifying agent string sent with every request.
func (c *Client) UserAgent() string {
	return c.opts.UserAgent
}

// Forget drops cached validators for rawURL so the next fetch is unconditional.
func (c *Client) Forget(rawURL string) {
	c.validators.forget(rawURL)
}

// Fetch performs req. Any HTTP status is returned as a Response with a nil
// error; errors mean the request could not complete (network failure after
// retries, size cap, robots, cancellation) or ErrNotModified.
func (c *Client) Fetch(ctx context.Context, req Request) (Response, error) {
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return Response{}, eris.Wrap(err, "parse request url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return Response{}, eris.Errorf("unsupported url scheme %q", parsed.Scheme)
	}
	host := parsed.Host
	if req.Method == "" {
		req.Method = http.MethodGet
	}
	if c.robots != nil {
		path := parsed.EscapedPath()
		if parsed.RawQuery != "" {
			path += "?" + parsed.RawQuery
		}
		if !c.robots.IsAllowed(ctx, host, path, c.opts.UserAgent) {
			return Response{}, eris.Wrapf(ErrDisallowed, "fetch %s", redactURL(parsed))
		}
	}
	conditional := req.Conditional && req.Method == http.MethodGet
	var cond validator
	if conditional {
		cond = c.validators.get(req.URL)
	}

	start := c.now()
	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, host, req, cond)
		if err != nil {
			if errors.Is(err, ErrTooLarge) {
				return Response{}, err
			}
			lastErr = err
			if !c.retry.ShouldRetry(ctx, err, attempt) {
				return Response{}, eris.Wrapf(lastErr, "fetch %s after %d attempt(s)", redactURL(parsed), attempt)
			}
			c.logger.Warn("http request failed, retrying",
				zap.String("host", host),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return Response{}, eris.Wrapf(lastErr, "fetch %s", redactURL(parsed))
			}
			continue
		}
		resp.Attempts = attempt
		resp.Duration = c.now().Sub(start)

		if conditional && resp.Status == http.StatusNotModified && !cond.empty() {
			return resp, ErrNotModified
		}

		if resp.Status == http.StatusTooManyRequests || resp.Status == http.StatusServiceUnavailable {
			if until, ok := parseRetryAfter(resp.Header.Get("Retry-After"), c.now()); ok {
				if c.gate != nil {
					c.gate.Suspend(host, until)
				}
				wait := until.Sub(c.now())
				if wait > c.opts.MaxRetryAfter {
					c.logger.Warn("retry-after exceeds limit; giving up",
						zap.String("host", host),
						zap.Duration("retry_after", wait),
					)
					return resp, nil
				}
				if c.retry.ShouldRetryStatus(resp.Status, attempt) {
					if c.gate == nil {
						if err := c.sleep(ctx, wait); err != nil {
							return resp, nil
						}
					}
					continue
				}
				return resp, nil
			}
		}

		if c.retry.ShouldRetryStatus(resp.Status, attempt) {
			c.logger.Warn("server error, retrying",
				zap.String("host", host),
				zap.Int("status", resp.Status),
				zap.Int("attempt", attempt),
			)
			if err := c.sleep(ctx, c.retry.Backoff(attempt)); err != nil {
				return resp, nil
			}
			continue
		}

		if conditional && resp.Status == http.StatusOK {
			c.validators.remember(req.URL, resp.Header)
		}
		return resp, nil
	}
}

func (c *Client) attempt(ctx context.Context, host string, req Request, cond validator) (Response, error) {
	if c.gate != nil {
		permit, err := c.gate.Acquire(ctx, host)
		if err != nil {
			return Response{}, eris.Wrap(err, "rate limiter wait")
		}
		defer permit.Release()
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, req.URL, body)
	if err != nil {
		return Response{}, eris.Wrap(err, "create request")
	}
	for k, vals := range req.Header {
		for _, v := range vals {
			httpReq.Header.Add(k, v)
		}
	}
	httpReq.Header.Set("User-Agent", c.opts.UserAgent)
	if c.opts.Contact != "" {
		httpReq.Header.Set("From", c.opts.Contact)
	}
	if len(req.Body) > 0 && httpReq.Header.Get("Content-Type") == "" {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	cond.apply(httpReq.Header)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			return Response{}, &url.Error{Op: uerr.Op, URL: redactURL(httpReq.URL), Err: uerr.Err}
		}
		return Response{}, err
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			c.logger.Debug("Failed to close response body", zap.Error(cerr))
		}
	}()

	limit := req.MaxBytes
	if limit <= 0 {
		limit = c.opts.MaxBytes
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return Response{}, eris.Wrap(err, "read body")
	}
	metrics.ObserveFetch(host, resp.StatusCode, len(data))
	if int64(len(data)) > limit {
		return Response{}, eris.Wrapf(ErrTooLarge, "body larger than %d bytes", limit)
	}
	return Response{
		URL:    resp.Request.URL.String(),
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   data,
	}, nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// redactURL drops the query string, which may carry credentials.
func redactURL(u *url.URL) string {
	cp := *u
	cp.RawQuery = ""
	cp.User = nil
	return cp.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
