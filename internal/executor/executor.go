// Package executor runs one source end to end: fetch, extract, normalize
// and upsert. It never touches scheduling state; the orchestrator owns that.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/fetcher"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/normalize"
	"github.com/JakeFAU/jobcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobcrawler/internal/transport"
)

// State is a step of the per-run state machine.
type State string

// Run states.
const (
	StateFetching    State = "fetching"
	StateExtracting  State = "extracting"
	StateNormalizing State = "normalizing"
	StateUpserting   State = "upserting"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// Config controls Executor behavior.
type Config struct {
	// DefaultPolicy fills fields a host's stored policy leaves unset.
	DefaultPolicy crawler.DomainPolicy
	// MessageMaxLen bounds outcome messages.
	MessageMaxLen int
	// SimulateLimit is the default record count for Simulate.
	SimulateLimit int
	// TestSampleSize is the number of samples a Test report carries.
	TestSampleSize int
}

// Fetchers resolves the fetcher for a protocol kind.
type Fetchers interface {
	For(kind crawler.ProtocolKind) (fetcher.Fetcher, error)
}

// Limiter receives the effective per-host policy before a crawl starts.
type Limiter interface {
	Configure(host string, p ratelimit.Policy)
}

// Politeness merges robots.txt crawl-delay into the request interval.
type Politeness interface {
	EffectiveInterval(ctx context.Context, host string, policyInterval time.Duration) time.Duration
}

// ValidatorCache drops conditional-GET validators for a URL.
type ValidatorCache interface {
	Forget(rawURL string)
}

// Deps are the collaborators an Executor needs. Policies, Limiter,
// Politeness and Validators are optional.
type Deps struct {
	Fetchers   Fetchers
	Sink       crawler.JobSink
	Policies   crawler.PolicyStore
	Limiter    Limiter
	Politeness Politeness
	Validators ValidatorCache
	Clock      crawler.Clock
	IDs        crawler.IDGenerator
}

// Executor runs crawls.
type Executor struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New constructs an Executor.
func New(deps Deps, cfg Config, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MessageMaxLen <= 0 {
		cfg.MessageMaxLen = 500
	}
	if cfg.SimulateLimit <= 0 {
		cfg.SimulateLimit = 5
	}
	if cfg.TestSampleSize <= 0 {
		cfg.TestSampleSize = 5
	}
	return &Executor{deps: deps, cfg: cfg, logger: logger.Named("executor")}
}

// run tracks one execution through the state machine.
type run struct {
	src     crawler.SourceConfig
	state   State
	outcome crawler.CrawlOutcome
	started time.Time
	logger  *zap.Logger
}

func (r *run) transition(to State) {
	r.logger.Debug("crawl state", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
}

// Run crawls src once and returns the outcome. It never returns an error:
// every failure, including a panic in a fetcher, becomes an error outcome.
func (e *Executor) Run(ctx context.Context, src crawler.SourceConfig) (outcome crawler.CrawlOutcome) {
	r := e.begin(src)
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("crawl panicked", zap.String("source_id", src.ID), zap.String("state", string(r.state)), zap.Any("panic", p))
			e.fail(ctx, r, &crawler.Error{Reason: crawler.ReasonInternal, Err: fmt.Errorf("panic during %s: %v", r.state, p)})
		}
		outcome = e.finish(r)
	}()

	target, f, err := e.prepare(ctx, src)
	if err != nil {
		e.fail(ctx, r, err)
		return
	}
	target.Conditional = true

	records, err := f.FetchRecords(ctx, target)
	if errors.Is(err, transport.ErrNotModified) {
		r.outcome.Status = crawler.OutcomeNoChange
		r.outcome.Message = "not modified"
		r.transition(StateDone)
		return
	}
	if err != nil {
		e.fail(ctx, r, err)
		return
	}
	r.transition(StateExtracting)
	r.outcome.Found = len(records)

	r.transition(StateNormalizing)
	jobs := e.normalizeAll(r, records, 0)

	r.transition(StateUpserting)
	if err := e.upsertAll(ctx, r, jobs); err != nil {
		e.fail(ctx, r, err)
		return
	}

	r.transition(StateDone)
	if r.outcome.Changed() > 0 {
		r.outcome.Status = crawler.OutcomeSuccess
	} else {
		r.outcome.Status = crawler.OutcomeNoChange
	}
	r.outcome.Message = fmt.Sprintf("found %d, inserted %d, updated %d, skipped %d",
		r.outcome.Found, r.outcome.Inserted, r.outcome.Updated, r.outcome.Skipped)
	return
}

func (e *Executor) begin(src crawler.SourceConfig) *run {
	now := e.now()
	id := ""
	if e.deps.IDs != nil {
		var err error
		if id, err = e.deps.IDs.NewID(); err != nil {
			e.logger.Warn("generate outcome id", zap.Error(err))
		}
	}
	return &run{
		src:     src,
		state:   StateFetching,
		started: now,
		outcome: crawler.CrawlOutcome{ID: id, SourceID: src.ID, RanAt: now},
		logger:  e.logger.With(zap.String("source_id", src.ID), zap.String("kind", string(src.Kind))),
	}
}

// prepare resolves the fetcher and the effective domain policy, and primes
// the rate limiter for the host.
func (e *Executor) prepare(ctx context.Context, src crawler.SourceConfig) (fetcher.Target, fetcher.Fetcher, error) {
	if e.deps.Fetchers == nil {
		return fetcher.Target{}, nil, &crawler.Error{Reason: crawler.ReasonInternal, Err: errors.New("no fetchers configured")}
	}
	f, err := e.deps.Fetchers.For(src.Kind)
	if err != nil {
		return fetcher.Target{}, nil, err
	}
	policy := e.ResolvePolicy(ctx, requestHost(src))
	return fetcher.Target{
		Source:   src,
		MaxPages: policy.MaxPages,
		MaxBytes: policy.MaxBytes(),
	}, f, nil
}

// requestHost is the host a crawl of src actually talks to. API sources send
// every request to the schema's base_url. An unparseable schema falls back to
// the source URL; the fetcher reports the schema error.
func requestHost(src crawler.SourceConfig) string {
	if src.Kind == crawler.KindAPI {
		if schema, err := extract.ParseSchema(src.ParserHint); err == nil {
			if host := schema.Host(); host != "" {
				return host
			}
		}
	}
	return src.Host()
}

// ResolvePolicy merges the stored policy for host with the defaults and
// configures the limiter with the robots-adjusted interval.
func (e *Executor) ResolvePolicy(ctx context.Context, host string) crawler.DomainPolicy {
	policy := crawler.DomainPolicy{Host: host}
	if e.deps.Policies != nil && host != "" {
		stored, ok, err := e.deps.Policies.PolicyFor(ctx, host)
		switch {
		case err != nil:
			e.logger.Warn("load domain policy", zap.String("host", host), zap.Error(err))
		case ok:
			policy = stored
		}
	}
	policy = policy.Merge(e.cfg.DefaultPolicy)

	interval := policy.MinRequestInterval()
	if e.deps.Politeness != nil && host != "" {
		interval = e.deps.Politeness.EffectiveInterval(ctx, host, interval)
	}
	if e.deps.Limiter != nil && host != "" {
		e.deps.Limiter.Configure(host, ratelimit.Policy{
			MaxConcurrency: policy.MaxConcurrency,
			MinInterval:    interval,
		})
	}
	return policy
}

// normalizeAll maps records to jobs, counting rejects and in-run duplicates
// as skipped. limit > 0 stops after that many jobs.
func (e *Executor) normalizeAll(r *run, records []crawler.RawRecord, limit int) []crawler.NormalizedJob {
	org := normalize.OrgContext{
		SourceID:         r.src.ID,
		OrganizationName: r.src.OrgName,
		SourceURL:        r.src.URL,
	}
	seen := make(map[string]struct{}, len(records))
	jobs := make([]crawler.NormalizedJob, 0, len(records))
	for _, raw := range records {
		if limit > 0 && len(jobs) >= limit {
			break
		}
		job, reason := normalize.Normalize(raw, org)
		if reason != "" {
			r.outcome.Skipped++
			r.logger.Debug("record skipped", zap.String("reason", string(reason)), zap.String("title", raw.String(crawler.FieldTitle)))
			continue
		}
		if _, dup := seen[job.Fingerprint]; dup {
			r.outcome.Skipped++
			continue
		}
		seen[job.Fingerprint] = struct{}{}
		jobs = append(jobs, job)
	}
	return jobs
}

func (e *Executor) upsertAll(ctx context.Context, r *run, jobs []crawler.NormalizedJob) error {
	if len(jobs) > 0 && e.deps.Sink == nil {
		return &crawler.Error{Reason: crawler.ReasonInternal, Err: errors.New("no job sink configured")}
	}
	var (
		failures int
		lastErr  error
	)
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		result, err := e.deps.Sink.Upsert(ctx, job)
		if err != nil {
			failures++
			lastErr = err
			r.logger.Warn("upsert failed", zap.String("fingerprint", job.Fingerprint), zap.Error(err))
			continue
		}
		switch result {
		case crawler.UpsertInserted:
			r.outcome.Inserted++
		case crawler.UpsertUpdated:
			r.outcome.Updated++
		default:
			r.outcome.Skipped++
		}
	}
	if failures > 0 && failures == len(jobs) {
		return &crawler.Error{Reason: crawler.ReasonInternal, Err: fmt.Errorf("upsert: all %d records failed: %w", failures, lastErr)}
	}
	return nil
}

func (e *Executor) fail(ctx context.Context, r *run, err error) {
	failedIn := r.state
	r.transition(StateFailed)
	r.outcome.Status = crawler.OutcomeError

	if ctxErr := ctx.Err(); errors.Is(ctxErr, context.DeadlineExceeded) {
		r.outcome.Reason = string(crawler.ReasonBudgetExceeded)
		r.outcome.Message = "crawl budget exceeded"
	} else {
		r.outcome.Reason = string(crawler.ReasonOf(err))
		r.outcome.ConfigError = crawler.IsConfigError(err)
		msg := err.Error()
		if r.outcome.ConfigError {
			msg = "config: " + msg
		}
		r.outcome.Message = msg
	}
	r.logger.Warn("crawl failed",
		zap.String("state", string(failedIn)),
		zap.String("reason", r.outcome.Reason),
		zap.String("message", sanitizeMessage(r.outcome.Message, e.cfg.MessageMaxLen)),
	)
	if e.deps.Validators != nil {
		e.deps.Validators.Forget(r.src.URL)
	}
}

func (e *Executor) finish(r *run) crawler.CrawlOutcome {
	duration := e.now().Sub(r.started)
	if duration < 0 {
		duration = 0
	}
	r.outcome.DurationMs = duration.Milliseconds()
	r.outcome.Message = sanitizeMessage(r.outcome.Message, e.cfg.MessageMaxLen)
	metrics.ObserveCrawl(string(r.src.Kind), string(r.outcome.Status),
		r.outcome.Found, r.outcome.Inserted, r.outcome.Updated, r.outcome.Skipped, duration)
	r.logger.Info("crawl finished",
		zap.String("status", string(r.outcome.Status)),
		zap.Int("found", r.outcome.Found),
		zap.Int("inserted", r.outcome.Inserted),
		zap.Int("updated", r.outcome.Updated),
		zap.Int("skipped", r.outcome.Skipped),
		zap.Int64("duration_ms", r.outcome.DurationMs),
	)
	return r.outcome
}

func (e *Executor) now() time.Time {
	if e.deps.Clock != nil {
		return e.deps.Clock.Now()
	}
	return time.Now().UTC()
}

// Test fetches one page of src without caching or writes and reports what
// was found.
func (e *Executor) Test(ctx context.Context, src crawler.SourceConfig) (extract.TestReport, error) {
	target, f, err := e.prepare(ctx, src)
	if err != nil {
		return extract.TestReport{}, err
	}
	target.MaxPages = 1
	return f.Test(ctx, target, e.cfg.TestSampleSize)
}

// SimulateResult is a dry run: what a crawl would hand to the sink.
type SimulateResult struct {
	Found   int                     `json:"found"`
	Skipped int                     `json:"skipped"`
	Jobs    []crawler.NormalizedJob `json:"jobs"`
}

// Simulate fetches and normalizes up to n records without writing
// anything. n <= 0 uses the configured default.
func (e *Executor) Simulate(ctx context.Context, src crawler.SourceConfig, n int) (SimulateResult, error) {
	if n <= 0 {
		n = e.cfg.SimulateLimit
	}
	target, f, err := e.prepare(ctx, src)
	if err != nil {
		return SimulateResult{}, err
	}
	records, err := f.FetchRecords(ctx, target)
	if err != nil {
		return SimulateResult{}, err
	}
	r := &run{src: src, logger: e.logger.With(zap.String("source_id", src.ID))}
	jobs := e.normalizeAll(r, records, n)
	return SimulateResult{Found: len(records), Skipped: r.outcome.Skipped, Jobs: jobs}, nil
}
