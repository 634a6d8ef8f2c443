// Package scheduler decides what to crawl and when. Plan is the pure
// adaptive next-run computation; Orchestrator drives ticks, locks and the
// worker pool, and is the only writer of source scheduling state.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
)

const recordTimeout = 10 * time.Second

// Runner executes one crawl.
type Runner interface {
	Run(ctx context.Context, src crawler.SourceConfig) crawler.CrawlOutcome
}

// Config controls the Orchestrator.
type Config struct {
	// Tick is a cron expression, e.g. "@every 5m".
	Tick        string
	PoolSize    int
	BatchLimit  int
	CrawlBudget time.Duration
	LockTTL     time.Duration
	Params      Params
}

// TickReport summarises one RunDue pass.
type TickReport struct {
	Due        int                    `json:"due"`
	Dispatched int                    `json:"dispatched"`
	Locked     int                    `json:"locked"`
	Succeeded  int                    `json:"succeeded"`
	NoChange   int                    `json:"no_change"`
	Failed     int                    `json:"failed"`
	Paused     int                    `json:"paused"`
	Outcomes   []crawler.CrawlOutcome `json:"outcomes"`
}

// Orchestrator runs due sources on a bounded pool.
type Orchestrator struct {
	sources  crawler.SourceStore
	outcomes crawler.OutcomeLog
	locks    crawler.LockManager
	runner   Runner
	clock    crawler.Clock
	cfg      Config
	logger   *zap.Logger
	rnd      func() float64

	cronMu sync.Mutex
	cron   *cron.Cron
}

// New constructs an Orchestrator.
func New(
	sources crawler.SourceStore,
	outcomes crawler.OutcomeLog,
	locks crawler.LockManager,
	runner Runner,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 1
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = 200
	}
	if cfg.CrawlBudget <= 0 {
		cfg.CrawlBudget = 10 * time.Minute
	}
	if cfg.LockTTL < cfg.CrawlBudget {
		cfg.LockTTL = 2 * cfg.CrawlBudget
	}
	if cfg.Tick == "" {
		cfg.Tick = "@every 5m"
	}
	return &Orchestrator{
		sources:  sources,
		outcomes: outcomes,
		locks:    locks,
		runner:   runner,
		clock:    clock,
		cfg:      cfg,
		logger:   logger.Named("scheduler"),
		rnd:      rand.Float64,
	}
}

// Start registers the periodic tick and starts the cron loop. A tick that
// is still running when the next one fires is skipped.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron != nil {
		return errors.New("scheduler already started")
	}
	cl := cronLogger{l: o.logger.Sugar()}
	c := cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))
	if _, err := c.AddFunc(o.cfg.Tick, func() {
		if _, err := o.RunDue(ctx); err != nil {
			o.logger.Error("tick failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("cron add %q: %w", o.cfg.Tick, err)
	}
	c.Start()
	o.cron = c
	o.logger.Info("scheduler started", zap.String("tick", o.cfg.Tick), zap.Int("pool_size", o.cfg.PoolSize))
	return nil
}

// Stop halts the tick and returns a context that is done once any running
// tick finishes.
func (o *Orchestrator) Stop() context.Context {
	o.cronMu.Lock()
	defer o.cronMu.Unlock()
	if o.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	done := o.cron.Stop()
	o.cron = nil
	o.logger.Info("scheduler stopped")
	return done
}

// RunDue crawls every due source once, at most PoolSize at a time.
func (o *Orchestrator) RunDue(ctx context.Context) (TickReport, error) {
	now := o.now()
	due, err := o.sources.ListDue(ctx, now, o.cfg.BatchLimit)
	if err != nil {
		return TickReport{}, fmt.Errorf("list due sources: %w", err)
	}
	report := TickReport{Due: len(due), Outcomes: []crawler.CrawlOutcome{}}
	if len(due) == 0 {
		o.logger.Debug("nothing due")
		return report, nil
	}
	o.logger.Info("tick started", zap.Int("due", len(due)))

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(o.cfg.PoolSize)
	for _, src := range due {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			res, err := o.crawl(ctx, src)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, crawler.ErrLockHeld):
				report.Locked++
			case err != nil:
				o.logger.Error("crawl not recorded", zap.String("source_id", src.ID), zap.Error(err))
				report.Failed++
			default:
				report.add(res)
			}
			return nil
		})
	}
	_ = g.Wait()

	o.logger.Info("tick finished",
		zap.Int("due", report.Due),
		zap.Int("dispatched", report.Dispatched),
		zap.Int("locked", report.Locked),
		zap.Int("failed", report.Failed),
		zap.Int("paused", report.Paused),
	)
	return report, ctx.Err()
}

// RunSource crawls one source immediately, regardless of next_run_at.
// It returns crawler.ErrLockHeld if the source is already being crawled.
func (o *Orchestrator) RunSource(ctx context.Context, id string) (crawler.CrawlOutcome, error) {
	src, err := o.sources.GetSource(ctx, id)
	if err != nil {
		return crawler.CrawlOutcome{}, fmt.Errorf("get source %s: %w", id, err)
	}
	if src.Status == crawler.SourceDeleted {
		return crawler.CrawlOutcome{}, fmt.Errorf("source %s: %w", id, crawler.ErrNotFound)
	}
	res, err := o.crawl(ctx, src)
	if err != nil {
		return crawler.CrawlOutcome{}, err
	}
	return res.outcome, nil
}

type crawlResult struct {
	outcome crawler.CrawlOutcome
	paused  bool
}

func (r *TickReport) add(res crawlResult) {
	r.Dispatched++
	r.Outcomes = append(r.Outcomes, res.outcome)
	switch res.outcome.Status {
	case crawler.OutcomeSuccess:
		r.Succeeded++
	case crawler.OutcomeNoChange:
		r.NoChange++
	default:
		r.Failed++
	}
	if res.paused {
		r.Paused++
	}
}

// crawl holds the source lease for the duration of one run under the crawl
// budget, then records the outcome and the new schedule.
func (o *Orchestrator) crawl(ctx context.Context, src crawler.SourceConfig) (crawlResult, error) {
	log := o.logger.With(zap.String("source_id", src.ID))
	lease, err := o.locks.TryAcquire(ctx, lockKey(src.ID), o.cfg.LockTTL)
	if err != nil {
		if errors.Is(err, crawler.ErrLockHeld) {
			metrics.ObserveLockSkip()
			log.Debug("source locked, skipping")
		}
		return crawlResult{}, err
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
		defer cancel()
		if err := lease.Release(releaseCtx); err != nil {
			log.Warn("release lease", zap.Error(err))
		}
	}()

	metrics.IncActiveWorkers()
	crawlCtx, cancel := context.WithTimeout(ctx, o.cfg.CrawlBudget)
	outcome := o.runner.Run(crawlCtx, src)
	cancel()
	metrics.DecActiveWorkers()

	return o.record(ctx, src, outcome)
}

// record appends the outcome and applies the planned schedule. It runs
// detached from cancellation so a shutdown does not lose the result.
func (o *Orchestrator) record(ctx context.Context, src crawler.SourceConfig, outcome crawler.CrawlOutcome) (crawlResult, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := o.outcomes.AppendOutcome(ctx, outcome); err != nil {
		return crawlResult{outcome: outcome}, fmt.Errorf("append outcome: %w", err)
	}
	decision := Plan(src, outcome, o.now(), o.cfg.Params, o.rnd)
	if err := o.sources.UpdateSchedule(ctx, src.ID, decision.Update); err != nil {
		return crawlResult{outcome: outcome}, fmt.Errorf("update schedule: %w", err)
	}
	if decision.Paused {
		metrics.ObserveSourcePaused()
		o.logger.Warn("source paused by circuit breaker",
			zap.String("source_id", src.ID),
			zap.Int("consecutive_failures", decision.Update.ConsecutiveFailures),
			zap.String("last_message", outcome.Message),
		)
	}
	return crawlResult{outcome: outcome, paused: decision.Paused}, nil
}

func (o *Orchestrator) now() time.Time {
	if o.clock != nil {
		return o.clock.Now()
	}
	return time.Now().UTC()
}

func lockKey(sourceID string) string {
	return "source:" + sourceID
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	l *zap.SugaredLogger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debugw(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Errorw(msg, append(keysAndValues, "error", err)...)
}
