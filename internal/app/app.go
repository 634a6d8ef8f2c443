// Package app builds and holds the long-lived services behind every command:
// storage, leases, the fetch pipeline, the orchestrator and the admin API.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/api"
	"github.com/JakeFAU/jobcrawler/internal/clock/system"
	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/executor"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/fetcher"
	"github.com/JakeFAU/jobcrawler/internal/id/uuid"
	"github.com/JakeFAU/jobcrawler/internal/lock"
	"github.com/JakeFAU/jobcrawler/internal/logging"
	"github.com/JakeFAU/jobcrawler/internal/metrics"
	"github.com/JakeFAU/jobcrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/jobcrawler/internal/policy/robots"
	"github.com/JakeFAU/jobcrawler/internal/scheduler"
	"github.com/JakeFAU/jobcrawler/internal/secrets"
	"github.com/JakeFAU/jobcrawler/internal/sources"
	"github.com/JakeFAU/jobcrawler/internal/storage/memory"
	"github.com/JakeFAU/jobcrawler/internal/storage/postgres"
	"github.com/JakeFAU/jobcrawler/internal/transport"
)

// requestMargin is added to the crawl budget for API request timeouts so a
// manual trigger can report its outcome.
const requestMargin = 30 * time.Second

// PolicyStore reads and writes per-host politeness overrides.
type PolicyStore interface {
	crawler.PolicyStore
	PutPolicy(ctx context.Context, p crawler.DomainPolicy) error
}

// Stores groups the persistence collaborators.
type Stores struct {
	Sources  crawler.SourceStore
	Outcomes crawler.OutcomeLog
	Policies PolicyStore
	Jobs     crawler.JobSink
}

// App contains the application's dependencies.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	stores    Stores
	pg        *postgres.Store
	redis     *redis.Client
	locks     crawler.LockManager
	executor  *executor.Executor
	scheduler *scheduler.Orchestrator
	admin     *sources.Service
	apiServer *api.Server
}

// Build creates the application's dependencies from cfg.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	metrics.Init()

	a := &App{cfg: cfg, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("tick", cfg.Scheduler.Tick),
		zap.Int("pool_size", cfg.Scheduler.PoolSize),
	)

	if err := a.setupStorage(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	if err := a.setupLocks(ctx); err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	lookup, err := a.setupSecrets()
	if err != nil {
		a.closeInfrastructure()
		return nil, err
	}
	a.wire(lookup)
	return a, nil
}

// New assembles an App from already constructed collaborators. Nil locks
// fall back to in-process leases.
func New(cfg config.Config, logger *zap.Logger, stores Stores, locks crawler.LockManager, lookup crawler.SecretLookup) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locks == nil {
		locks = lock.NewMemory()
	}
	a := &App{cfg: cfg, logger: logger, stores: stores, locks: locks}
	a.wire(lookup)
	return a
}

func (a *App) setupStorage(ctx context.Context) error {
	if a.cfg.DB.DSN == "" {
		a.logger.Warn("no database DSN configured, using in-memory storage")
		a.stores = Stores{
			Sources:  memory.NewSourceStore(),
			Outcomes: memory.NewOutcomeLog(),
			Policies: memory.NewPolicyStore(),
			Jobs:     memory.NewJobSink(),
		}
		return nil
	}
	store, err := postgres.New(ctx, postgres.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: int32(a.cfg.DB.MaxOpenConns),
		MinConns: int32(a.cfg.DB.MaxIdleConns),
	})
	if err != nil {
		return fmt.Errorf("postgres init failed: %w", err)
	}
	a.pg = store
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("postgres migrate failed: %w", err)
	}
	a.stores = Stores{Sources: store, Outcomes: store, Policies: store, Jobs: store}
	a.logger.Info("postgres storage initialized")
	return nil
}

func (a *App) setupLocks(ctx context.Context) error {
	if a.cfg.Redis.URL == "" {
		a.logger.Warn("no redis URL configured, crawl locks are process-local")
		a.locks = lock.NewMemory()
		return nil
	}
	client, err := lock.NewRedisClient(ctx, a.cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis init failed: %w", err)
	}
	a.redis = client
	a.locks = lock.NewRedis(client, a.cfg.Redis.LockPrefix, uuid.New())
	a.logger.Info("redis crawl locks initialized", zap.String("prefix", a.cfg.Redis.LockPrefix))
	return nil
}

func (a *App) setupSecrets() (crawler.SecretLookup, error) {
	var chain secrets.Chain
	if a.cfg.Secrets.File != "" {
		file, err := secrets.LoadFile(a.cfg.Secrets.File)
		if err != nil {
			return nil, fmt.Errorf("secrets file init failed: %w", err)
		}
		chain = append(chain, file)
		a.logger.Info("secrets file loaded", zap.Int("count", len(file)))
	}
	chain = append(chain, secrets.NewEnv(a.cfg.Secrets.EnvPrefix))
	return chain, nil
}

// wire builds the fetch pipeline, orchestrator, admin service and API on
// top of the stores and locks already set on a.
func (a *App) wire(lookup crawler.SecretLookup) {
	cfg := a.cfg
	clock := system.New()
	ids := uuid.New()

	limiter := ratelimit.New(ratelimit.Policy{
		MaxConcurrency: cfg.Politeness.MaxConcurrency,
		MinInterval:    time.Duration(cfg.Politeness.MinIntervalMs) * time.Millisecond,
	})
	resolver := robots.New(robots.Options{
		UserAgent: cfg.HTTP.UserAgent,
		Respect:   cfg.Politeness.RespectRobots,
		TTL:       cfg.RobotsTTL(),
		Client:    &http.Client{Timeout: cfg.HTTPTimeout()},
	}, a.logger)
	client := transport.New(transport.Options{
		UserAgent:     cfg.HTTP.UserAgent,
		Contact:       cfg.HTTP.Contact,
		Timeout:       cfg.HTTPTimeout(),
		MaxBytes:      int64(cfg.HTTP.MaxBodyKB) * 1024,
		MaxAttempts:   cfg.HTTP.MaxAttempts,
		BaseDelay:     time.Duration(cfg.HTTP.BackoffInitialMs) * time.Millisecond,
		MaxDelay:      time.Duration(cfg.HTTP.BackoffMaxMs) * time.Millisecond,
		MaxRetryAfter: time.Duration(cfg.Politeness.MaxRetryAfterMs) * time.Millisecond,
	}, limiter, resolver, a.logger)

	engine := extract.NewEngine(client, lookup, extract.Options{
		SinceFallbackDays: cfg.Extract.SinceFallbackDays,
	}, a.logger)
	registry := fetcher.NewRegistry(
		fetcher.NewHTML(client, a.logger),
		fetcher.NewFeed(client, time.Duration(cfg.Extract.FeedMaxAgeDays)*24*time.Hour, a.logger),
		fetcher.NewAPI(engine),
	)

	a.executor = executor.New(executor.Deps{
		Fetchers:   registry,
		Sink:       a.stores.Jobs,
		Policies:   a.stores.Policies,
		Limiter:    limiter,
		Politeness: resolver,
		Validators: client,
		Clock:      clock,
		IDs:        ids,
	}, executor.Config{
		DefaultPolicy:  a.DefaultPolicy(),
		MessageMaxLen:  cfg.Extract.MessageMaxLen,
		SimulateLimit:  cfg.Extract.SimulateLimit,
		TestSampleSize: cfg.Extract.TestSampleSize,
	}, a.logger)

	params := a.ScheduleParams()
	a.scheduler = scheduler.New(a.stores.Sources, a.stores.Outcomes, a.locks, a.executor, clock, scheduler.Config{
		Tick:        cfg.Scheduler.Tick,
		PoolSize:    cfg.Scheduler.PoolSize,
		BatchLimit:  cfg.Scheduler.BatchLimit,
		CrawlBudget: cfg.CrawlBudget(),
		LockTTL:     cfg.LockTTL(),
		Params:      params,
	}, a.logger)

	a.admin = sources.NewService(a.stores.Sources, clock, ids, sources.Frequency{
		ByCategory:  cfg.Scheduler.CategoryFrequency,
		DefaultDays: cfg.Scheduler.DefaultFrequency,
		Params:      params,
	}, a.logger)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	a.apiServer = api.NewServer(api.Deps{
		Scheduler: a.scheduler,
		Prober:    a.executor,
		Admin:     a.admin,
		Sources:   a.stores.Sources,
		Outcomes:  a.stores.Outcomes,
		Policies:  a.stores.Policies,
	}, api.Options{
		APIKey:         apiKey,
		RequestTimeout: cfg.CrawlBudget() + requestMargin,
	}, a.logger)
}

// DefaultPolicy is the politeness policy for hosts without an override.
func (a *App) DefaultPolicy() crawler.DomainPolicy {
	return crawler.DomainPolicy{
		MaxConcurrency:       a.cfg.Politeness.MaxConcurrency,
		MinRequestIntervalMs: a.cfg.Politeness.MinIntervalMs,
		MaxPages:             a.cfg.Politeness.MaxPages,
		MaxKBPerPage:         a.cfg.HTTP.MaxBodyKB,
	}
}

// ScheduleParams converts the scheduler section into planning parameters.
func (a *App) ScheduleParams() scheduler.Params {
	s := a.cfg.Scheduler
	return scheduler.Params{
		BaseBackoff:       a.cfg.BaseBackoff(),
		MaxBackoff:        a.cfg.MaxBackoff(),
		FailureThreshold:  s.FailureThreshold,
		NoChangeThreshold: s.NoChangeThreshold,
		BusyThreshold:     s.BusyThreshold,
		Jitter:            s.Jitter,
		MinFrequencyDays:  s.MinFrequencyDays,
		MaxFrequencyDays:  s.MaxFrequencyDays,
	}
}

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Sources returns the source admin service.
func (a *App) Sources() *sources.Service { return a.admin }

// Stores returns the persistence collaborators.
func (a *App) Stores() Stores { return a.stores }

// Handler returns the admin API handler.
func (a *App) Handler() http.Handler { return a.apiServer.Handler() }

// LoadSource returns a crawlable source, treating deleted sources as missing.
func (a *App) LoadSource(ctx context.Context, id string) (crawler.SourceConfig, error) {
	src, err := a.stores.Sources.GetSource(ctx, id)
	if err != nil {
		return crawler.SourceConfig{}, err
	}
	if src.Status == crawler.SourceDeleted {
		return crawler.SourceConfig{}, fmt.Errorf("source %s: %w", id, crawler.ErrNotFound)
	}
	return src, nil
}

// RunDue crawls every due source once.
func (a *App) RunDue(ctx context.Context) (scheduler.TickReport, error) {
	return a.scheduler.RunDue(ctx)
}

// RunSource crawls one source now, regardless of its schedule.
func (a *App) RunSource(ctx context.Context, id string) (crawler.CrawlOutcome, error) {
	return a.scheduler.RunSource(ctx, id)
}

// TestSource fetches one page of a source without writing anything.
func (a *App) TestSource(ctx context.Context, id string) (extract.TestReport, error) {
	src, err := a.LoadSource(ctx, id)
	if err != nil {
		return extract.TestReport{}, err
	}
	return a.executor.Test(ctx, src)
}

// SimulateSource fetches and normalizes up to n records of a source
// without writing anything.
func (a *App) SimulateSource(ctx context.Context, id string, n int) (executor.SimulateResult, error) {
	src, err := a.LoadSource(ctx, id)
	if err != nil {
		return executor.SimulateResult{}, err
	}
	return a.executor.Simulate(ctx, src, n)
}

// Run starts the orchestrator tick and the admin API, and blocks until ctx
// is canceled or the server fails.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler start failed: %w", err)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	select {
	case <-a.scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		a.logger.Warn("scheduler did not drain before shutdown deadline")
	}

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

// Close releases infrastructure clients and flushes the logger.
func (a *App) Close() {
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
}

func (a *App) closeInfrastructure() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("redis client close failed", zap.Error(err))
		}
		a.redis = nil
	}
	if a.pg != nil {
		a.pg.Close()
		a.pg = nil
	}
}
