package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/config"
	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/secrets"
	"github.com/JakeFAU/jobcrawler/internal/sources"
	"github.com/JakeFAU/jobcrawler/internal/storage/memory"
)

const feedBody = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Careers</title>
    <item>
      <title>Field Coordinator</title>
      <link>https://careers.example.org/jobs/1</link>
      <guid>job-1</guid>
      <description>Coordinate field programs.</description>
    </item>
    <item>
      <title>Data Analyst</title>
      <link>https://careers.example.org/jobs/2</link>
      <guid>job-2</guid>
    </item>
  </channel>
</rss>`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Politeness.RespectRobots = false
	cfg.Politeness.MinIntervalMs = 1
	cfg.Logging.Development = false
	return cfg
}

func memoryStores() Stores {
	return Stores{
		Sources:  memory.NewSourceStore(),
		Outcomes: memory.NewOutcomeLog(),
		Policies: memory.NewPolicyStore(),
		Jobs:     memory.NewJobSink(),
	}
}

func TestBuildWithInMemoryBackends(t *testing.T) {
	cfg := testConfig(t)

	a, err := Build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.Close)

	assert.IsType(t, &memory.SourceStore{}, a.Stores().Sources)
	assert.IsType(t, &memory.JobSink{}, a.Stores().Jobs)
	require.NotNil(t, a.Sources())

	rec := httptest.NewRecorder()
	a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{
			name:    "bad redis url",
			mutate:  func(c *config.Config) { c.Redis.URL = "://bad" },
			wantErr: "redis init failed",
		},
		{
			name:    "missing secrets file",
			mutate:  func(c *config.Config) { c.Secrets.File = filepath.Join(t.TempDir(), "missing.yaml") },
			wantErr: "secrets file init failed",
		},
		{
			name:    "bad log level",
			mutate:  func(c *config.Config) { c.Logging.Level = "loud" },
			wantErr: "logger init failed",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := testConfig(t)
			tc.mutate(&cfg)
			_, err := Build(context.Background(), cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestScheduleParamsAndDefaultPolicy(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	a := New(cfg, zap.NewNop(), memoryStores(), nil, secrets.Static{})

	params := a.ScheduleParams()
	assert.Equal(t, cfg.BaseBackoff(), params.BaseBackoff)
	assert.Equal(t, cfg.Scheduler.FailureThreshold, params.FailureThreshold)
	assert.InDelta(t, cfg.Scheduler.MaxFrequencyDays, params.MaxFrequencyDays, 0)

	policy := a.DefaultPolicy()
	assert.Equal(t, cfg.Politeness.MaxConcurrency, policy.MaxConcurrency)
	assert.Equal(t, cfg.HTTP.MaxBodyKB, policy.MaxKBPerPage)
}

func TestEndToEndFeedCrawl(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(feedBody))
	}))
	t.Cleanup(srv.Close)

	ctx := context.Background()
	stores := memoryStores()
	a := New(testConfig(t), zap.NewNop(), stores, nil, secrets.Static{})

	src, err := a.Sources().Create(ctx, sources.Input{
		URL:     srv.URL + "/feed.xml",
		Kind:    crawler.KindFeed,
		OrgName: "Example Relief",
	})
	require.NoError(t, err)

	report, err := a.RunDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Dispatched)
	require.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Outcomes, 1)
	assert.Equal(t, 2, report.Outcomes[0].Inserted)

	jobs, ok := stores.Jobs.(*memory.JobSink)
	require.True(t, ok)
	assert.Equal(t, 2, jobs.Len())

	stored, err := a.LoadSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeSuccess, stored.LastStatus)
	require.NotNil(t, stored.NextRunAt)

	report, err = a.RunDue(ctx)
	require.NoError(t, err)
	assert.Zero(t, report.Due, "source is not due again until its next run")

	outcome, err := a.RunSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, crawler.OutcomeNoChange, outcome.Status)
	assert.Equal(t, 2, outcome.Skipped)

	sim, err := a.SimulateSource(ctx, src.ID, 1)
	require.NoError(t, err)
	assert.Len(t, sim.Jobs, 1)
	assert.Equal(t, 2, jobs.Len(), "simulate never writes")

	tested, err := a.TestSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, tested.Status)
	assert.Equal(t, 2, tested.Count)

	require.NoError(t, a.Sources().Delete(ctx, src.ID))
	_, err = a.TestSource(ctx, src.ID)
	require.ErrorIs(t, err, crawler.ErrNotFound)
}
