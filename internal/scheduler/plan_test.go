package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

var planNow = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

// midpoint makes jitter a no-op.
func midpoint() float64 { return 0.5 }

func activeSource(freq float64) crawler.SourceConfig {
	return crawler.SourceConfig{ID: "s1", Status: crawler.SourceActive, CrawlFrequencyDays: freq}
}

func errorOutcome() crawler.CrawlOutcome {
	return crawler.CrawlOutcome{Status: crawler.OutcomeError, Message: "unexpected status 503"}
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	prev := time.Duration(0)
	for k := 1; k <= 8; k++ {
		d := Backoff(k, p)
		require.GreaterOrEqual(t, d, prev, "backoff must not shrink at k=%d", k)
		require.LessOrEqual(t, d, p.MaxBackoff)
		prev = d
	}
	require.Equal(t, p.BaseBackoff*2, Backoff(1, p))
	require.Equal(t, p.BaseBackoff*8, Backoff(3, p))
	require.Equal(t, p.MaxBackoff, Backoff(20, p))
	require.Equal(t, p.BaseBackoff, Backoff(-1, p))
}

func TestPlanErrorsBackOffThenPause(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	p.Jitter = 0
	src := activeSource(3)
	var last time.Duration
	for k := 1; k < p.FailureThreshold; k++ {
		d := Plan(src, errorOutcome(), planNow, p, nil)
		require.False(t, d.Paused)
		require.Equal(t, k, d.Update.ConsecutiveFailures)
		require.Equal(t, crawler.SourceActive, d.Update.Status)
		require.Equal(t, Backoff(k, p), d.Interval)
		require.Greater(t, d.Interval, last)
		require.Equal(t, planNow.Add(d.Interval), *d.Update.NextRunAt)
		last = d.Interval
		src = d.Update.Apply(src)
	}

	d := Plan(src, errorOutcome(), planNow, p, nil)
	require.True(t, d.Paused)
	require.Equal(t, crawler.SourcePaused, d.Update.Status)
	require.Equal(t, p.FailureThreshold, d.Update.ConsecutiveFailures)
	require.Nil(t, d.Update.NextRunAt)
	require.Zero(t, d.Interval)
}

func TestPlanThreeErrorsWithinJitter(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	src := activeSource(3)
	src.ConsecutiveFailures = 2
	want := float64(p.BaseBackoff * 8)

	for _, r := range []float64{0, 0.25, 0.5, 0.75, 0.999} {
		d := Plan(src, errorOutcome(), planNow, p, func() float64 { return r })
		require.Equal(t, 3, d.Update.ConsecutiveFailures)
		require.Equal(t, crawler.SourceActive, d.Update.Status)
		require.InDelta(t, want, float64(d.Interval), want*p.Jitter+1)
	}
}

func TestPlanErrorIntervalCappedAfterJitter(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	src := activeSource(3)
	p.FailureThreshold = 50
	src.ConsecutiveFailures = 30

	d := Plan(src, errorOutcome(), planNow, p, func() float64 { return 0.999 })
	require.Equal(t, p.MaxBackoff, d.Interval)
}

func TestPlanErrorResetsNoChangeStreak(t *testing.T) {
	t.Parallel()

	src := activeSource(3)
	src.ConsecutiveNoChange = 2
	d := Plan(src, errorOutcome(), planNow, DefaultParams(), midpoint)
	require.Zero(t, d.Update.ConsecutiveNoChange)
}

func TestPlanConfigErrorLeavesCounters(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	src := activeSource(3)
	src.ConsecutiveFailures = 4
	src.ConsecutiveNoChange = 1
	outcome := crawler.CrawlOutcome{Status: crawler.OutcomeError, ConfigError: true, Message: "config: invalid schema"}

	d := Plan(src, outcome, planNow, p, midpoint)
	require.False(t, d.Paused)
	require.Equal(t, crawler.SourceActive, d.Update.Status)
	require.Equal(t, 4, d.Update.ConsecutiveFailures)
	require.Equal(t, 1, d.Update.ConsecutiveNoChange)
	require.Equal(t, p.BaseBackoff, d.Interval)
	require.Equal(t, crawler.OutcomeError, d.Update.LastStatus)
}

func TestPlanNoChangeStreakSlowsByOneDay(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	src := activeSource(3)
	noChange := crawler.CrawlOutcome{Status: crawler.OutcomeNoChange}

	d := Plan(src, noChange, planNow, p, midpoint)
	require.Equal(t, 1, d.Update.ConsecutiveNoChange)
	require.Equal(t, 3.0, d.Update.CrawlFrequencyDays)
	src = d.Update.Apply(src)

	d = Plan(src, noChange, planNow, p, midpoint)
	require.Equal(t, 2, d.Update.ConsecutiveNoChange)
	require.Equal(t, 3.0, d.Update.CrawlFrequencyDays)
	src = d.Update.Apply(src)

	d = Plan(src, noChange, planNow, p, midpoint)
	require.Equal(t, 4.0, d.Update.CrawlFrequencyDays)
	require.Equal(t, 3, d.Update.ConsecutiveNoChange)
	require.Equal(t, 4*day, d.Interval)
	src = d.Update.Apply(src)

	d = Plan(src, noChange, planNow, p, midpoint)
	require.Equal(t, 5.0, d.Update.CrawlFrequencyDays)
	require.Equal(t, 4, d.Update.ConsecutiveNoChange)
	require.Equal(t, 5*day, d.Interval)
	src = d.Update.Apply(src)

	d = Plan(src, crawler.CrawlOutcome{Status: crawler.OutcomeSuccess, Inserted: 1}, planNow, p, midpoint)
	require.Zero(t, d.Update.ConsecutiveNoChange)
	require.Equal(t, 5.0, d.Update.CrawlFrequencyDays)
}

func TestPlanNoChangeCeiling(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	src := activeSource(14)
	src.ConsecutiveNoChange = 2
	d := Plan(src, crawler.CrawlOutcome{Status: crawler.OutcomeNoChange}, planNow, p, midpoint)
	require.Equal(t, 14.0, d.Update.CrawlFrequencyDays)
}

func TestPlanBusySourceSpeedsUp(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	busy := crawler.CrawlOutcome{Status: crawler.OutcomeSuccess, Inserted: 7, Updated: 3}

	d := Plan(activeSource(3), busy, planNow, p, midpoint)
	require.Equal(t, 2.0, d.Update.CrawlFrequencyDays)
	require.Equal(t, 2*day, d.Interval)

	d = Plan(activeSource(1), busy, planNow, p, midpoint)
	require.Equal(t, 0.5, d.Update.CrawlFrequencyDays)

	quiet := crawler.CrawlOutcome{Status: crawler.OutcomeSuccess, Inserted: 9}
	d = Plan(activeSource(3), quiet, planNow, p, midpoint)
	require.Equal(t, 3.0, d.Update.CrawlFrequencyDays)
}

func TestPlanSuccessResetsStreaks(t *testing.T) {
	t.Parallel()

	src := activeSource(3)
	src.ConsecutiveFailures = 3
	src.ConsecutiveNoChange = 2
	d := Plan(src, crawler.CrawlOutcome{Status: crawler.OutcomeSuccess, Inserted: 1}, planNow, DefaultParams(), midpoint)
	require.Zero(t, d.Update.ConsecutiveFailures)
	require.Zero(t, d.Update.ConsecutiveNoChange)
	require.Equal(t, planNow, d.Update.LastCrawledAt)
}

func TestPlanPausedSourceStaysPaused(t *testing.T) {
	t.Parallel()

	src := activeSource(3)
	src.Status = crawler.SourcePaused
	src.ConsecutiveFailures = 5

	d := Plan(src, crawler.CrawlOutcome{Status: crawler.OutcomeSuccess, Inserted: 1}, planNow, DefaultParams(), midpoint)
	require.Equal(t, crawler.SourcePaused, d.Update.Status)
	require.Nil(t, d.Update.NextRunAt)
	require.False(t, d.Paused)

	d = Plan(src, errorOutcome(), planNow, DefaultParams(), midpoint)
	require.False(t, d.Paused, "already paused sources do not trip again")
	require.Nil(t, d.Update.NextRunAt)
}

func TestJitterBounds(t *testing.T) {
	t.Parallel()

	d := 10 * time.Hour
	require.Equal(t, d, jitter(d, 0, midpoint))
	require.Equal(t, d, jitter(d, 0.15, nil))
	require.Equal(t, time.Duration(float64(d)*0.85), jitter(d, 0.15, func() float64 { return 0 }))
	for _, r := range []float64{0, 0.1, 0.5, 0.9, 0.9999} {
		got := jitter(d, 0.15, func() float64 { return r })
		require.GreaterOrEqual(t, got, time.Duration(float64(d)*0.85))
		require.LessOrEqual(t, got, time.Duration(float64(d)*1.15))
	}
}

func TestInitialFrequency(t *testing.T) {
	t.Parallel()

	p := DefaultParams()
	byCategory := map[string]float64{"large": 1, "slow": 7, "tiny": 0.1, "broken": -1}

	require.Equal(t, 1.0, InitialFrequency("large", byCategory, 3, p))
	require.Equal(t, 7.0, InitialFrequency("slow", byCategory, 3, p))
	require.Equal(t, 0.5, InitialFrequency("tiny", byCategory, 3, p))
	require.Equal(t, 3.0, InitialFrequency("broken", byCategory, 3, p))
	require.Equal(t, 3.0, InitialFrequency("", byCategory, 3, p))
	require.Equal(t, 14.0, InitialFrequency("", nil, 30, p))
}
