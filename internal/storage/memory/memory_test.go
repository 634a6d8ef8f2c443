package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

func ptr(t time.Time) *time.Time { return &t }

func TestSourceStoreLifecycle(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSourceStore()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

	src := crawler.SourceConfig{ID: "s1", URL: "https://a.example/jobs", Status: crawler.SourceActive, NextRunAt: ptr(now)}
	if err := store.CreateSource(ctx, src); err != nil {
		t.Fatalf("CreateSource() error = %v", err)
	}
	dup := crawler.SourceConfig{ID: "s2", URL: src.URL}
	if err := store.CreateSource(ctx, dup); !errors.Is(err, crawler.ErrDuplicateSource) {
		t.Fatalf("expected duplicate url error, got %v", err)
	}

	got, err := store.GetSource(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	*got.NextRunAt = now.Add(time.Hour)
	again, _ := store.GetSource(ctx, "s1")
	if !again.NextRunAt.Equal(now) {
		t.Fatal("expected GetSource to return a copy")
	}

	if _, err := store.GetSource(ctx, "missing"); !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	next := now.Add(48 * time.Hour)
	update := crawler.ScheduleUpdate{
		Status:              crawler.SourceActive,
		CrawlFrequencyDays:  2,
		NextRunAt:           &next,
		LastCrawledAt:       now,
		LastStatus:          crawler.OutcomeError,
		LastMessage:         "boom",
		ConsecutiveFailures: 2,
		ConsecutiveNoChange: 0,
	}
	if err := store.UpdateSchedule(ctx, "s1", update); err != nil {
		t.Fatalf("UpdateSchedule() error = %v", err)
	}
	updated, _ := store.GetSource(ctx, "s1")
	if updated.ConsecutiveFailures != 2 || updated.LastStatus != crawler.OutcomeError || !updated.NextRunAt.Equal(next) {
		t.Fatalf("unexpected schedule state: %+v", updated)
	}
	if updated.LastCrawledAt == nil || !updated.LastCrawledAt.Equal(now) {
		t.Fatalf("expected last crawled at %v, got %v", now, updated.LastCrawledAt)
	}

	if err := store.SetStatus(ctx, "s1", crawler.SourceActive, &now); err != nil {
		t.Fatalf("SetStatus() error = %v", err)
	}
	reactivated, _ := store.GetSource(ctx, "s1")
	if reactivated.ConsecutiveFailures != 0 || !reactivated.NextRunAt.Equal(now) {
		t.Fatalf("expected counters reset on activation, got %+v", reactivated)
	}

	if err := store.UpdateSchedule(ctx, "missing", update); !errors.Is(err, crawler.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSourceStoreDeletedStaysDeleted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSourceStore()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	if err := store.CreateSource(ctx, crawler.SourceConfig{ID: "s1", URL: "https://a.example", Status: crawler.SourceActive}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, "s1", crawler.SourceDeleted, nil); err != nil {
		t.Fatal(err)
	}
	next := now.Add(time.Hour)
	err := store.UpdateSchedule(ctx, "s1", crawler.ScheduleUpdate{Status: crawler.SourceActive, NextRunAt: &next, LastCrawledAt: now})
	if err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetSource(ctx, "s1")
	if got.Status != crawler.SourceDeleted || got.NextRunAt != nil {
		t.Fatalf("expected deleted source to stay deleted, got %+v", got)
	}
}

func TestSourceStorePausedMidCrawlStaysPaused(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSourceStore()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	if err := store.CreateSource(ctx, crawler.SourceConfig{ID: "s1", URL: "https://a.example", Status: crawler.SourceActive}); err != nil {
		t.Fatal(err)
	}
	if err := store.SetStatus(ctx, "s1", crawler.SourcePaused, nil); err != nil {
		t.Fatal(err)
	}
	next := now.Add(time.Hour)
	update := crawler.ScheduleUpdate{
		Status:        crawler.SourceActive,
		NextRunAt:     &next,
		LastCrawledAt: now,
		LastStatus:    crawler.OutcomeSuccess,
	}
	if err := store.UpdateSchedule(ctx, "s1", update); err != nil {
		t.Fatal(err)
	}
	got, _ := store.GetSource(ctx, "s1")
	if got.Status != crawler.SourcePaused || got.NextRunAt != nil {
		t.Fatalf("expected paused source to stay paused, got %+v", got)
	}
	if got.LastStatus != crawler.OutcomeSuccess || got.LastCrawledAt == nil {
		t.Fatalf("expected crawl result recorded, got %+v", got)
	}

	due, err := store.ListDue(ctx, now.Add(24*time.Hour), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(due) != 0 {
		t.Fatalf("expected paused source not due, got %d", len(due))
	}
}

func TestSourceStoreListDue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewSourceStore()
	now := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	sources := []crawler.SourceConfig{
		{ID: "later", URL: "https://a.example/1", Status: crawler.SourceActive, NextRunAt: ptr(now.Add(-time.Minute))},
		{ID: "earlier", URL: "https://a.example/2", Status: crawler.SourceActive, NextRunAt: ptr(now.Add(-time.Hour))},
		{ID: "never", URL: "https://a.example/3", Status: crawler.SourceActive},
		{ID: "future", URL: "https://a.example/4", Status: crawler.SourceActive, NextRunAt: ptr(now.Add(time.Minute))},
		{ID: "paused", URL: "https://a.example/5", Status: crawler.SourcePaused},
		{ID: "deleted", URL: "https://a.example/6", Status: crawler.SourceDeleted},
		{ID: "exact", URL: "https://a.example/7", Status: crawler.SourceActive, NextRunAt: ptr(now)},
	}
	for _, src := range sources {
		if err := store.CreateSource(ctx, src); err != nil {
			t.Fatalf("CreateSource(%s) error = %v", src.ID, err)
		}
	}

	due, err := store.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDue() error = %v", err)
	}
	var ids []string
	for _, src := range due {
		ids = append(ids, src.ID)
	}
	want := []string{"never", "earlier", "later", "exact"}
	if len(ids) != len(want) {
		t.Fatalf("ListDue() = %v, want %v", ids, want)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ListDue() = %v, want %v", ids, want)
		}
	}

	limited, _ := store.ListDue(ctx, now, 2)
	if len(limited) != 2 {
		t.Fatalf("expected limit to apply, got %d", len(limited))
	}
}

func TestOutcomeLogNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	log := NewOutcomeLog()
	for i, id := range []string{"o1", "o2", "o3"} {
		outcome := crawler.CrawlOutcome{ID: id, SourceID: "s1", Found: i}
		if err := log.AppendOutcome(ctx, outcome); err != nil {
			t.Fatal(err)
		}
	}
	_ = log.AppendOutcome(ctx, crawler.CrawlOutcome{ID: "other", SourceID: "s2"})

	got, err := log.ListOutcomes(ctx, "s1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != "o3" || got[1].ID != "o2" {
		t.Fatalf("unexpected outcomes %+v", got)
	}
	all, _ := log.ListOutcomes(ctx, "s1", 0)
	if len(all) != 3 {
		t.Fatalf("expected 3 outcomes, got %d", len(all))
	}
}

func TestPolicyStoreCaseInsensitive(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewPolicyStore(crawler.DomainPolicy{Host: "Jobs.Example", MaxConcurrency: 3})
	p, ok, err := store.PolicyFor(ctx, "jobs.example")
	if err != nil || !ok || p.MaxConcurrency != 3 {
		t.Fatalf("PolicyFor() = %+v, %v, %v", p, ok, err)
	}
	if _, ok, _ := store.PolicyFor(ctx, "other.example"); ok {
		t.Fatal("expected no policy for unknown host")
	}
	if err := store.PutPolicy(ctx, crawler.DomainPolicy{Host: "OTHER.example", MaxPages: 2}); err != nil {
		t.Fatal(err)
	}
	if p, ok, _ := store.PolicyFor(ctx, "other.example"); !ok || p.MaxPages != 2 {
		t.Fatalf("expected stored policy, got %+v", p)
	}
}

func TestJobSinkUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sink := NewJobSink()
	job := crawler.NormalizedJob{Fingerprint: "fp", ContentHash: "h1", Title: "Engineer"}

	steps := []struct {
		hash string
		want crawler.UpsertResult
	}{
		{"h1", crawler.UpsertInserted},
		{"h1", crawler.UpsertSkipped},
		{"h2", crawler.UpsertUpdated},
		{"h2", crawler.UpsertSkipped},
	}
	for i, step := range steps {
		job.ContentHash = step.hash
		got, err := sink.Upsert(ctx, job)
		if err != nil {
			t.Fatalf("step %d: Upsert() error = %v", i, err)
		}
		if got != step.want {
			t.Fatalf("step %d: Upsert() = %s, want %s", i, got, step.want)
		}
	}
	if sink.Len() != 1 {
		t.Fatalf("expected one stored job, got %d", sink.Len())
	}
	stored, ok := sink.Get("fp")
	if !ok || stored.ContentHash != "h2" {
		t.Fatalf("expected latest content stored, got %+v", stored)
	}
}
