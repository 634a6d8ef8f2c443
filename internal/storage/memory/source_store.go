// Package memory provides in-process storage adapters for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// SourceStore provides an in-memory SourceStore for development/testing.
type SourceStore struct {
	mu      sync.RWMutex
	sources map[string]crawler.SourceConfig
}

// NewSourceStore constructs a SourceStore.
func NewSourceStore() *SourceStore {
	return &SourceStore{sources: make(map[string]crawler.SourceConfig)}
}

// CreateSource stores a new source. URLs are unique.
func (s *SourceStore) CreateSource(_ context.Context, src crawler.SourceConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.sources[src.ID]; exists {
		return crawler.ErrDuplicateSource
	}
	for _, existing := range s.sources {
		if existing.URL == src.URL {
			return crawler.ErrDuplicateSource
		}
	}
	s.sources[src.ID] = cloneSource(src)
	return nil
}

// GetSource fetches a source by ID.
func (s *SourceStore) GetSource(_ context.Context, id string) (crawler.SourceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	src, ok := s.sources[id]
	if !ok {
		return crawler.SourceConfig{}, crawler.ErrNotFound
	}
	return cloneSource(src), nil
}

// ListDue returns active sources whose next run is unset or not after now,
// oldest first.
func (s *SourceStore) ListDue(_ context.Context, now time.Time, limit int) ([]crawler.SourceConfig, error) {
	s.mu.RLock()
	var due []crawler.SourceConfig
	for _, src := range s.sources {
		if src.Due(now) {
			due = append(due, cloneSource(src))
		}
	}
	s.mu.RUnlock()

	sort.Slice(due, func(i, j int) bool {
		a, b := due[i].NextRunAt, due[j].NextRunAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && b != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return due[i].ID < due[j].ID
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// UpdateSchedule applies the orchestrator's post-crawl update. A source
// deleted while it was being crawled stays deleted, and one paused mid-crawl
// stays paused.
func (s *SourceStore) UpdateSchedule(_ context.Context, id string, update crawler.ScheduleUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if keepsStatus(src.Status, update.Status) {
		update.Status = src.Status
		update.NextRunAt = nil
	}
	s.sources[id] = cloneSource(update.Apply(src))
	return nil
}

// keepsStatus reports whether an admin status set during a crawl must win
// over the orchestrator's update.
func keepsStatus(stored, next crawler.SourceStatus) bool {
	return stored == crawler.SourceDeleted || (stored == crawler.SourcePaused && next == crawler.SourceActive)
}

// SetStatus changes the lifecycle status. Re-activation clears both streaks.
func (s *SourceStore) SetStatus(
	_ context.Context,
	id string,
	status crawler.SourceStatus,
	nextRunAt *time.Time,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return crawler.ErrNotFound
	}
	if status == crawler.SourceActive {
		src.ConsecutiveFailures = 0
		src.ConsecutiveNoChange = 0
	}
	src.Status = status
	src.NextRunAt = pointerTime(nextRunAt)
	s.sources[id] = src
	return nil
}

func cloneSource(src crawler.SourceConfig) crawler.SourceConfig {
	src.NextRunAt = pointerTime(src.NextRunAt)
	src.LastCrawledAt = pointerTime(src.LastCrawledAt)
	return src
}

func pointerTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	ts := *t
	return &ts
}
