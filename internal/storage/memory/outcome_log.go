package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// OutcomeLog is an append-only in-memory crawl history.
type OutcomeLog struct {
	mu       sync.RWMutex
	outcomes map[string][]crawler.CrawlOutcome
}

// NewOutcomeLog constructs an OutcomeLog.
func NewOutcomeLog() *OutcomeLog {
	return &OutcomeLog{outcomes: make(map[string][]crawler.CrawlOutcome)}
}

// AppendOutcome records one crawl attempt.
func (l *OutcomeLog) AppendOutcome(_ context.Context, outcome crawler.CrawlOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[outcome.SourceID] = append(l.outcomes[outcome.SourceID], outcome)
	return nil
}

// ListOutcomes returns the newest outcomes for a source first.
func (l *OutcomeLog) ListOutcomes(_ context.Context, sourceID string, limit int) ([]crawler.CrawlOutcome, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	history := l.outcomes[sourceID]
	n := len(history)
	if limit > 0 && n > limit {
		n = limit
	}
	out := make([]crawler.CrawlOutcome, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, history[i])
	}
	return out, nil
}
