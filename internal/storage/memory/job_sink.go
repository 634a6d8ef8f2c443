package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// JobSink is an in-memory dedup/upsert sink keyed by fingerprint.
type JobSink struct {
	mu   sync.RWMutex
	jobs map[string]crawler.NormalizedJob
}

// NewJobSink constructs a JobSink.
func NewJobSink() *JobSink {
	return &JobSink{jobs: make(map[string]crawler.NormalizedJob)}
}

// Upsert inserts a new fingerprint, replaces a changed one, and skips an
// identical resubmission.
func (s *JobSink) Upsert(_ context.Context, job crawler.NormalizedJob) (crawler.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.jobs[job.Fingerprint]
	switch {
	case !ok:
		s.jobs[job.Fingerprint] = job
		return crawler.UpsertInserted, nil
	case existing.ContentHash == job.ContentHash:
		return crawler.UpsertSkipped, nil
	default:
		s.jobs[job.Fingerprint] = job
		return crawler.UpsertUpdated, nil
	}
}

// Len reports how many distinct fingerprints are stored.
func (s *JobSink) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

// Get returns the stored job for fingerprint.
func (s *JobSink) Get(fingerprint string) (crawler.NormalizedJob, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[fingerprint]
	return job, ok
}
