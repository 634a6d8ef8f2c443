package crawler

import (
	"context"
	"time"
)

// SourceStore persists source configurations and their scheduling state.
type SourceStore interface {
	CreateSource(ctx context.Context, src SourceConfig) error
	GetSource(ctx context.Context, id string) (SourceConfig, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]SourceConfig, error)
	UpdateSchedule(ctx context.Context, id string, update ScheduleUpdate) error
	SetStatus(ctx context.Context, id string, status SourceStatus, nextRunAt *time.Time) error
}

// OutcomeLog is the append-only crawl history.
type OutcomeLog interface {
	AppendOutcome(ctx context.Context, outcome CrawlOutcome) error
	ListOutcomes(ctx context.Context, sourceID string, limit int) ([]CrawlOutcome, error)
}

// PolicyStore resolves per-host politeness overrides.
type PolicyStore interface {
	// PolicyFor returns the stored policy for host and whether one exists.
	PolicyFor(ctx context.Context, host string) (DomainPolicy, bool, error)
}

// JobSink accepts normalized records keyed by fingerprint.
type JobSink interface {
	Upsert(ctx context.Context, job NormalizedJob) (UpsertResult, error)
}

// LockManager hands out expiring per-key leases.
type LockManager interface {
	// TryAcquire never blocks; it returns ErrLockHeld when another holder
	// owns an unexpired lease on key.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}

// SecretLookup resolves named secrets referenced from extraction schemas.
type SecretLookup interface {
	// Lookup returns the secret value and whether it exists.
	Lookup(ctx context.Context, name string) (string, bool, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces outcome and source IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
