package crawler

import (
	"net/url"
	"strings"
	"time"
)

// ProtocolKind enumerates the ways a source can be fetched.
type ProtocolKind string

const (
	// KindHTML is a static HTML listing page.
	KindHTML ProtocolKind = "html"
	// KindFeed is an RSS or Atom feed.
	KindFeed ProtocolKind = "feed"
	// KindAPI is a JSON API driven by a declarative extraction schema.
	KindAPI ProtocolKind = "api"
)

// Valid reports whether k is one of the known protocol kinds.
func (k ProtocolKind) Valid() bool {
	switch k {
	case KindHTML, KindFeed, KindAPI:
		return true
	default:
		return false
	}
}

// SourceStatus enumerates source lifecycle states.
type SourceStatus string

const (
	// SourceActive sources are eligible for scheduling.
	SourceActive SourceStatus = "active"
	// SourcePaused sources were tripped by the circuit breaker or paused by an admin.
	SourcePaused SourceStatus = "paused"
	// SourceDeleted sources are soft-deleted and never crawled again.
	SourceDeleted SourceStatus = "deleted"
)

// OutcomeStatus enumerates crawl attempt results.
type OutcomeStatus string

const (
	// OutcomeSuccess means at least one record was inserted or updated.
	OutcomeSuccess OutcomeStatus = "success"
	// OutcomeNoChange means the crawl worked but produced nothing new.
	OutcomeNoChange OutcomeStatus = "no_change"
	// OutcomeError means the crawl failed.
	OutcomeError OutcomeStatus = "error"
)

// SourceConfig is one crawlable endpoint plus its scheduling state.
type SourceConfig struct {
	ID                  string        `json:"id"`
	URL                 string        `json:"url"`
	Kind                ProtocolKind  `json:"kind"`
	OrgName             string        `json:"org_name"`
	OrgCategory         string        `json:"org_category,omitempty"`
	Status              SourceStatus  `json:"status"`
	CrawlFrequencyDays  float64       `json:"crawl_frequency_days"`
	NextRunAt           *time.Time    `json:"next_run_at,omitempty"`
	LastCrawledAt       *time.Time    `json:"last_crawled_at,omitempty"`
	LastStatus          OutcomeStatus `json:"last_status,omitempty"`
	LastMessage         string        `json:"last_message,omitempty"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ConsecutiveNoChange int           `json:"consecutive_nochange"`
	ParserHint          string        `json:"parser_hint,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

// Host returns the lower-cased host portion of the source URL.
func (s SourceConfig) Host() string {
	return HostOf(s.URL)
}

// Due reports whether the source should be crawled at now.
func (s SourceConfig) Due(now time.Time) bool {
	if s.Status != SourceActive {
		return false
	}
	return s.NextRunAt == nil || !s.NextRunAt.After(now)
}

// ScheduleUpdate carries every scheduling field the orchestrator mutates
// after a crawl attempt. It is applied atomically by the SourceStore.
type ScheduleUpdate struct {
	Status              SourceStatus
	CrawlFrequencyDays  float64
	NextRunAt           *time.Time
	LastCrawledAt       time.Time
	LastStatus          OutcomeStatus
	LastMessage         string
	ConsecutiveFailures int
	ConsecutiveNoChange int
}

// Apply returns a copy of src with the update applied.
func (u ScheduleUpdate) Apply(src SourceConfig) SourceConfig {
	src.Status = u.Status
	src.CrawlFrequencyDays = u.CrawlFrequencyDays
	src.NextRunAt = u.NextRunAt
	last := u.LastCrawledAt
	src.LastCrawledAt = &last
	src.LastStatus = u.LastStatus
	src.LastMessage = u.LastMessage
	src.ConsecutiveFailures = u.ConsecutiveFailures
	src.ConsecutiveNoChange = u.ConsecutiveNoChange
	return src
}

// CrawlOutcome is the immutable result of one executor run.
type CrawlOutcome struct {
	ID       string        `json:"id"`
	SourceID string        `json:"source_id"`
	Found    int           `json:"found"`
	Inserted int           `json:"inserted"`
	Updated  int           `json:"updated"`
	Skipped  int           `json:"skipped"`
	Status   OutcomeStatus `json:"status"`
	Message  string        `json:"message"`
	// Reason is a machine-readable code for error outcomes.
	Reason string `json:"reason,omitempty"`
	// ConfigError marks failures caused by the source's own configuration
	// (bad schema, missing secrets). They do not count toward the circuit breaker.
	ConfigError bool      `json:"config_error,omitempty"`
	DurationMs  int64     `json:"duration_ms"`
	RanAt       time.Time `json:"ran_at"`
}

// Changed is the number of records that were new or modified.
func (o CrawlOutcome) Changed() int {
	return o.Inserted + o.Updated
}

// DomainPolicy overrides default politeness for a single host.
type DomainPolicy struct {
	Host                 string `json:"host"`
	MaxConcurrency       int    `json:"max_concurrency"`
	MinRequestIntervalMs int    `json:"min_request_interval_ms"`
	MaxPages             int    `json:"max_pages"`
	MaxKBPerPage         int    `json:"max_kb_per_page"`
	// AllowJS is informational; pages are never rendered.
	AllowJS bool `json:"allow_js"`
}

// MinRequestInterval returns the policy interval as a duration.
func (p DomainPolicy) MinRequestInterval() time.Duration {
	return time.Duration(p.MinRequestIntervalMs) * time.Millisecond
}

// MaxBytes returns the response size cap in bytes, or 0 when unset.
func (p DomainPolicy) MaxBytes() int64 {
	if p.MaxKBPerPage <= 0 {
		return 0
	}
	return int64(p.MaxKBPerPage) * 1024
}

// Merge fills zero fields of p from def.
func (p DomainPolicy) Merge(def DomainPolicy) DomainPolicy {
	if p.MaxConcurrency <= 0 {
		p.MaxConcurrency = def.MaxConcurrency
	}
	if p.MinRequestIntervalMs <= 0 {
		p.MinRequestIntervalMs = def.MinRequestIntervalMs
	}
	if p.MaxPages <= 0 {
		p.MaxPages = def.MaxPages
	}
	if p.MaxKBPerPage <= 0 {
		p.MaxKBPerPage = def.MaxKBPerPage
	}
	return p
}

// RawRecord is untyped key/value data extracted from one item on a page.
// Canonical keys are listed in the Field* constants.
type RawRecord map[string]any

// Canonical raw record keys shared by every fetcher.
const (
	FieldID           = "id"
	FieldTitle        = "title"
	FieldOrganization = "organization"
	FieldLocation     = "location"
	FieldURL          = "url"
	FieldDescription  = "description"
	FieldDeadline     = "deadline"
	FieldLevel        = "level"
	FieldTags         = "tags"
	FieldPublished    = "published"
)

// String returns the value stored at key rendered as a trimmed string.
func (r RawRecord) String(key string) string {
	v, ok := r[key]
	if !ok || v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case []any:
		if len(val) == 0 {
			return ""
		}
		if s, ok := val[0].(string); ok {
			return strings.TrimSpace(s)
		}
	}
	return strings.TrimSpace(stringify(v))
}

// NormalizedJob is the canonical job record handed to the JobSink.
type NormalizedJob struct {
	SourceID     string     `json:"source_id"`
	ExternalID   string     `json:"external_id,omitempty"`
	Title        string     `json:"title"`
	Organization string     `json:"organization"`
	LocationRaw  string     `json:"location_raw,omitempty"`
	Country      string     `json:"country,omitempty"`
	Region       string     `json:"region,omitempty"`
	Level        string     `json:"level,omitempty"`
	Tags         []string   `json:"tags,omitempty"`
	ApplyURL     string     `json:"apply_url"`
	Snippet      string     `json:"snippet,omitempty"`
	Deadline     *time.Time `json:"deadline,omitempty"`
	Fingerprint  string     `json:"fingerprint"`
	// ContentHash covers the mutable fields so the sink can tell an
	// identical resubmission from a real update.
	ContentHash string `json:"content_hash"`
}

// UpsertResult is what the JobSink did with a record.
type UpsertResult string

const (
	// UpsertInserted means the fingerprint was new.
	UpsertInserted UpsertResult = "inserted"
	// UpsertUpdated means the fingerprint existed and content changed.
	UpsertUpdated UpsertResult = "updated"
	// UpsertSkipped means the record was identical to the stored one.
	UpsertSkipped UpsertResult = "skipped"
)

// HostOf returns the lower-cased host for raw, or "" if it does not parse.
func HostOf(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}
