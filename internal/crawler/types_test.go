package crawler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSourceDue(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	assert.True(t, SourceConfig{Status: SourceActive}.Due(now), "null next_run_at is due")
	assert.True(t, SourceConfig{Status: SourceActive, NextRunAt: &past}.Due(now))
	assert.True(t, SourceConfig{Status: SourceActive, NextRunAt: &now}.Due(now))
	assert.False(t, SourceConfig{Status: SourceActive, NextRunAt: &future}.Due(now))
	assert.False(t, SourceConfig{Status: SourcePaused}.Due(now))
	assert.False(t, SourceConfig{Status: SourceDeleted, NextRunAt: &past}.Due(now))
}

func TestDomainPolicyMerge(t *testing.T) {
	t.Parallel()

	def := DomainPolicy{MaxConcurrency: 2, MinRequestIntervalMs: 1000, MaxPages: 10, MaxKBPerPage: 2048}
	got := DomainPolicy{Host: "example.org", MaxConcurrency: 4}.Merge(def)

	assert.Equal(t, 4, got.MaxConcurrency)
	assert.Equal(t, time.Second, got.MinRequestInterval())
	assert.Equal(t, 10, got.MaxPages)
	assert.Equal(t, int64(2048*1024), got.MaxBytes())
	assert.Equal(t, int64(0), DomainPolicy{}.MaxBytes())
}

func TestScheduleUpdateApply(t *testing.T) {
	t.Parallel()

	ran := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	src := SourceConfig{ID: "s1", Status: SourceActive, CrawlFrequencyDays: 1}
	got := ScheduleUpdate{
		Status:              SourcePaused,
		CrawlFrequencyDays:  2,
		LastCrawledAt:       ran,
		LastStatus:          OutcomeError,
		LastMessage:         "boom",
		ConsecutiveFailures: 5,
	}.Apply(src)

	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, SourcePaused, got.Status)
	assert.Nil(t, got.NextRunAt)
	require.NotNil(t, got.LastCrawledAt)
	assert.Equal(t, ran, *got.LastCrawledAt)
	assert.Equal(t, 5, got.ConsecutiveFailures)
}

func TestRawRecordString(t *testing.T) {
	t.Parallel()

	rec := RawRecord{
		"title": "  Program Officer ",
		"tags":  []any{"health", "wash"},
		"count": float64(3),
		"nil":   nil,
	}
	assert.Equal(t, "Program Officer", rec.String("title"))
	assert.Equal(t, "health", rec.String("tags"))
	assert.Equal(t, "3", rec.String("count"))
	assert.Equal(t, "", rec.String("nil"))
	assert.Equal(t, "", rec.String("missing"))
}

func TestCanonicalURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		base string
		raw  string
		want string
	}{
		{"strips fragment and slash", "", "HTTPS://Jobs.Example.org/posts/42/#apply", "https://jobs.example.org/posts/42"},
		{"drops tracking params", "", "https://example.org/a?utm_source=x&b=2&a=1", "https://example.org/a?a=1&b=2"},
		{"resolves relative", "https://example.org/careers/", "../jobs/7", "https://example.org/jobs/7"},
		{"keeps root path", "", "https://example.org/", "https://example.org/"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := CanonicalURL(tc.base, tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := CanonicalURL("", "mailto:jobs@example.org")
	require.Error(t, err)
	_, err = CanonicalURL("", "  ")
	require.Error(t, err)
	_, err = CanonicalURL("", "/relative/only")
	require.Error(t, err)
}

func TestHostOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "example.org:8080", HostOf("http://Example.org:8080/x"))
	assert.Equal(t, "", HostOf("::bad"))
}

func TestErrorClassification(t *testing.T) {
	t.Parallel()

	missing := &Error{Reason: ReasonMissingSecrets, Missing: []string{"A", "B"}, Err: ErrMissingSecrets}
	assert.Equal(t, "missing secrets: A, B", missing.Error())
	assert.True(t, IsConfigError(missing))
	assert.ErrorIs(t, missing, ErrMissingSecrets)

	status := &Error{Reason: ReasonNonSuccessStatus, Status: 502, Page: 2, Err: ErrStatus}
	assert.Equal(t, "unexpected status 502 (page 2): non-success status", status.Error())
	assert.False(t, IsConfigError(status))
	assert.Equal(t, ReasonNonSuccessStatus, ReasonOf(status))

	schema := InvalidSchema("version must be %d", 1)
	assert.ErrorIs(t, schema, ErrInvalidSchema)
	assert.Equal(t, ReasonInvalidSchema, ReasonOf(schema))
	assert.Contains(t, schema.Error(), "version must be 1")

	assert.Equal(t, ReasonInternal, ReasonOf(assert.AnError))
}
