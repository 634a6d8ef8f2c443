package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

const sourceColumns = `id, url, kind, org_name, org_category, status, crawl_frequency_days,
	next_run_at, last_crawled_at, last_status, last_message,
	consecutive_failures, consecutive_nochange, parser_hint, created_at`

// CreateSource inserts a new source row.
func (s *Store) CreateSource(ctx context.Context, src crawler.SourceConfig) error {
	query := `
		INSERT INTO sources (id, url, kind, org_name, org_category, status,
			crawl_frequency_days, next_run_at, parser_hint, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
	`
	_, err := s.pool.Exec(ctx, query,
		src.ID,
		src.URL,
		string(src.Kind),
		src.OrgName,
		src.OrgCategory,
		string(src.Status),
		src.CrawlFrequencyDays,
		src.NextRunAt,
		src.ParserHint,
		src.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return crawler.ErrDuplicateSource
		}
		return fmt.Errorf("insert source: %w", err)
	}
	return nil
}

// GetSource retrieves a single source by ID.
func (s *Store) GetSource(ctx context.Context, id string) (crawler.SourceConfig, error) {
	query := `SELECT ` + sourceColumns + ` FROM sources WHERE id = $1;`
	src, err := scanSource(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.SourceConfig{}, crawler.ErrNotFound
		}
		return crawler.SourceConfig{}, fmt.Errorf("get source: %w", err)
	}
	return src, nil
}

// ListDue returns active sources whose next run is unset or not after now.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]crawler.SourceConfig, error) {
	query := `
		SELECT ` + sourceColumns + `
		FROM sources
		WHERE status = 'active' AND (next_run_at IS NULL OR next_run_at <= $1)
		ORDER BY next_run_at NULLS FIRST, id
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, now, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list due sources: %w", err)
	}
	defer rows.Close()

	var due []crawler.SourceConfig
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		due = append(due, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return due, nil
}

// UpdateSchedule writes the orchestrator's post-crawl state. A source that
// was deleted or paused mid-crawl keeps that status and is not rescheduled.
func (s *Store) UpdateSchedule(ctx context.Context, id string, update crawler.ScheduleUpdate) error {
	query := `
		UPDATE sources
		SET status = CASE WHEN status = 'deleted' OR (status = 'paused' AND $2 = 'active') THEN status ELSE $2 END,
			crawl_frequency_days = $3,
			next_run_at = CASE WHEN status = 'deleted' OR (status = 'paused' AND $2 = 'active') THEN NULL ELSE $4::timestamptz END,
			last_crawled_at = $5,
			last_status = $6,
			last_message = $7,
			consecutive_failures = $8,
			consecutive_nochange = $9
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query,
		id,
		string(update.Status),
		update.CrawlFrequencyDays,
		update.NextRunAt,
		update.LastCrawledAt,
		string(update.LastStatus),
		update.LastMessage,
		update.ConsecutiveFailures,
		update.ConsecutiveNoChange,
	)
	if err != nil {
		return fmt.Errorf("update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

// SetStatus changes the lifecycle status. Re-activation clears both streaks.
func (s *Store) SetStatus(
	ctx context.Context,
	id string,
	status crawler.SourceStatus,
	nextRunAt *time.Time,
) error {
	query := `
		UPDATE sources
		SET status = $2::text,
			next_run_at = $3,
			consecutive_failures = CASE WHEN $2::text = 'active' THEN 0 ELSE consecutive_failures END,
			consecutive_nochange = CASE WHEN $2::text = 'active' THEN 0 ELSE consecutive_nochange END
		WHERE id = $1;
	`
	tag, err := s.pool.Exec(ctx, query, id, string(status), nextRunAt)
	if err != nil {
		return fmt.Errorf("set source status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return crawler.ErrNotFound
	}
	return nil
}

func scanSource(row pgx.Row) (crawler.SourceConfig, error) {
	var (
		src          crawler.SourceConfig
		kind, status string
		lastStatus   *string
	)
	err := row.Scan(
		&src.ID,
		&src.URL,
		&kind,
		&src.OrgName,
		&src.OrgCategory,
		&status,
		&src.CrawlFrequencyDays,
		&src.NextRunAt,
		&src.LastCrawledAt,
		&lastStatus,
		&src.LastMessage,
		&src.ConsecutiveFailures,
		&src.ConsecutiveNoChange,
		&src.ParserHint,
		&src.CreatedAt,
	)
	if err != nil {
		return crawler.SourceConfig{}, err
	}
	src.Kind = crawler.ProtocolKind(kind)
	src.Status = crawler.SourceStatus(status)
	src.NextRunAt = utc(src.NextRunAt)
	src.LastCrawledAt = utc(src.LastCrawledAt)
	src.CreatedAt = src.CreatedAt.UTC()
	if lastStatus != nil {
		src.LastStatus = crawler.OutcomeStatus(*lastStatus)
	}
	return src, nil
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
