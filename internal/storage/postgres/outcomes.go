package postgres

import (
	"context"
	"fmt"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// AppendOutcome inserts one immutable crawl outcome row.
func (s *Store) AppendOutcome(ctx context.Context, o crawler.CrawlOutcome) error {
	query := `
		INSERT INTO crawl_outcomes (id, source_id, found, inserted, updated, skipped,
			status, message, reason, config_error, duration_ms, ran_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12);
	`
	_, err := s.pool.Exec(ctx, query,
		o.ID,
		o.SourceID,
		o.Found,
		o.Inserted,
		o.Updated,
		o.Skipped,
		string(o.Status),
		o.Message,
		o.Reason,
		o.ConfigError,
		o.DurationMs,
		o.RanAt,
	)
	if err != nil {
		return fmt.Errorf("insert outcome: %w", err)
	}
	return nil
}

// ListOutcomes returns the newest outcomes for a source first.
func (s *Store) ListOutcomes(ctx context.Context, sourceID string, limit int) ([]crawler.CrawlOutcome, error) {
	query := `
		SELECT id, source_id, found, inserted, updated, skipped, status, message,
			reason, config_error, duration_ms, ran_at
		FROM crawl_outcomes
		WHERE source_id = $1
		ORDER BY ran_at DESC, id DESC
		LIMIT $2;
	`
	rows, err := s.pool.Query(ctx, query, sourceID, limitArg(limit))
	if err != nil {
		return nil, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	var outcomes []crawler.CrawlOutcome
	for rows.Next() {
		var (
			o      crawler.CrawlOutcome
			status string
		)
		if err := rows.Scan(
			&o.ID,
			&o.SourceID,
			&o.Found,
			&o.Inserted,
			&o.Updated,
			&o.Skipped,
			&status,
			&o.Message,
			&o.Reason,
			&o.ConfigError,
			&o.DurationMs,
			&o.RanAt,
		); err != nil {
			return nil, fmt.Errorf("scan outcome: %w", err)
		}
		o.Status = crawler.OutcomeStatus(status)
		outcomes = append(outcomes, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outcomes: %w", err)
	}
	return outcomes, nil
}
