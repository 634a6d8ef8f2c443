package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Upsert writes job keyed by fingerprint. The conflict branch only fires
// when the content hash differs, so an identical resubmission returns no
// row and counts as skipped. xmax is zero only for freshly inserted tuples.
func (s *Store) Upsert(ctx context.Context, job crawler.NormalizedJob) (crawler.UpsertResult, error) {
	query := `
		INSERT INTO jobs (fingerprint, source_id, external_id, title, organization,
			location_raw, country, region, level, tags, apply_url, snippet,
			deadline, content_hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (fingerprint) DO UPDATE
		SET source_id = EXCLUDED.source_id,
			external_id = EXCLUDED.external_id,
			title = EXCLUDED.title,
			organization = EXCLUDED.organization,
			location_raw = EXCLUDED.location_raw,
			country = EXCLUDED.country,
			region = EXCLUDED.region,
			level = EXCLUDED.level,
			tags = EXCLUDED.tags,
			apply_url = EXCLUDED.apply_url,
			snippet = EXCLUDED.snippet,
			deadline = EXCLUDED.deadline,
			content_hash = EXCLUDED.content_hash,
			updated_at = now()
		WHERE jobs.content_hash IS DISTINCT FROM EXCLUDED.content_hash
		RETURNING (xmax = 0) AS inserted;
	`
	tags := job.Tags
	if tags == nil {
		tags = []string{}
	}
	var inserted bool
	err := s.pool.QueryRow(ctx, query,
		job.Fingerprint,
		job.SourceID,
		job.ExternalID,
		job.Title,
		job.Organization,
		job.LocationRaw,
		job.Country,
		job.Region,
		job.Level,
		tags,
		job.ApplyURL,
		job.Snippet,
		job.Deadline,
		job.ContentHash,
	).Scan(&inserted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.UpsertSkipped, nil
		}
		return "", fmt.Errorf("upsert job: %w", err)
	}
	if inserted {
		return crawler.UpsertInserted, nil
	}
	return crawler.UpsertUpdated, nil
}
