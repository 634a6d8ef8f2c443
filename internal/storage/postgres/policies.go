package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// PolicyFor returns the stored politeness override for host.
func (s *Store) PolicyFor(ctx context.Context, host string) (crawler.DomainPolicy, bool, error) {
	query := `
		SELECT host, max_concurrency, min_request_interval_ms, max_pages, max_kb_per_page, allow_js
		FROM domain_policies
		WHERE host = $1;
	`
	var p crawler.DomainPolicy
	err := s.pool.QueryRow(ctx, query, strings.ToLower(host)).Scan(
		&p.Host,
		&p.MaxConcurrency,
		&p.MinRequestIntervalMs,
		&p.MaxPages,
		&p.MaxKBPerPage,
		&p.AllowJS,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.DomainPolicy{}, false, nil
		}
		return crawler.DomainPolicy{}, false, fmt.Errorf("get domain policy: %w", err)
	}
	return p, true, nil
}

// PutPolicy creates or replaces the policy for p.Host.
func (s *Store) PutPolicy(ctx context.Context, p crawler.DomainPolicy) error {
	query := `
		INSERT INTO domain_policies (host, max_concurrency, min_request_interval_ms,
			max_pages, max_kb_per_page, allow_js)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (host) DO UPDATE
		SET max_concurrency = EXCLUDED.max_concurrency,
			min_request_interval_ms = EXCLUDED.min_request_interval_ms,
			max_pages = EXCLUDED.max_pages,
			max_kb_per_page = EXCLUDED.max_kb_per_page,
			allow_js = EXCLUDED.allow_js;
	`
	_, err := s.pool.Exec(ctx, query,
		strings.ToLower(p.Host),
		p.MaxConcurrency,
		p.MinRequestIntervalMs,
		p.MaxPages,
		p.MaxKBPerPage,
		p.AllowJS,
	)
	if err != nil {
		return fmt.Errorf("upsert domain policy: %w", err)
	}
	return nil
}
