// Package sources implements the admin-side lifecycle of a SourceConfig:
// admission checks, creation, soft deletion and re-activation. Scheduling
// fields are otherwise owned by the scheduler.
package sources

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/scheduler"
)

// Frequency picks the initial crawl frequency for new sources.
type Frequency struct {
	ByCategory  map[string]float64
	DefaultDays float64
	Params      scheduler.Params
}

// Input is an admin request to register a source.
type Input struct {
	URL         string               `json:"url"`
	Kind        crawler.ProtocolKind `json:"kind"`
	OrgName     string               `json:"org_name"`
	OrgCategory string               `json:"org_category,omitempty"`
	ParserHint  string               `json:"parser_hint,omitempty"`
	// FrequencyDays overrides the category default when positive.
	FrequencyDays float64 `json:"crawl_frequency_days,omitempty"`
}

// Service manages source lifecycle transitions.
type Service struct {
	store  crawler.SourceStore
	clock  crawler.Clock
	ids    crawler.IDGenerator
	freq   Frequency
	logger *zap.Logger
}

// NewService constructs a Service.
func NewService(
	store crawler.SourceStore,
	clock crawler.Clock,
	ids crawler.IDGenerator,
	freq Frequency,
	logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, clock: clock, ids: ids, freq: freq, logger: logger.Named("sources")}
}

// Validate checks the admission invariants of a source: an absolute http(s)
// URL, a known protocol kind, and for api sources a parser hint that parses
// as a version 1 schema.
func Validate(rawURL string, kind crawler.ProtocolKind, parserHint string) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}
	if !kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", crawler.ErrInvalidSource, kind)
	}
	if kind == crawler.KindAPI {
		if _, err := extract.ParseSchema(parserHint); err != nil {
			return err
		}
	}
	return nil
}

func validateURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("%w: url: %v", crawler.ErrInvalidSource, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: url must be http or https", crawler.ErrInvalidSource)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: url must be absolute", crawler.ErrInvalidSource)
	}
	return nil
}

// Create validates in and stores a new active source that is due immediately.
func (s *Service) Create(ctx context.Context, in Input) (crawler.SourceConfig, error) {
	in.URL = strings.TrimSpace(in.URL)
	if err := Validate(in.URL, in.Kind, in.ParserHint); err != nil {
		return crawler.SourceConfig{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("generate source id: %w", err)
	}
	now := s.clock.Now()
	freq := scheduler.InitialFrequency(in.OrgCategory, s.freq.ByCategory, s.freq.DefaultDays, s.freq.Params)
	if in.FrequencyDays > 0 {
		freq = scheduler.InitialFrequency("", nil, in.FrequencyDays, s.freq.Params)
	}
	src := crawler.SourceConfig{
		ID:                 id,
		URL:                in.URL,
		Kind:               in.Kind,
		OrgName:            strings.TrimSpace(in.OrgName),
		OrgCategory:        in.OrgCategory,
		Status:             crawler.SourceActive,
		CrawlFrequencyDays: freq,
		NextRunAt:          &now,
		ParserHint:         in.ParserHint,
		CreatedAt:          now,
	}
	if err := s.store.CreateSource(ctx, src); err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("create source: %w", err)
	}
	s.logger.Info("source created",
		zap.String("source_id", id),
		zap.String("kind", string(in.Kind)),
		zap.Float64("crawl_frequency_days", freq),
	)
	return src, nil
}

// Delete soft-deletes a source. Its crawl history is kept.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.SetStatus(ctx, id, crawler.SourceDeleted, nil); err != nil {
		return fmt.Errorf("delete source %s: %w", id, err)
	}
	s.logger.Info("source deleted", zap.String("source_id", id))
	return nil
}

// Pause stops scheduling a source until it is activated again.
func (s *Service) Pause(ctx context.Context, id string) error {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return fmt.Errorf("pause source %s: %w", id, err)
	}
	if src.Status == crawler.SourceDeleted {
		return fmt.Errorf("pause source %s: %w", id, crawler.ErrNotFound)
	}
	if err := s.store.SetStatus(ctx, id, crawler.SourcePaused, nil); err != nil {
		return fmt.Errorf("pause source %s: %w", id, err)
	}
	return nil
}

// Activate re-arms a paused source: both streaks are cleared and it becomes
// due immediately. Deleted sources cannot be re-activated.
func (s *Service) Activate(ctx context.Context, id string) (crawler.SourceConfig, error) {
	src, err := s.store.GetSource(ctx, id)
	if err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("activate source %s: %w", id, err)
	}
	if src.Status == crawler.SourceDeleted {
		return crawler.SourceConfig{}, fmt.Errorf("activate source %s: %w", id, crawler.ErrNotFound)
	}
	now := s.clock.Now()
	if err := s.store.SetStatus(ctx, id, crawler.SourceActive, &now); err != nil {
		return crawler.SourceConfig{}, fmt.Errorf("activate source %s: %w", id, err)
	}
	s.logger.Info("source activated", zap.String("source_id", id), zap.String("previous_status", string(src.Status)))
	return s.store.GetSource(ctx, id)
}

// IsInvalid reports whether err is an admission failure the caller can fix.
func IsInvalid(err error) bool {
	return errors.Is(err, crawler.ErrInvalidSource) || crawler.ReasonOf(err) == crawler.ReasonInvalidSchema
}
