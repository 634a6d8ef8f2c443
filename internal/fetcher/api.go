package fetcher

import (
	"context"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
)

// Extractor runs extraction schemas.
type Extractor interface {
	Extract(ctx context.Context, run extract.Run) ([]crawler.RawRecord, error)
	Test(ctx context.Context, run extract.Run, sampleSize int) (extract.TestReport, error)
}

// API fetches JSON APIs by interpreting the source's schema.
type API struct {
	engine Extractor
}

// NewAPI builds an API fetcher over engine.
func NewAPI(engine Extractor) *API {
	return &API{engine: engine}
}

// FetchRecords parses the source schema and walks every page.
func (a *API) FetchRecords(ctx context.Context, t Target) ([]crawler.RawRecord, error) {
	run, err := a.run(t)
	if err != nil {
		return nil, err
	}
	return a.engine.Extract(ctx, run)
}

// Test fetches exactly one page.
func (a *API) Test(ctx context.Context, t Target, sampleSize int) (extract.TestReport, error) {
	run, err := a.run(t)
	if err != nil {
		return extract.TestReport{}, err
	}
	return a.engine.Test(ctx, run, sampleSize)
}

func (a *API) run(t Target) (extract.Run, error) {
	schema, err := extract.ParseSchema(t.Source.ParserHint)
	if err != nil {
		return extract.Run{}, err
	}
	return extract.Run{
		Schema:        schema,
		SourceID:      t.Source.ID,
		LastCrawledAt: t.Source.LastCrawledAt,
		MaxPages:      t.MaxPages,
		MaxBytes:      t.MaxBytes,
	}, nil
}
