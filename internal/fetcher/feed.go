package fetcher

import (
	"bytes"
	"context"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
)

const feedAccept = "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5"

// Feed reads RSS and Atom feeds. Entries older than MaxAge are dropped.
type Feed struct {
	client HTTPClient
	maxAge time.Duration
	logger *zap.Logger
	now    func() time.Time
}

// NewFeed builds a Feed fetcher. maxAge <= 0 keeps every entry.
func NewFeed(client HTTPClient, maxAge time.Duration, logger *zap.Logger) *Feed {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{client: client, maxAge: maxAge, logger: logger.Named("feed"), now: time.Now}
}

// FetchRecords performs a GET and returns one record per entry.
func (f *Feed) FetchRecords(ctx context.Context, t Target) ([]crawler.RawRecord, error) {
	resp, err := fetchPage(ctx, f.client, t, feedAccept)
	if err != nil {
		return nil, err
	}
	return f.parse(resp.Body, t)
}

// Test fetches the feed unconditionally.
func (f *Feed) Test(ctx context.Context, t Target, sampleSize int) (extract.TestReport, error) {
	resp, err := fetchPage(ctx, f.client, t.unconditional(), feedAccept)
	if err != nil {
		return extract.TestReport{Status: resp.Status}, err
	}
	records, err := f.parse(resp.Body, t)
	if err != nil {
		return extract.TestReport{Status: resp.Status}, err
	}
	return report(resp.Status, records, sampleSize), nil
}

func (f *Feed) parse(body []byte, t Target) ([]crawler.RawRecord, error) {
	parsed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, &crawler.Error{Reason: crawler.ReasonNoItemsAtPath, Err: err}
	}

	var cutoff time.Time
	if f.maxAge > 0 {
		cutoff = f.now().Add(-f.maxAge)
	}
	records := make([]crawler.RawRecord, 0, len(parsed.Items))
	dropped := 0
	for _, item := range parsed.Items {
		if item == nil {
			continue
		}
		published := item.PublishedParsed
		if published == nil {
			published = item.UpdatedParsed
		}
		if published != nil && !cutoff.IsZero() && published.Before(cutoff) {
			dropped++
			continue
		}
		records = append(records, feedRecord(item, published))
	}
	if dropped > 0 {
		f.logger.Debug("dropped stale feed entries",
			zap.String("source_id", t.Source.ID),
			zap.Int("dropped", dropped),
		)
	}
	return records, nil
}

func feedRecord(item *gofeed.Item, published *time.Time) crawler.RawRecord {
	rec := crawler.RawRecord{
		crawler.FieldTitle: item.Title,
		crawler.FieldURL:   item.Link,
	}
	setIf(rec, crawler.FieldID, item.GUID)
	description := item.Description
	if description == "" {
		description = item.Content
	}
	setIf(rec, crawler.FieldDescription, description)
	if published != nil {
		rec[crawler.FieldPublished] = published.UTC().Format(time.RFC3339)
	}
	if len(item.Categories) > 0 {
		tags := make([]any, 0, len(item.Categories))
		for _, c := range item.Categories {
			tags = append(tags, c)
		}
		rec[crawler.FieldTags] = tags
	}
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		setIf(rec, crawler.FieldOrganization, item.Authors[0].Name)
	}
	return rec
}
