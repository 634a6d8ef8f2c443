// Package fetcher turns a source's remote content into raw records. There is
// one implementation per protocol kind, selected through a Registry.
package fetcher

import (
	"context"
	"errors"
	"net/http"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
	"github.com/JakeFAU/jobcrawler/internal/transport"
)

// HTTPClient is the transport every fetcher goes through.
type HTTPClient interface {
	Fetch(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Target is one crawl of one source.
type Target struct {
	Source crawler.SourceConfig
	// MaxPages caps API pagination when > 0.
	MaxPages int
	// MaxBytes caps each response body when > 0.
	MaxBytes int64
	// Conditional lets HTML and feed fetches send cached validators.
	Conditional bool
}

// Fetcher produces raw records for a source. Finding nothing is not an
// error; transport and status failures are returned as *crawler.Error
// (or transport.ErrNotModified for an unchanged page).
type Fetcher interface {
	FetchRecords(ctx context.Context, t Target) ([]crawler.RawRecord, error)
	// Test fetches a single page without conditional caching and reports
	// what it found.
	Test(ctx context.Context, t Target, sampleSize int) (extract.TestReport, error)
}

// Registry maps protocol kinds to fetchers.
type Registry struct {
	fetchers map[crawler.ProtocolKind]Fetcher
}

// NewRegistry builds a registry with the three standard fetchers.
func NewRegistry(html, feed, api Fetcher) *Registry {
	r := &Registry{fetchers: make(map[crawler.ProtocolKind]Fetcher, 3)}
	r.Register(crawler.KindHTML, html)
	r.Register(crawler.KindFeed, feed)
	r.Register(crawler.KindAPI, api)
	return r
}

// Register installs f for kind, replacing any previous fetcher. A nil f is ignored.
func (r *Registry) Register(kind crawler.ProtocolKind, f Fetcher) {
	if f == nil {
		return
	}
	r.fetchers[kind] = f
}

// For returns the fetcher for kind.
func (r *Registry) For(kind crawler.ProtocolKind) (Fetcher, error) {
	f, ok := r.fetchers[kind]
	if !ok {
		return nil, crawler.InvalidSchema("no fetcher for protocol kind %q", kind)
	}
	return f, nil
}

func (t Target) unconditional() Target {
	t.Conditional = false
	return t
}

// fetchPage performs a single GET and classifies the result.
func fetchPage(ctx context.Context, client HTTPClient, t Target, accept string) (transport.Response, error) {
	header := http.Header{}
	header.Set("Accept", accept)
	resp, err := client.Fetch(ctx, transport.Request{
		URL:         t.Source.URL,
		Method:      http.MethodGet,
		Header:      header,
		MaxBytes:    t.MaxBytes,
		Conditional: t.Conditional,
	})
	if err != nil {
		if errors.Is(err, transport.ErrNotModified) {
			return transport.Response{Status: http.StatusNotModified}, err
		}
		return resp, &crawler.Error{Reason: crawler.ReasonTransport, Err: err}
	}
	if resp.Status < 200 || resp.Status > 299 {
		return resp, &crawler.Error{Reason: crawler.ReasonNonSuccessStatus, Status: resp.Status, Err: crawler.ErrStatus}
	}
	return resp, nil
}

func report(status int, records []crawler.RawRecord, sampleSize int) extract.TestReport {
	if sampleSize <= 0 {
		sampleSize = 5
	}
	r := extract.TestReport{Status: status, Count: len(records), Samples: []extract.Sample{}}
	for i := 0; i < len(records) && i < sampleSize; i++ {
		r.Samples = append(r.Samples, extract.Sample{
			ID:    records[i].String(crawler.FieldID),
			Title: records[i].String(crawler.FieldTitle),
			URL:   records[i].String(crawler.FieldURL),
		})
	}
	return r
}
