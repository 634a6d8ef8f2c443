// Package normalize maps raw records from any fetcher into the canonical
// job shape and computes the dedup fingerprint.
package normalize

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// SnippetLength bounds the description snippet in runes.
const SnippetLength = 300

// RejectReason explains why a record was skipped.
type RejectReason string

// Reject reasons.
const (
	RejectMissingTitle RejectReason = "missing title"
	RejectMissingURL   RejectReason = "missing apply url"
)

// OrgContext is what the normalizer knows about the source a record came from.
type OrgContext struct {
	SourceID         string
	OrganizationName string
	// SourceURL resolves relative apply links.
	SourceURL string
}

// Normalize converts raw into a NormalizedJob. It returns a non-empty
// RejectReason when the record has no title or no usable apply URL.
func Normalize(raw crawler.RawRecord, org OrgContext) (crawler.NormalizedJob, RejectReason) {
	title := collapse(raw.String(crawler.FieldTitle))
	if title == "" {
		return crawler.NormalizedJob{}, RejectMissingTitle
	}
	link := raw.String(crawler.FieldURL)
	if link == "" {
		return crawler.NormalizedJob{}, RejectMissingURL
	}
	applyURL, err := crawler.CanonicalURL(org.SourceURL, link)
	if err != nil {
		return crawler.NormalizedJob{}, RejectMissingURL
	}

	orgName := collapse(raw.String(crawler.FieldOrganization))
	if orgName == "" {
		orgName = collapse(org.OrganizationName)
	}
	location := collapse(raw.String(crawler.FieldLocation))
	country, region := Location(location)

	job := crawler.NormalizedJob{
		SourceID:     org.SourceID,
		ExternalID:   raw.String(crawler.FieldID),
		Title:        title,
		Organization: orgName,
		LocationRaw:  location,
		Country:      country,
		Region:       region,
		Level:        ParseLevel(title, raw.String(crawler.FieldLevel)).String(),
		Tags:         Tags(raw[crawler.FieldTags]),
		ApplyURL:     applyURL,
		Snippet:      Snippet(raw.String(crawler.FieldDescription)),
	}
	if d, ok := ParseDeadline(raw.String(crawler.FieldDeadline)); ok {
		job.Deadline = &d
	}
	job.Fingerprint = Fingerprint(job.Organization, job.Title, job.ApplyURL)
	job.ContentHash = ContentHash(job)
	return job, ""
}

// Snippet strips markup from a description and truncates it on a rune
// boundary.
func Snippet(description string) string {
	text := description
	if strings.ContainsAny(description, "<&") {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(description))
		if err == nil {
			doc.Find("script, style").Remove()
			text = doc.Text()
		}
	}
	text = collapse(text)
	if utf8.RuneCountInString(text) <= SnippetLength {
		return text
	}
	runes := []rune(text)
	return strings.TrimSpace(string(runes[:SnippetLength])) + "…"
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
