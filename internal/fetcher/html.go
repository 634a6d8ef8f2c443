package fetcher

import (
	"bytes"
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/extract"
)

const htmlAccept = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5"

// heuristic extracts records from a parsed page. An empty result moves on
// to the next heuristic.
type heuristic struct {
	name string
	run  func(doc *goquery.Document, pageURL, hint string) []crawler.RawRecord
}

var heuristics = []heuristic{
	{"selector", selectorRecords},
	{"json-ld", jsonLDRecords},
	{"table", tableRecords},
	{"links", linkRecords},
}

// HTML fetches one static page and extracts postings from it. Pages are
// never rendered.
type HTML struct {
	client HTTPClient
	logger *zap.Logger
}

// NewHTML builds an HTML fetcher.
func NewHTML(client HTTPClient, logger *zap.Logger) *HTML {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTML{client: client, logger: logger.Named("html")}
}

// FetchRecords performs a GET and runs the heuristics.
func (h *HTML) FetchRecords(ctx context.Context, t Target) ([]crawler.RawRecord, error) {
	resp, err := fetchPage(ctx, h.client, t, htmlAccept)
	if err != nil {
		return nil, err
	}
	return h.extract(resp.Body, t), nil
}

// Test fetches the page unconditionally and reports what the heuristics find.
func (h *HTML) Test(ctx context.Context, t Target, sampleSize int) (extract.TestReport, error) {
	resp, err := fetchPage(ctx, h.client, t.unconditional(), htmlAccept)
	if err != nil {
		return extract.TestReport{Status: resp.Status}, err
	}
	return report(resp.Status, h.extract(resp.Body, t), sampleSize), nil
}

func (h *HTML) extract(body []byte, t Target) []crawler.RawRecord {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		h.logger.Warn("parse html", zap.String("source_id", t.Source.ID), zap.Error(err))
		return nil
	}
	hint := strings.TrimSpace(t.Source.ParserHint)
	for _, hr := range heuristics {
		records := hr.run(doc, t.Source.URL, hint)
		if len(records) > 0 {
			h.logger.Debug("html records extracted",
				zap.String("source_id", t.Source.ID),
				zap.String("heuristic", hr.name),
				zap.Int("records", len(records)),
			)
			return records
		}
	}
	return nil
}

// selectorRecords treats the hint as a CSS selector matching one element per
// posting.
func selectorRecords(doc *goquery.Document, _ string, hint string) []crawler.RawRecord {
	if hint == "" {
		return nil
	}
	var records []crawler.RawRecord
	// An invalid selector matches nothing and falls through.
	sel := doc.Find(hint)
	sel.Each(func(_ int, item *goquery.Selection) {
		link := item
		if goquery.NodeName(item) != "a" {
			link = item.Find("a[href]").First()
		}
		href, ok := link.Attr("href")
		if !ok {
			return
		}
		title := text(item.Find("[itemprop=title], .job-title, .title, h1, h2, h3, h4").First())
		if title == "" {
			title = text(link)
		}
		rec := crawler.RawRecord{
			crawler.FieldTitle: title,
			crawler.FieldURL:   strings.TrimSpace(href),
		}
		setIf(rec, crawler.FieldLocation, text(item.Find("[itemprop=jobLocation], .location, .job-location").First()))
		setIf(rec, crawler.FieldDeadline, deadlineText(item))
		setIf(rec, crawler.FieldDescription, text(item.Find(".description, .summary, p").First()))
		records = append(records, rec)
	})
	return records
}

// jsonLDRecords reads schema.org JobPosting blocks.
func jsonLDRecords(doc *goquery.Document, pageURL, _ string) []crawler.RawRecord {
	var records []crawler.RawRecord
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, s *goquery.Selection) {
		raw := strings.TrimSpace(s.Text())
		if !gjson.Valid(raw) {
			return
		}
		for _, node := range jobPostings(gjson.Parse(raw)) {
			records = append(records, jobPostingRecord(node, pageURL))
		}
	})
	return records
}

func jobPostings(v gjson.Result) []gjson.Result {
	var out []gjson.Result
	switch {
	case v.IsArray():
		for _, item := range v.Array() {
			out = append(out, jobPostings(item)...)
		}
	case v.IsObject():
		if graph := v.Get(`\@graph`); graph.IsArray() {
			out = append(out, jobPostings(graph)...)
		}
		if isJobPosting(v.Get(`\@type`)) {
			out = append(out, v)
		}
	}
	return out
}

func isJobPosting(t gjson.Result) bool {
	if t.IsArray() {
		for _, item := range t.Array() {
			if item.String() == "JobPosting" {
				return true
			}
		}
		return false
	}
	return t.String() == "JobPosting"
}

func jobPostingRecord(node gjson.Result, pageURL string) crawler.RawRecord {
	link := firstString(node, "url", "sameAs", `\@id`)
	if link == "" || strings.HasPrefix(link, "_:") {
		link = pageURL
	}
	rec := crawler.RawRecord{
		crawler.FieldTitle: firstString(node, "title", "name"),
		crawler.FieldURL:   link,
	}
	setIf(rec, crawler.FieldID, firstString(node, "identifier.value", "identifier"))
	setIf(rec, crawler.FieldOrganization, firstString(node, "hiringOrganization.name", "hiringOrganization"))
	setIf(rec, crawler.FieldDescription, node.Get("description").String())
	setIf(rec, crawler.FieldDeadline, node.Get("validThrough").String())
	setIf(rec, crawler.FieldPublished, node.Get("datePosted").String())
	setIf(rec, crawler.FieldLevel, firstString(node, "experienceRequirements"))
	if loc := jobLocation(node); loc != "" {
		rec[crawler.FieldLocation] = loc
	} else if node.Get("jobLocationType").String() == "TELECOMMUTE" {
		rec[crawler.FieldLocation] = "Remote"
	}
	if cat := node.Get("occupationalCategory"); cat.Exists() {
		rec[crawler.FieldTags] = cat.Value()
	}
	return rec
}

func jobLocation(node gjson.Result) string {
	loc := node.Get("jobLocation")
	if loc.IsArray() {
		loc = loc.Get("0")
	}
	if !loc.Exists() {
		return ""
	}
	if loc.Type == gjson.String {
		return loc.String()
	}
	var parts []string
	for _, key := range []string{"address.addressLocality", "address.addressRegion", "address.addressCountry.name", "address.addressCountry"} {
		v := loc.Get(key)
		if v.Type != gjson.String || v.String() == "" {
			continue
		}
		parts = append(parts, v.String())
	}
	if len(parts) == 0 {
		return loc.Get("name").String()
	}
	return strings.Join(parts, ", ")
}

func firstString(node gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := node.Get(p); v.Type == gjson.String && v.String() != "" {
			return strings.TrimSpace(v.String())
		}
	}
	return ""
}

// tableRecords reads one posting per table row that contains a link, using
// header cells to find location and deadline columns.
func tableRecords(doc *goquery.Document, _ string, _ string) []crawler.RawRecord {
	var records []crawler.RawRecord
	doc.Find("table").Each(func(_ int, table *goquery.Selection) {
		columns := map[string]int{}
		table.Find("tr").First().Find("th, td").Each(func(i int, cell *goquery.Selection) {
			h := strings.ToLower(text(cell))
			switch {
			case containsAny(h, "location", "duty station", "lieu", "ubicación", "standort", "country"):
				columns[crawler.FieldLocation] = i
			case containsAny(h, "deadline", "closing", "date limite", "cierre", "límite", "frist"):
				columns[crawler.FieldDeadline] = i
			case containsAny(h, "grade", "level", "niveau"):
				columns[crawler.FieldLevel] = i
			}
		})
		table.Find("tr").Each(func(_ int, row *goquery.Selection) {
			link := row.Find("td a[href]").First()
			href, ok := link.Attr("href")
			if !ok {
				return
			}
			rec := crawler.RawRecord{
				crawler.FieldTitle: text(link),
				crawler.FieldURL:   strings.TrimSpace(href),
			}
			cells := row.Find("td")
			for field, idx := range columns {
				setIf(rec, field, text(cells.Eq(idx)))
			}
			records = append(records, rec)
		})
	})
	return records
}

var jobPathWords = []string{"job", "career", "vacanc", "position", "opening", "posting", "recruit", "opportunit", "emploi", "empleo", "stelle", "vaga"}

// linkRecords is the last resort: anchors whose href looks like a posting and
// whose text reads like a title.
func linkRecords(doc *goquery.Document, pageURL, _ string) []crawler.RawRecord {
	seen := map[string]struct{}{}
	self, _ := crawler.CanonicalURL("", pageURL)
	var records []crawler.RawRecord
	doc.Find("a[href]").Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		title := text(a)
		if href == "" || strings.HasPrefix(href, "#") || len(strings.Fields(title)) < 2 {
			return
		}
		canonical, err := crawler.CanonicalURL(pageURL, href)
		if err != nil || canonical == self {
			return
		}
		if !containsAny(strings.ToLower(href), jobPathWords...) {
			return
		}
		if _, dup := seen[canonical]; dup {
			return
		}
		seen[canonical] = struct{}{}
		records = append(records, crawler.RawRecord{
			crawler.FieldTitle: title,
			crawler.FieldURL:   href,
		})
	})
	return records
}

func deadlineText(item *goquery.Selection) string {
	if t := item.Find("time[datetime]").First(); t.Length() > 0 {
		return t.AttrOr("datetime", "")
	}
	return text(item.Find(".deadline, .closing-date").First())
}

func text(s *goquery.Selection) string {
	return strings.Join(strings.Fields(s.Text()), " ")
}

func setIf(rec crawler.RawRecord, key, value string) {
	if value = strings.TrimSpace(value); value != "" {
		rec[key] = value
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
