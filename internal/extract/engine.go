package extract

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
	"github.com/JakeFAU/jobcrawler/internal/transport"
)

// HTTPClient is the transport the engine fetches pages through.
type HTTPClient interface {
	Fetch(ctx context.Context, req transport.Request) (transport.Response, error)
}

// Options tunes an Engine.
type Options struct {
	// SinceFallbackDays is the lookback used on a source's first crawl
	// when the schema does not set since.fallback_days.
	SinceFallbackDays int
}

// Engine runs extraction schemas against remote APIs.
type Engine struct {
	client  HTTPClient
	secrets crawler.SecretLookup
	opts    Options
	logger  *zap.Logger
	now     func() time.Time
}

// NewEngine builds an Engine.
func NewEngine(client HTTPClient, secrets crawler.SecretLookup, opts Options, logger *zap.Logger) *Engine {
	if opts.SinceFallbackDays <= 0 {
		opts.SinceFallbackDays = 30
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		client:  client,
		secrets: secrets,
		opts:    opts,
		logger:  logger.Named("extract"),
		now:     time.Now,
	}
}

// Run is one extraction request.
type Run struct {
	Schema *Schema
	// SourceID is used for logging only.
	SourceID string
	// LastCrawledAt drives the since filter; nil means first crawl.
	LastCrawledAt *time.Time
	// MaxPages further caps the schema's max_pages when > 0.
	MaxPages int
	// MaxBytes caps each page body when > 0.
	MaxBytes int64
}

// Sample is a preview of one record returned in test mode.
type Sample struct {
	ID    string `json:"id,omitempty"`
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// TestReport summarises a single-page test fetch.
type TestReport struct {
	Status  int      `json:"status"`
	Count   int      `json:"count"`
	Samples []Sample `json:"samples"`
}

// Extract resolves secrets, walks every page and returns the mapped
// records. Any page failure discards the whole result.
func (e *Engine) Extract(ctx context.Context, run Run) ([]crawler.RawRecord, error) {
	records, _, err := e.execute(ctx, run, false)
	return records, err
}

// Test fetches exactly one page and reports the record count plus up to
// sampleSize samples. Nothing is written anywhere.
func (e *Engine) Test(ctx context.Context, run Run, sampleSize int) (TestReport, error) {
	records, status, err := e.execute(ctx, run, true)
	if err != nil {
		return TestReport{Status: status}, err
	}
	if sampleSize <= 0 {
		sampleSize = 5
	}
	report := TestReport{Status: status, Count: len(records), Samples: []Sample{}}
	for i := 0; i < len(records) && i < sampleSize; i++ {
		rec := records[i]
		report.Samples = append(report.Samples, Sample{
			ID:    rec.String(crawler.FieldID),
			Title: rec.String(crawler.FieldTitle),
			URL:   rec.String(crawler.FieldURL),
		})
	}
	return report, nil
}

func (e *Engine) execute(ctx context.Context, run Run, testMode bool) ([]crawler.RawRecord, int, error) {
	s := run.Schema
	if s == nil {
		return nil, 0, crawler.InvalidSchema("no schema")
	}
	creds, err := e.resolveSecrets(ctx, s)
	if err != nil {
		return nil, 0, err
	}
	redact := newRedactor(creds)

	maxPages := s.Pagination.MaxPages
	if run.MaxPages > 0 && run.MaxPages < maxPages {
		maxPages = run.MaxPages
	}
	if testMode {
		maxPages = 1
	}
	since := e.sinceValue(s, run.LastCrawledAt)

	var (
		records    []crawler.RawRecord
		cursor     string
		lastStatus int
	)
	for page := 0; page < maxPages; page++ {
		req, err := e.buildRequest(s, creds, page, cursor, since)
		if err != nil {
			return nil, lastStatus, &crawler.Error{Reason: crawler.ReasonInvalidSchema, Page: page + 1, Err: err}
		}
		req.MaxBytes = run.MaxBytes
		resp, err := e.client.Fetch(ctx, req)
		if err != nil {
			return nil, lastStatus, &crawler.Error{Reason: crawler.ReasonTransport, Page: page + 1, Err: redact.wrap(err)}
		}
		lastStatus = resp.Status
		if !s.successful(resp.Status) {
			return nil, lastStatus, &crawler.Error{Reason: crawler.ReasonNonSuccessStatus, Status: resp.Status, Page: page + 1, Err: crawler.ErrStatus}
		}
		if !gjson.ValidBytes(resp.Body) {
			return nil, lastStatus, &crawler.Error{Reason: crawler.ReasonNoItemsAtPath, Page: page + 1, Err: fmt.Errorf("%w: response is not valid JSON", crawler.ErrNoItems)}
		}
		items := gjson.ParseBytes(resp.Body)
		if s.dataPath != "" {
			items = items.Get(s.dataPath)
		}
		switch {
		case items.IsArray():
		case !items.Exists() && page > 0:
			// Some APIs drop the array key once results run out.
			items = gjson.Result{}
		default:
			return nil, lastStatus, &crawler.Error{Reason: crawler.ReasonNoItemsAtPath, Page: page + 1, Err: fmt.Errorf("%w: %q did not resolve to an array", crawler.ErrNoItems, s.DataPath)}
		}
		pageItems := items.Array()
		for _, item := range pageItems {
			records = append(records, e.mapItem(s, item, run.SourceID))
		}
		e.logger.Debug("page extracted",
			zap.String("source_id", run.SourceID),
			zap.Int("page", page+1),
			zap.Int("items", len(pageItems)),
		)

		if len(pageItems) == 0 && (s.Pagination.UntilEmpty || s.Pagination.Type == PaginatePage) {
			break
		}
		if s.Pagination.Type == PaginateCursor {
			next := gjson.GetBytes(resp.Body, s.cursorPath)
			if !next.Exists() || next.Type == gjson.Null || next.String() == "" {
				break
			}
			cursor = next.String()
		}
	}
	return records, lastStatus, nil
}

func (s *Schema) successful(status int) bool {
	for _, code := range s.SuccessCodes {
		if code == status {
			return true
		}
	}
	return false
}

// credentials holds resolved auth values.
type credentials struct {
	token, user, pass string
}

func (e *Engine) resolveSecrets(ctx context.Context, s *Schema) (credentials, error) {
	var missing []string
	resolve := func(v Value) string {
		if !v.IsSecret() {
			return v.Literal
		}
		if e.secrets == nil {
			missing = append(missing, v.Secret)
			return ""
		}
		val, ok, err := e.secrets.Lookup(ctx, v.Secret)
		if err != nil {
			e.logger.Warn("secret lookup failed", zap.String("secret", v.Secret), zap.Error(err))
		}
		if err != nil || !ok || val == "" {
			missing = append(missing, v.Secret)
			return ""
		}
		return val
	}
	creds := credentials{
		token: resolve(s.Auth.Token),
		user:  resolve(s.Auth.User),
		pass:  resolve(s.Auth.Pass),
	}
	if len(missing) > 0 {
		missing = dedupeSorted(missing)
		return credentials{}, &crawler.Error{Reason: crawler.ReasonMissingSecrets, Missing: missing, Err: crawler.ErrMissingSecrets}
	}
	return creds, nil
}

func (e *Engine) sinceValue(s *Schema, last *time.Time) string {
	if s.Since == nil {
		return ""
	}
	var at time.Time
	if last != nil && !last.IsZero() {
		at = last.UTC()
	} else {
		days := s.Since.FallbackDays
		if days == 0 {
			days = e.opts.SinceFallbackDays
		}
		at = e.now().UTC().AddDate(0, 0, -days)
	}
	switch s.Since.Format {
	case "", "date":
		return at.Format("2006-01-02")
	case "datetime", "rfc3339":
		return at.Format(time.RFC3339)
	case "unix":
		return strconv.FormatInt(at.Unix(), 10)
	case "unix_ms":
		return strconv.FormatInt(at.UnixMilli(), 10)
	default:
		return at.Format(strftimeToLayout(s.Since.Format))
	}
}

func (e *Engine) buildRequest(s *Schema, creds credentials, page int, cursor, since string) (transport.Request, error) {
	target, err := url.Parse(joinURL(s.BaseURL, s.Path))
	if err != nil {
		return transport.Request{}, fmt.Errorf("build url: %w", err)
	}
	q := target.Query()
	for k, v := range s.Query {
		q.Set(k, formatScalar(v))
	}
	var body map[string]any
	if s.Method == http.MethodPost {
		body = cloneMap(s.Body)
	}
	set := func(in, key string, val any) {
		if in == InBody {
			body[key] = val
			return
		}
		q.Set(key, formatScalar(val))
	}

	p := s.Pagination
	switch p.Type {
	case PaginateOffset:
		set(p.In, p.OffsetParam, page*p.PageSize)
		if p.LimitParam != "" {
			set(p.In, p.LimitParam, p.PageSize)
		}
	case PaginatePage:
		set(p.In, p.PageParam, p.StartPage+page)
		if p.LimitParam != "" && p.PageSize > 0 {
			set(p.In, p.LimitParam, p.PageSize)
		}
	case PaginateCursor:
		if cursor != "" {
			set(p.In, p.CursorParam, cursor)
		}
		if p.LimitParam != "" && p.PageSize > 0 {
			set(p.In, p.LimitParam, p.PageSize)
		}
	case PaginateNone:
	}

	if s.Since != nil && since != "" {
		switch {
		case s.Since.Operator == "":
			set(s.Since.In, s.Since.Param, since)
		case s.Since.In == InBody:
			body[s.Since.Param] = map[string]any{s.Since.Operator: since}
		default:
			q.Set(fmt.Sprintf("%s[%s]", s.Since.Param, s.Since.Operator), since)
		}
	}

	header := http.Header{}
	for k, v := range s.Headers {
		header.Set(k, v)
	}
	if header.Get("Accept") == "" {
		header.Set("Accept", "application/json")
	}
	switch s.Auth.Type {
	case AuthQuery:
		q.Set(s.Auth.QueryName, creds.token)
	case AuthBearer:
		header.Set("Authorization", "Bearer "+creds.token)
	case AuthHeader:
		header.Set(s.Auth.HeaderName, creds.token)
	case AuthBasic:
		header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(creds.user+":"+creds.pass)))
	case AuthNone:
	}

	target.RawQuery = q.Encode()
	req := transport.Request{URL: target.String(), Method: s.Method, Header: header}
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return transport.Request{}, fmt.Errorf("encode body: %w", err)
		}
		req.Body = data
		header.Set("Content-Type", "application/json")
	}
	return req, nil
}

func (e *Engine) mapItem(s *Schema, item gjson.Result, sourceID string) crawler.RawRecord {
	rec := make(crawler.RawRecord, len(s.fieldPaths))
	fields := make([]string, 0, len(s.fieldPaths))
	for field := range s.fieldPaths {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	for _, field := range fields {
		res := item.Get(s.fieldPaths[field])
		var v any
		if res.Exists() {
			v = res.Value()
		}
		if chain := s.Transforms[field]; len(chain) > 0 {
			out, err := applyChain(v, chain)
			if err != nil {
				e.logger.Warn("transform failed; keeping original value",
					zap.String("source_id", sourceID),
					zap.String("field", field),
					zap.Error(err),
				)
			}
			v = out
		}
		if v != nil {
			rec[field] = v
		}
	}
	return rec
}

func joinURL(base, path string) string {
	if path == "" {
		return base
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}

func formatScalar(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	case nil:
		return ""
	default:
		return fmt.Sprint(val)
	}
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func dedupeSorted(in []string) []string {
	sort.Strings(in)
	out := in[:0]
	for i, s := range in {
		if i == 0 || s != in[i-1] {
			out = append(out, s)
		}
	}
	return out
}

// redactor scrubs resolved credential values from error text.
type redactor struct {
	values []string
}

func newRedactor(c credentials) redactor {
	var vals []string
	for _, v := range []string{c.token, c.user, c.pass} {
		if len(v) >= 4 {
			vals = append(vals, v)
		}
	}
	if c.user != "" || c.pass != "" {
		vals = append(vals, base64.StdEncoding.EncodeToString([]byte(c.user+":"+c.pass)))
	}
	return redactor{values: vals}
}

func (r redactor) wrap(err error) error {
	if err == nil || len(r.values) == 0 {
		return err
	}
	msg := err.Error()
	for _, v := range r.values {
		msg = strings.ReplaceAll(msg, v, "[redacted]")
		msg = strings.ReplaceAll(msg, url.QueryEscape(v), "[redacted]")
	}
	return &redactedError{msg: msg, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }

func (e *redactedError) Unwrap() error { return e.err }
