// Package extract interprets the versioned JSON extraction schema attached
// to API sources: secret resolution, auth injection, pagination, incremental
// "since" filters, path-based field mapping and per-field transforms.
package extract

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// SchemaVersion is the only schema version this engine understands.
const SchemaVersion = 1

// DefaultMaxPages bounds pagination when a schema does not set max_pages.
const DefaultMaxPages = 10

// AuthType selects how credentials are attached to requests.
type AuthType string

// Auth variants.
const (
	AuthNone   AuthType = "none"
	AuthQuery  AuthType = "query"
	AuthBearer AuthType = "bearer"
	AuthHeader AuthType = "header"
	AuthBasic  AuthType = "basic"
)

// PaginationType selects how successive pages are requested.
type PaginationType string

// Pagination variants.
const (
	PaginateNone   PaginationType = "none"
	PaginateOffset PaginationType = "offset"
	PaginatePage   PaginationType = "page"
	PaginateCursor PaginationType = "cursor"
)

// Placement of injected parameters.
const (
	InQuery = "query"
	InBody  = "body"
)

// Schema is a parsed version-1 extraction schema.
type Schema struct {
	Version      int                    `json:"version"`
	BaseURL      string                 `json:"base_url"`
	Path         string                 `json:"path"`
	Method       string                 `json:"method"`
	Headers      map[string]string      `json:"headers,omitempty"`
	Query        map[string]any         `json:"query,omitempty"`
	Body         map[string]any         `json:"body,omitempty"`
	Auth         Auth                   `json:"auth"`
	Pagination   Pagination             `json:"pagination"`
	Since        *Since                 `json:"since,omitempty"`
	DataPath     string                 `json:"data_path"`
	Map          map[string]string      `json:"map"`
	Transforms   map[string][]Transform `json:"transforms,omitempty"`
	SuccessCodes []int                  `json:"success_codes,omitempty"`

	dataPath   string
	fieldPaths map[string]string
	cursorPath string
}

// Auth is one of the closed set of auth variants.
type Auth struct {
	Type       AuthType `json:"type"`
	QueryName  string   `json:"query_name,omitempty"`
	HeaderName string   `json:"header_name,omitempty"`
	Token      Value    `json:"token,omitempty"`
	User       Value    `json:"user,omitempty"`
	Pass       Value    `json:"pass,omitempty"`
}

// Pagination is one of the closed set of pagination variants.
type Pagination struct {
	Type        PaginationType `json:"type"`
	OffsetParam string         `json:"offset_param,omitempty"`
	LimitParam  string         `json:"limit_param,omitempty"`
	PageParam   string         `json:"page_param,omitempty"`
	CursorParam string         `json:"cursor_param,omitempty"`
	CursorPath  string         `json:"cursor_path,omitempty"`
	PageSize    int            `json:"page_size,omitempty"`
	MaxPages    int            `json:"max_pages,omitempty"`
	StartPage   int            `json:"start_page,omitempty"`
	UntilEmpty  bool           `json:"until_empty,omitempty"`
	In          string         `json:"in,omitempty"`
}

// Since injects an incremental "modified since" filter.
type Since struct {
	Param string `json:"param"`
	In    string `json:"in,omitempty"`
	// Format is "date", "datetime", "unix", "unix_ms" or a Go time layout.
	Format string `json:"format,omitempty"`
	// Operator, when set, renders the filter as param[op]=value (query) or
	// {"param": {"op": value}} (body).
	Operator     string `json:"operator,omitempty"`
	FallbackDays int    `json:"fallback_days,omitempty"`
}

// Transform is one step of a per-field transform chain.
type Transform struct {
	Op     string            `json:"op"`
	Sep    string            `json:"sep,omitempty"`
	Value  any               `json:"value,omitempty"`
	Table  map[string]string `json:"table,omitempty"`
	Format string            `json:"format,omitempty"`
}

// ParseSchema decodes and validates a schema document.
func ParseSchema(raw string) (*Schema, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, crawler.InvalidSchema("api sources require a version %d schema", SchemaVersion)
	}
	var header struct {
		Version *int `json:"version"`
	}
	if err := json.Unmarshal([]byte(raw), &header); err != nil {
		return nil, crawler.InvalidSchema("schema is not a JSON object: %v", err)
	}
	if header.Version == nil || *header.Version != SchemaVersion {
		return nil, crawler.InvalidSchema("expected schema version %d", SchemaVersion)
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	var s Schema
	if err := dec.Decode(&s); err != nil {
		return nil, crawler.InvalidSchema("decode schema: %v", err)
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Schema) validate() error {
	base, err := url.Parse(s.BaseURL)
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return crawler.InvalidSchema("base_url must be an absolute http(s) URL")
	}
	s.Method = strings.ToUpper(strings.TrimSpace(s.Method))
	switch s.Method {
	case "":
		s.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return crawler.InvalidSchema("method must be GET or POST, got %q", s.Method)
	}
	if len(s.Body) > 0 && s.Method != http.MethodPost {
		return crawler.InvalidSchema("body is only allowed with POST")
	}
	if err := s.Auth.validate(); err != nil {
		return err
	}
	if err := s.validatePagination(); err != nil {
		return err
	}
	if s.Since != nil {
		if strings.TrimSpace(s.Since.Param) == "" {
			return crawler.InvalidSchema("since.param is required")
		}
		if s.Since.In, err = placement(s.Since.In, s.Method, "since.in"); err != nil {
			return err
		}
		if s.Since.FallbackDays < 0 {
			return crawler.InvalidSchema("since.fallback_days must be >= 0")
		}
	}
	if s.dataPath, err = compilePath(s.DataPath); err != nil {
		return crawler.InvalidSchema("data_path: %v", err)
	}
	if len(s.Map) == 0 {
		return crawler.InvalidSchema("map must name at least the title and url fields")
	}
	for _, required := range []string{crawler.FieldTitle, crawler.FieldURL} {
		if _, ok := s.Map[required]; !ok {
			return crawler.InvalidSchema("map is missing required field %q", required)
		}
	}
	s.fieldPaths = make(map[string]string, len(s.Map))
	for field, expr := range s.Map {
		compiled, err := compilePath(expr)
		if err != nil || compiled == "" {
			return crawler.InvalidSchema("map.%s: invalid path %q", field, expr)
		}
		s.fieldPaths[field] = compiled
	}
	for field, chain := range s.Transforms {
		if _, ok := s.Map[field]; !ok {
			return crawler.InvalidSchema("transforms.%s has no matching map entry", field)
		}
		for i, t := range chain {
			if err := t.validate(); err != nil {
				return crawler.InvalidSchema("transforms.%s[%d]: %v", field, i, err)
			}
		}
	}
	if len(s.SuccessCodes) == 0 {
		s.SuccessCodes = []int{http.StatusOK}
	}
	for _, code := range s.SuccessCodes {
		if code < 100 || code > 599 {
			return crawler.InvalidSchema("success_codes contains invalid status %d", code)
		}
	}
	return nil
}

func (a *Auth) validate() error {
	if a.Type == "" {
		a.Type = AuthNone
	}
	switch a.Type {
	case AuthNone:
		return nil
	case AuthQuery:
		if a.QueryName == "" || a.Token.IsZero() {
			return crawler.InvalidSchema("auth type query needs query_name and token")
		}
	case AuthBearer:
		if a.Token.IsZero() {
			return crawler.InvalidSchema("auth type bearer needs token")
		}
	case AuthHeader:
		if a.HeaderName == "" || a.Token.IsZero() {
			return crawler.InvalidSchema("auth type header needs header_name and token")
		}
	case AuthBasic:
		if a.User.IsZero() {
			return crawler.InvalidSchema("auth type basic needs user")
		}
	default:
		return crawler.InvalidSchema("unknown auth type %q", a.Type)
	}
	return nil
}

func (s *Schema) validatePagination() error {
	p := &s.Pagination
	if p.Type == "" {
		p.Type = PaginateNone
	}
	if p.MaxPages < 0 || p.PageSize < 0 {
		return crawler.InvalidSchema("pagination.max_pages and page_size must be >= 0")
	}
	if p.MaxPages == 0 {
		p.MaxPages = DefaultMaxPages
	}
	var err error
	switch p.Type {
	case PaginateNone:
		p.MaxPages = 1
		return nil
	case PaginateOffset:
		if p.OffsetParam == "" || p.PageSize == 0 {
			return crawler.InvalidSchema("offset pagination needs offset_param and page_size")
		}
	case PaginatePage:
		if p.PageParam == "" {
			return crawler.InvalidSchema("page pagination needs page_param")
		}
		if p.StartPage == 0 {
			p.StartPage = 1
		}
	case PaginateCursor:
		if p.CursorParam == "" || p.CursorPath == "" {
			return crawler.InvalidSchema("cursor pagination needs cursor_param and cursor_path")
		}
		if s.cursorPath, err = compilePath(p.CursorPath); err != nil || s.cursorPath == "" {
			return crawler.InvalidSchema("pagination.cursor_path: invalid path %q", p.CursorPath)
		}
	default:
		return crawler.InvalidSchema("unknown pagination type %q", p.Type)
	}
	if p.In, err = placement(p.In, s.Method, "pagination.in"); err != nil {
		return err
	}
	return nil
}

func (t Transform) validate() error {
	switch t.Op {
	case "lowercase", "uppercase", "trim", "first", "date":
		return nil
	case "join":
		return nil
	case "default":
		if t.Value == nil {
			return fmt.Errorf("default needs a value")
		}
		return nil
	case "lookup":
		if len(t.Table) == 0 {
			return fmt.Errorf("lookup needs a table")
		}
		return nil
	default:
		return fmt.Errorf("unknown transform %q", t.Op)
	}
}

func placement(in, method, field string) (string, error) {
	switch in {
	case "":
		return InQuery, nil
	case InQuery:
		return InQuery, nil
	case InBody:
		if method != http.MethodPost {
			return "", crawler.InvalidSchema("%s may only be body for POST schemas", field)
		}
		return InBody, nil
	default:
		return "", crawler.InvalidSchema("%s must be query or body", field)
	}
}

// SecretNames lists every secret the schema references, sorted.
func (s *Schema) SecretNames() []string {
	seen := map[string]struct{}{}
	for _, v := range []Value{s.Auth.Token, s.Auth.User, s.Auth.Pass} {
		if v.IsSecret() {
			seen[v.Secret] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Host is the host requests will be sent to.
func (s *Schema) Host() string {
	return crawler.HostOf(s.BaseURL)
}
