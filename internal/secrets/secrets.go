// Package secrets resolves the named credentials that extraction schemas
// reference through {{secret:NAME}} placeholders.
package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/JakeFAU/jobcrawler/internal/crawler"
)

// Static serves secrets from a fixed map.
type Static map[string]string

// Lookup implements crawler.SecretLookup.
func (s Static) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := s[name]
	return v, ok && v != "", nil
}

// Env reads secrets from environment variables named Prefix + NAME, with
// the name upper-cased and '.' and '-' replaced by '_'.
type Env struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnv builds an Env lookup.
func NewEnv(prefix string) *Env {
	return &Env{Prefix: prefix, lookup: os.LookupEnv}
}

var envName = strings.NewReplacer(".", "_", "-", "_")

// Lookup implements crawler.SecretLookup.
func (e *Env) Lookup(_ context.Context, name string) (string, bool, error) {
	v, ok := e.lookup(e.Prefix + strings.ToUpper(envName.Replace(name)))
	return v, ok && v != "", nil
}

// LoadFile reads a flat YAML mapping of secret names to values.
func LoadFile(path string) (Static, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read secrets file: %w", err)
	}
	var values map[string]string
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return nil, fmt.Errorf("parse secrets file %s: %w", path, err)
	}
	if values == nil {
		values = map[string]string{}
	}
	return Static(values), nil
}

// Chain consults each lookup in order and returns the first hit.
type Chain []crawler.SecretLookup

// Lookup implements crawler.SecretLookup.
func (c Chain) Lookup(ctx context.Context, name string) (string, bool, error) {
	for _, l := range c {
		if l == nil {
			continue
		}
		v, ok, err := l.Lookup(ctx, name)
		if err != nil {
			return "", false, fmt.Errorf("lookup %s: %w", name, err)
		}
		if ok {
			return v, true, nil
		}
	}
	return "", false, nil
}
