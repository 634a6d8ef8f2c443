package transport

import (
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
)

// validator is the pair of cache validators remembered for one URL.
type validator struct {
	etag         string
	lastModified string
}

func (v validator) empty() bool {
	return v.etag == "" && v.lastModified == ""
}

func (v validator) apply(h http.Header) {
	if v.etag != "" {
		h.Set("If-None-Match", v.etag)
	}
	if v.lastModified != "" {
		h.Set("If-Modified-Since", v.lastModified)
	}
}

// validatorCache keeps ETag/Last-Modified per URL for conditional GETs.
type validatorCache struct {
	store *cache.Cache
}

func newValidatorCache(ttl time.Duration) *validatorCache {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &validatorCache{store: cache.New(ttl, time.Hour)}
}

func (c *validatorCache) get(url string) validator {
	if v, ok := c.store.Get(url); ok {
		if val, ok := v.(validator); ok {
			return val
		}
	}
	return validator{}
}

func (c *validatorCache) remember(url string, h http.Header) {
	v := validator{etag: h.Get("ETag"), lastModified: h.Get("Last-Modified")}
	if v.empty() {
		c.store.Delete(url)
		return
	}
	c.store.SetDefault(url, v)
}

// Forget drops any cached validators for url.
func (c *validatorCache) forget(url string) {
	c.store.Delete(url)
}
