package resilient

import (
	"bytes"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultResponseCacheSize bounds the number of cached responses.
const DefaultResponseCacheSize = 1024

// responseCache keeps successful GET responses for a fixed TTL.
type responseCache struct {
	lru *expirable.LRU[string, *Response]
}

func newResponseCache(size int, ttl time.Duration) *responseCache {
	if size <= 0 {
		size = DefaultResponseCacheSize
	}
	return &responseCache{
		lru: expirable.NewLRU[string, *Response](size, nil, ttl),
	}
}

func cacheKey(method, target string) string {
	return method + " " + target
}

// get returns a copy of the cached response marked FromCache.
func (c *responseCache) get(key string) (*Response, bool) {
	cached, hit := c.lru.Get(key)
	if !hit {
		return nil, false
	}
	out := cached.clone()
	out.FromCache = true
	out.Attempts = 0
	return out, true
}

func (c *responseCache) put(key string, resp *Response) {
	c.lru.Add(key, resp.clone())
}

func (c *responseCache) purge() {
	c.lru.Purge()
}

func (r *Response) clone() *Response {
	return &Response{
		StatusCode: r.StatusCode,
		Header:     r.Header.Clone(),
		Body:       bytes.Clone(r.Body),
		Attempts:   r.Attempts,
		FromCache:  r.FromCache,
	}
}
