package main

import (
	"sync"
	"time"
)

type cachedContent struct {
	text      string
	fetchedAt time.Time
}

// ContentCache provides thread-safe caching for fetched reference pages
type ContentCache struct {
	mu      sync.RWMutex
	entries map[string]cachedContent
	ttl     time.Duration
}

// NewContentCache creates a new content cache with the specified TTL
func NewContentCache(ttl time.Duration) *ContentCache {
	return &ContentCache{
		entries: make(map[string]cachedContent),
		ttl:     ttl,
	}
}

// Get retrieves the text for url if present and not expired
func (c *ContentCache) Get(url string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[url]
	if !ok {
		return "", false
	}

	if time.Since(entry.fetchedAt) > c.ttl {
		return "", false
	}

	return entry.text, true
}

// Set stores the text fetched for url
func (c *ContentCache) Set(url string, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[url] = cachedContent{
		text:      text,
		fetchedAt: time.Now(),
	}
}

// Clear removes all entries from the cache
func (c *ContentCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]cachedContent)
}

// Prune drops expired entries and returns how many were removed
func (c *ContentCache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for url, entry := range c.entries {
		if time.Since(entry.fetchedAt) > c.ttl {
			delete(c.entries, url)
			removed++
		}
	}
	return removed
}

// Size returns the number of entries in the cache, expired or not
func (c *ContentCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.entries)
}
