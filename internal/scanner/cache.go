package scanner

import (
	"os"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zeebo/xxh3"

	"github.com/lorawan-replay/replay-server/internal/models"
)

// Cache keeps scan summaries keyed by file identity (path + content
// hash). Entries self-invalidate when the content hash changes. The
// cache is in-process only; multi-worker deployments need a shared
// store behind the same interface.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	hash    uint64
	summary *models.ScanSummary
}

// NewCache returns an empty cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]cacheEntry)}
}

// Get returns the cached summary for path if the content still
// matches, recomputing the hash on every call.
func (c *Cache) Get(path string) (*models.ScanSummary, bool) {
	hash, err := hashFile(path)
	if err != nil {
		return nil, false
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[path]
	if !ok || entry.hash != hash {
		return nil, false
	}
	return entry.summary, true
}

// Put stores a summary under the file's current content hash
func (c *Cache) Put(path string, summary *models.ScanSummary) {
	hash, err := hashFile(path)
	if err != nil {
		log.Warn().Err(err).Str("path", path).Msg("scan cache: cannot hash file")
		return
	}

	c.mu.Lock()
	c.entries[path] = cacheEntry{hash: hash, summary: summary}
	c.mu.Unlock()
}

// Invalidate drops the entry for path
func (c *Cache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func hashFile(path string) (uint64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return xxh3.Hash(data), nil
}
