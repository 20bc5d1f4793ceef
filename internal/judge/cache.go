package judge

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/oaguiar/incmatch/internal/repository"
)

// Cache is an in-memory TTL cache of assessments keyed by content hash, so
// re-running a match against unchanged data skips the LLM entirely.
// For multi-instance deployments, consider Redis instead.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	done    chan struct{}
}

type cacheEntry struct {
	assessment Assessment
	storedAt   time.Time
}

// NewCache creates an assessment cache with the given TTL and starts its
// cleanup goroutine. Close releases it.
func NewCache(ttl time.Duration) *Cache {
	c := &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		done:    make(chan struct{}),
	}
	go c.cleanupLoop()
	return c
}

// DefaultCache creates a cache with a 1 hour TTL.
func DefaultCache() *Cache {
	return NewCache(1 * time.Hour)
}

// Key derives a cache key from everything that influences the verdict: the
// model and the full content of both sides of the comparison.
func Key(model string, incentive repository.Incentive, company repository.Company) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00",
		model, incentive.ID, incentive.Title, incentive.Description, incentive.Criteria.GeoScope)
	fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00%s\x00%s",
		company.ID, company.Name, company.Description, company.District,
		string(company.Size), strings.Join(company.CAECodes, ","))
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns a cached assessment if present and not expired.
func (c *Cache) Get(key string) (Assessment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storedAt) > c.ttl {
		return Assessment{}, false
	}
	return entry.assessment, true
}

// Put stores an assessment.
func (c *Cache) Put(key string, assessment Assessment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry{assessment: assessment, storedAt: time.Now()}
}

// Len returns the number of entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the cleanup goroutine.
func (c *Cache) Close() {
	close(c.done)
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.cleanup()
		}
	}
}

func (c *Cache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	for key, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, key)
		}
	}
}
