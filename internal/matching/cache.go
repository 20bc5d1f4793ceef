package matching

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/oaguiar/incmatch/internal/eligibility"
)

// resultCache memoizes ranked results per (incentive, snapshot, params). It
// is an optimization only: entries are immutable copies and expire on TTL,
// and a snapshot change produces a different key.
type resultCache struct {
	mu      sync.RWMutex
	entries map[string]resultEntry
	ttl     time.Duration
}

type resultEntry struct {
	matches  []Match
	storedAt time.Time
}

func newResultCache(ttl time.Duration) *resultCache {
	return &resultCache{
		entries: make(map[string]resultEntry),
		ttl:     ttl,
	}
}

// cacheKey derives the memoization key from everything that influences the
// result: the incentive, the population snapshot, and the resolved params.
func cacheKey(incentiveID, snapshotID string, p Params) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%s\x00%d\x00%d\x00%d\x00%.6f\x00%t\x00",
		incentiveID, snapshotID, p.TopK, p.ShortlistSize, p.RerankPoolSize, p.BudgetLimit, p.semanticEnabled())
	fmt.Fprintf(h, "%.6f\x00%.6f\x00%.6f\x00", p.Weights.Vector, p.Weights.Lexical, p.Weights.Semantic)

	penalties := eligibility.DefaultPenalties()
	if p.PenaltyOverrides != nil {
		penalties = *p.PenaltyOverrides
	}
	fmt.Fprintf(h, "%.6f\x00%.6f\x00%.6f", penalties.Size, penalties.Sector, penalties.Geo)

	return hex.EncodeToString(h.Sum(nil))
}

func (c *resultCache) get(key string) ([]Match, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.entries[key]
	if !ok || time.Since(entry.storedAt) > c.ttl {
		return nil, false
	}

	matches := make([]Match, len(entry.matches))
	copy(matches, entry.matches)
	return matches, true
}

func (c *resultCache) put(key string, matches []Match) {
	stored := make([]Match, len(matches))
	copy(stored, matches)

	c.mu.Lock()
	defer c.mu.Unlock()

	// Opportunistic expiry sweep to keep the map from growing unbounded.
	now := time.Now()
	for k, entry := range c.entries {
		if now.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = resultEntry{matches: stored, storedAt: now}
}
