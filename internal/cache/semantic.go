package cache

import (
	"math"
	"sync"
	"time"

	"github.com/tarsy-labs/agentrun/internal/config"
)

// semanticEntry is one cached (embedding, response) pair.
type semanticEntry struct {
	embedding []float32
	response  string
	expiresAt time.Time
	touchedAt time.Time
}

// L2SemanticCache is the L2 layer of §4.J: key = embedding, returns the
// nearest cached response if cosine similarity is >= threshold. Unlike the
// exact-key layers this has no Redis-backed variant (see DESIGN.md): a
// nearest-neighbor scan over a remote key/value store gives up the property
// that makes Redis attractive here (O(1) lookup), so it stays in-process.
type L2SemanticCache struct {
	mu        sync.Mutex
	enabled   bool
	capacity  int
	ttl       time.Duration
	threshold float64
	entries   []*semanticEntry
	stats     Stats
}

func NewL2SemanticCache(cfg config.CacheLayerConfig) *L2SemanticCache {
	return &L2SemanticCache{
		enabled:   cfg.Enabled,
		capacity:  cfg.Capacity,
		ttl:       cfg.TTL,
		threshold: cfg.Threshold,
	}
}

// Enabled reports whether the layer is active; callers use it to skip the
// query-embedding call a disabled layer would make pointless.
func (c *L2SemanticCache) Enabled() bool { return c != nil && c.enabled }

// Get returns the response of the nearest cached embedding whose cosine
// similarity to query is >= the configured threshold, or ("", false).
func (c *L2SemanticCache) Get(query []float32) (string, bool) {
	if !c.enabled {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	var best *semanticEntry
	bestSim := -1.0
	live := c.entries[:0]
	for _, e := range c.entries {
		if now.After(e.expiresAt) {
			c.stats.Evictions++
			continue
		}
		live = append(live, e)
		sim := cosineSimilarity(query, e.embedding)
		if sim > bestSim {
			bestSim = sim
			best = e
		}
	}
	c.entries = live

	if best == nil || bestSim < c.threshold {
		c.stats.Misses++
		return "", false
	}
	best.touchedAt = now
	c.stats.Hits++
	return best.response, true
}

// Set stores a (query embedding, response) pair, evicting the least
// recently touched entry if capacity is exceeded.
func (c *L2SemanticCache) Set(query []float32, response string) {
	if !c.enabled {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.entries = append(c.entries, &semanticEntry{
		embedding: query,
		response:  response,
		expiresAt: now.Add(c.ttl),
		touchedAt: now,
	})

	if c.capacity > 0 {
		for len(c.entries) > c.capacity {
			c.evictLRU()
		}
	}
}

func (c *L2SemanticCache) evictLRU() {
	oldest := 0
	for i, e := range c.entries {
		if e.touchedAt.Before(c.entries[oldest].touchedAt) {
			oldest = i
		}
	}
	c.entries = append(c.entries[:oldest], c.entries[oldest+1:]...)
	c.stats.Evictions++
}

func (c *L2SemanticCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.Size = len(c.entries)
	return s
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
