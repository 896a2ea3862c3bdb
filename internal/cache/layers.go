package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
)

// ExactCache is a disableable, JSON-valued exact-key cache: the shape shared
// by L1 (normalized prompt+params) and the retrieval cache ({corpus,
// normalized query, filters}). Construction from CacheLayerConfig decides
// the backend (memory vs redis) and whether Get/Set are no-ops.
type ExactCache struct {
	enabled bool
	ttl     time.Duration
	backend Backend
}

func NewExactCache(cfg config.CacheLayerConfig, namespace string) *ExactCache {
	if !cfg.Enabled {
		return &ExactCache{enabled: false}
	}
	var backend Backend
	if cfg.Backend == "redis" {
		backend = NewRedisBackend("", namespace) // addr wired by caller via WithRedisAddr
	} else {
		backend = NewMemoryBackend(cfg.Capacity)
	}
	return &ExactCache{enabled: true, ttl: cfg.TTL, backend: backend}
}

// WithRedisAddr swaps in a live-addressed Redis backend; called by the
// wiring code in cmd/agentrund once cfg.Cache.RedisAddr is known, since
// CacheLayerConfig itself does not carry the shared address.
func (c *ExactCache) WithRedisAddr(addr, namespace string) *ExactCache {
	if c.enabled && addr != "" {
		if _, ok := c.backend.(*RedisBackend); ok {
			c.backend = NewRedisBackend(addr, namespace)
		}
	}
	return c
}

// Get decodes a cached JSON value into dst. It reports false when the layer
// is disabled, the key is absent, or the stored value cannot be decoded as
// dst's type (a decode failure is treated as a cache miss, never an error).
func (c *ExactCache) Get(ctx context.Context, key string, dst any) bool {
	if !c.enabled {
		return false
	}
	raw, ok := c.backend.Get(ctx, key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false
	}
	return true
}

// Set stores v as JSON under key. A marshal failure is swallowed: caching is
// advisory and must never fail the caller's request.
func (c *ExactCache) Set(ctx context.Context, key string, v any) {
	if !c.enabled {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	c.backend.Set(ctx, key, raw, c.ttl)
}

// EmbeddingCache is the embedding layer of §4.J: keyed by normalized text +
// model id, large capacity, LRU. It wraps the same ExactCache shape since an
// embedding vector is just another JSON-able value.
type EmbeddingCache struct{ *ExactCache }

func NewEmbeddingCache(cfg config.CacheLayerConfig) *EmbeddingCache {
	return &EmbeddingCache{NewExactCache(cfg, "agentrun:cache:embedding")}
}

func (c *EmbeddingCache) Key(text, model string) string { return NormalizeKey(text, model) }

func (c *EmbeddingCache) Get(ctx context.Context, text, model string) ([]float32, bool) {
	var v []float32
	if c.ExactCache.Get(ctx, c.Key(text, model), &v) {
		return v, true
	}
	return nil, false
}

func (c *EmbeddingCache) Set(ctx context.Context, text, model string, vec []float32) {
	c.ExactCache.Set(ctx, c.Key(text, model), vec)
}

// CachingEmbedder wraps a modelprovider.Provider so repeated Embed calls for
// the same (text, model) hit the embedding cache instead of the network.
type CachingEmbedder struct {
	modelprovider.Provider
	cache *EmbeddingCache
	model string
}

func NewCachingEmbedder(p modelprovider.Provider, cache *EmbeddingCache, model string) *CachingEmbedder {
	return &CachingEmbedder{Provider: p, cache: cache, model: model}
}

func (c *CachingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string
	for i, t := range texts {
		if v, ok := c.cache.Get(ctx, t, c.model); ok {
			out[i] = v
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, t)
	}
	if len(missTexts) == 0 {
		return out, nil
	}
	fetched, err := c.Provider.Embed(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(fetched) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d inputs", len(fetched), len(missTexts))
	}
	for j, idx := range missIdx {
		out[idx] = fetched[j]
		c.cache.Set(ctx, missTexts[j], c.model, fetched[j])
	}
	return out, nil
}

// RetrievalCache is the retrieval layer of §4.J: keyed by {corpus, normalized
// query, filters}.
type RetrievalCache struct{ *ExactCache }

func NewRetrievalCache(cfg config.CacheLayerConfig) *RetrievalCache {
	return &RetrievalCache{NewExactCache(cfg, "agentrun:cache:retrieval")}
}

func (c *RetrievalCache) Key(corpus, query, filterKey string) string {
	return NormalizeKey(corpus, query, filterKey)
}

// L1Cache is the L1 exact layer: key = normalized prompt+params.
type L1Cache struct{ *ExactCache }

func NewL1Cache(cfg config.CacheLayerConfig) *L1Cache {
	return &L1Cache{NewExactCache(cfg, "agentrun:cache:l1")}
}

func (c *L1Cache) Key(prompt string, params modelprovider.Params) string {
	b, _ := json.Marshal(params)
	return NormalizeKey(prompt, string(b))
}
