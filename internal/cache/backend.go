package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is the byte-oriented key/value contract every exact-key layer (L1,
// retrieval, embedding) stores through. Both the in-memory LRU and the
// Redis-backed implementation satisfy it, so a layer can switch backends via
// config.CacheLayerConfig.Backend without the calling code changing.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
}

// memoryBackend adapts *LRU (synchronous, no ctx) to the Backend interface.
type memoryBackend struct{ lru *LRU }

func NewMemoryBackend(capacity int) Backend { return memoryBackend{lru: NewLRU(capacity)} }

func (m memoryBackend) Get(_ context.Context, key string) ([]byte, bool) { return m.lru.Get(key) }
func (m memoryBackend) Set(_ context.Context, key string, value []byte, ttl time.Duration) {
	m.lru.Set(key, value, ttl)
}

// RedisBackend is the multi-replica cache backend (SPEC_FULL.md §11 domain
// stack): a thin wrapper over go-redis, namespaced per layer so L1/retrieval/
// embedding keys never collide in the same Redis instance.
type RedisBackend struct {
	client    *redis.Client
	namespace string
}

// NewRedisBackend connects to addr and scopes every key under namespace
// (e.g. "agentrun:cache:l1").
func NewRedisBackend(addr, namespace string) *RedisBackend {
	return &RedisBackend{
		client:    redis.NewClient(&redis.Options{Addr: addr}),
		namespace: namespace,
	}
}

func (r *RedisBackend) key(k string) string { return r.namespace + ":" + k }

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, bool) {
	val, err := r.client.Get(ctx, r.key(key)).Bytes()
	if err != nil {
		return nil, false
	}
	return val, true
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	r.client.Set(ctx, r.key(key), value, ttl)
}

func (r *RedisBackend) Close() error { return r.client.Close() }

// NormalizeKey collapses an arbitrary cache key (prompt+params, corpus+
// query+filters, text+modelId) into a fixed-width digest, mirroring the
// retrieval pack's routing-cache prompt hashing.
func NormalizeKey(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
