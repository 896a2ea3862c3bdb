package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/tarsy-labs/agentrun/internal/config"
)

func TestLRU_EvictsOldestBeyondCapacity(t *testing.T) {
	l := NewLRU(2)
	l.Set("a", []byte("1"), time.Minute)
	l.Set("b", []byte("2"), time.Minute)
	l.Set("c", []byte("3"), time.Minute)

	_, ok := l.Get("a")
	assert.False(t, ok, "a should have been evicted")
	v, ok := l.Get("c")
	assert.True(t, ok)
	assert.Equal(t, []byte("3"), v)
}

func TestLRU_TTLExpires(t *testing.T) {
	l := NewLRU(10)
	l.Set("k", []byte("v"), time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	_, ok := l.Get("k")
	assert.False(t, ok)
}

func TestExactCache_DisabledIsNoOp(t *testing.T) {
	c := NewExactCache(config.CacheLayerConfig{Enabled: false}, "test")
	ctx := context.Background()
	c.Set(ctx, "k", "v")
	var out string
	assert.False(t, c.Get(ctx, "k", &out))
}

func TestExactCache_RoundTrip(t *testing.T) {
	c := NewExactCache(config.CacheLayerConfig{Enabled: true, Capacity: 10, TTL: time.Minute, Backend: "memory"}, "test")
	ctx := context.Background()
	c.Set(ctx, "k", map[string]int{"a": 1})
	var out map[string]int
	require := assert.New(t)
	require.True(c.Get(ctx, "k", &out))
	require.Equal(1, out["a"])
}

func TestL2SemanticCache_ThresholdGate(t *testing.T) {
	c := NewL2SemanticCache(config.CacheLayerConfig{Enabled: true, Capacity: 10, TTL: time.Minute, Threshold: 0.99})
	c.Set([]float32{1, 0, 0}, "cached response")

	_, ok := c.Get([]float32{1, 0, 0})
	assert.True(t, ok)

	_, ok = c.Get([]float32{0, 1, 0})
	assert.False(t, ok, "orthogonal vector must not match")
}
