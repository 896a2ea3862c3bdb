package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

func echoTool() (Descriptor, Implementation) {
	desc := Descriptor{
		Name:        "web_search.search",
		Description: "search the web",
		Schema:      Schema{"query": {Type: "string", Required: true}},
		Timeout:     50 * time.Millisecond,
		Idempotent:  true,
		SideEffects: SideEffectRead,
	}
	impl := func(ctx context.Context, params map[string]any) (any, error) {
		return params["query"], nil
	}
	return desc, impl
}

func TestRegister_RejectsDuplicateName(t *testing.T) {
	r := New()
	desc, impl := echoTool()
	require.NoError(t, r.Register(desc, impl))

	err := r.Register(desc, impl)
	require.Error(t, err)
	assert.Equal(t, runerr.KindInvalidInput, runerr.KindOf(err))
	assert.Len(t, r.Names(), 1)
}

func TestRegister_RejectsInvalidName(t *testing.T) {
	r := New()
	desc, impl := echoTool()
	desc.Name = "not a valid name"
	err := r.Register(desc, impl)
	require.Error(t, err)
}

func TestInvoke_RejectsParamsViolatingSchema(t *testing.T) {
	r := New()
	desc, impl := echoTool()
	called := false
	wrapped := func(ctx context.Context, params map[string]any) (any, error) {
		called = true
		return impl(ctx, params)
	}
	require.NoError(t, r.Register(desc, wrapped))

	res := r.Invoke(context.Background(), desc.Name, map[string]any{})
	require.Error(t, res.Error)
	assert.Equal(t, runerr.KindInvalidInput, runerr.KindOf(res.Error))
	assert.False(t, called, "implementation must not be called when schema validation fails")
}

func TestInvoke_EnforcesTimeoutAndFallsBack(t *testing.T) {
	r := New()
	slow := Descriptor{
		Name:        "slow.do",
		Schema:      Schema{},
		Timeout:     10 * time.Millisecond,
		Fallback:    "fast.do",
		SideEffects: SideEffectRead,
	}
	fast := Descriptor{
		Name:        "fast.do",
		Schema:      Schema{},
		Timeout:     time.Second,
		SideEffects: SideEffectRead,
	}
	require.NoError(t, r.Register(fast, func(ctx context.Context, params map[string]any) (any, error) {
		return "fallback result", nil
	}))
	require.NoError(t, r.Register(slow, func(ctx context.Context, params map[string]any) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}))

	res := r.Invoke(context.Background(), "slow.do", map[string]any{})
	require.NoError(t, res.Error)
	assert.Equal(t, "fallback result", res.Value)
}

func TestInvoke_RecoversPanicAsInternal(t *testing.T) {
	r := New()
	desc := Descriptor{Name: "boom.do", Schema: Schema{}, Timeout: time.Second}
	require.NoError(t, r.Register(desc, func(ctx context.Context, params map[string]any) (any, error) {
		panic("kaboom")
	}))

	res := r.Invoke(context.Background(), "boom.do", map[string]any{})
	require.Error(t, res.Error)
	var rerr *runerr.Error
	require.True(t, errors.As(res.Error, &rerr))
}
