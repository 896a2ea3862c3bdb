// Package toolregistry implements the Tool Registry (SPEC_FULL.md §4.D):
// registration, description, schema-validated invocation with timeouts and
// declared fallbacks.
package toolregistry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

// SideEffect classifies what invoking a tool can do to the world, for
// observability and for retry eligibility (idempotent tools may be retried
// by upstream callers on upstreamError).
type SideEffect string

const (
	SideEffectNone  SideEffect = "none"
	SideEffectRead  SideEffect = "read"
	SideEffectWrite SideEffect = "write"
)

// ParamSpec is a minimal JSON-schema-equivalent constraint on one parameter.
// The registry does not depend on a full JSON Schema implementation; it
// validates the handful of constraints tool authors actually declare.
type ParamSpec struct {
	Type     string // "string" | "number" | "boolean" | "object" | "array"
	Required bool
}

// Schema is a declared tool's parameter schema: field name to constraint.
type Schema map[string]ParamSpec

// Validate checks params (a decoded JSON object) against s.
func (s Schema) Validate(params map[string]any) error {
	for name, spec := range s {
		v, present := params[name]
		if !present {
			if spec.Required {
				return fmt.Errorf("missing required parameter %q", name)
			}
			continue
		}
		if !typeMatches(spec.Type, v) {
			return fmt.Errorf("parameter %q: expected %s", name, spec.Type)
		}
	}
	return nil
}

func typeMatches(expected string, v any) bool {
	switch expected {
	case "", "any":
		return true
	case "string":
		_, ok := v.(string)
		return ok
	case "number":
		_, ok := v.(float64)
		return ok
	case "boolean":
		_, ok := v.(bool)
		return ok
	case "object":
		_, ok := v.(map[string]any)
		return ok
	case "array":
		_, ok := v.([]any)
		return ok
	default:
		return true
	}
}

// Descriptor is the immutable, post-registration description of a tool
// (SPEC_FULL.md §3 Tool Descriptor).
type Descriptor struct {
	Name        string
	Description string
	Schema      Schema
	Timeout     time.Duration
	Fallback    string
	Idempotent  bool
	SideEffects SideEffect
}

// Implementation is the actual invocable behavior behind a Descriptor.
type Implementation func(ctx context.Context, params map[string]any) (any, error)

type entry struct {
	desc Descriptor
	impl Implementation
}

// Registry is the thread-safe store of registered tools.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
}

func New() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a tool. It rejects a duplicate name or an invalid schema
// without any side effect (testable property in SPEC_FULL.md §8.5).
func (r *Registry) Register(desc Descriptor, impl Implementation) error {
	if !ValidName(desc.Name) {
		return runerr.InvalidInput(fmt.Sprintf("invalid tool name %q", desc.Name), nil)
	}
	if impl == nil {
		return runerr.InvalidInput("tool implementation is required", nil)
	}
	for field, spec := range desc.Schema {
		switch spec.Type {
		case "", "any", "string", "number", "boolean", "object", "array":
		default:
			return runerr.InvalidInput(fmt.Sprintf("tool %q: parameter %q has unknown type %q", desc.Name, field, spec.Type), nil)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[desc.Name]; exists {
		return runerr.InvalidInput(fmt.Sprintf("tool %q already registered", desc.Name), nil)
	}
	if desc.Fallback != "" {
		if _, ok := r.entries[desc.Fallback]; !ok {
			return runerr.InvalidInput(fmt.Sprintf("fallback %q is not registered", desc.Fallback), nil)
		}
	}
	r.entries[desc.Name] = entry{desc: desc, impl: impl}
	return nil
}

// Describe returns the descriptor for planners and docs.
func (r *Registry) Describe(name string) (Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.desc, ok
}

// Names lists every registered tool name.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// Result is the structured envelope every invocation returns.
type Result struct {
	OK    bool
	Value any
	Error error
}

// Invoke validates params against the declared schema, enforces the declared
// timeout, and on a timeout, upstream or provider error invokes the declared
// fallback (if any); other errors, including a recovered panic, are returned
// without trying the fallback.
// It never calls impl when schema validation fails.
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]any) Result {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return Result{Error: runerr.InvalidInput(fmt.Sprintf("tool %q not registered", name), nil)}
	}

	if err := e.desc.Schema.Validate(params); err != nil {
		return Result{Error: runerr.InvalidInput(err.Error(), nil)}
	}

	res := r.invokeOne(ctx, e, params)
	if res.Error == nil {
		return res
	}

	kind := runerr.KindOf(res.Error)
	if e.desc.Fallback != "" && (kind == runerr.KindTimeout || kind == runerr.KindUpstreamError || kind == runerr.KindProviderError) {
		r.mu.RLock()
		fb, fbOK := r.entries[e.desc.Fallback]
		r.mu.RUnlock()
		if fbOK {
			return r.invokeOne(ctx, fb, params)
		}
	}
	return res
}

func (r *Registry) invokeOne(ctx context.Context, e entry, params map[string]any) Result {
	callCtx, cancel := context.WithTimeout(ctx, e.desc.Timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome{err: runerr.Internal(fmt.Sprintf("tool %s panicked: %v", e.desc.Name, p), nil)}
			}
		}()
		v, err := e.impl(callCtx, params)
		done <- outcome{value: v, err: err}
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{Error: classifyToolErr(o.err)}
		}
		return Result{OK: true, Value: o.value}
	case <-callCtx.Done():
		return Result{Error: runerr.Timeout(fmt.Sprintf("tool %s timed out after %s", e.desc.Name, e.desc.Timeout), callCtx.Err())}
	}
}

func classifyToolErr(err error) error {
	if runerr.KindOf(err) != runerr.KindInternal {
		return err
	}
	return runerr.UpstreamError("tool invocation failed", err)
}

// DecodeParams is a convenience for callers holding raw JSON step inputs.
func DecodeParams(raw json.RawMessage) (map[string]any, error) {
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, runerr.InvalidInput("malformed tool params", err)
	}
	return m, nil
}
