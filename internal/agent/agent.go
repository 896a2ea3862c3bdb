// Package agent defines the specialized worker abstraction the Agent Pool
// leases and the Plan Executor dispatches steps to (SPEC_FULL.md §3 Agent
// Descriptor, §4.E, §9 "class-inheritance agents"). Agents are modeled as an
// interface-typed worker plus tagged variants per specialization; shared
// behavior lives in baseAgent helpers, not a base class the variants extend.
package agent

import (
	"context"
	"time"

	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// Capability tags the kind of work a Worker variant is suited for. These are
// the domains referenced by Agent Descriptor.capabilities in SPEC_FULL.md §3.
type Capability string

const (
	CapabilityAnalysis  Capability = "analysis"
	CapabilityResearch  Capability = "research"
	CapabilitySynthesis Capability = "synthesis"
	CapabilityCode      Capability = "code"
	CapabilityData      Capability = "data"
	CapabilityWriting   Capability = "writing"
	CapabilityToolUse   Capability = "tool_use"
)

// Descriptor is the immutable, post-registration Agent Descriptor
// (SPEC_FULL.md §3). It is produced once at registration and never mutated.
type Descriptor struct {
	Name          string
	Capabilities  map[Capability]bool
	Tools         []string
	ModelPref     string
	Warmup        bool
	MaxConcurrent int
}

// StepDeps bundles the shared collaborators a Worker needs to execute one
// Step: the model provider for its model calls and the tool registry for any
// declared ToolName. Agents never reach past this bundle to global state.
// A non-nil OnDelta switches the model call to the streaming path and is
// invoked once per generated chunk; the Plan Executor sets it for the plan's
// final step so partial content reaches subscribers as it is produced.
type StepDeps struct {
	Provider modelprovider.Provider
	Tools    *toolregistry.Registry
	OnDelta  func(delta string)
}

// StepOutput is what a Worker produces for one Step, before the Plan
// Executor wraps it into a plan.StepResult with timing.
type StepOutput struct {
	Text      string
	TokensIn  int
	TokensOut int
	ToolCalls []plan.ToolCall
}

// Worker is the interface the Agent Pool leases and the Plan Executor
// dispatches to. It replaces the source's class-inheritance agent hierarchy:
// every specialization (writer, researcher, synthesizer, coder, data,
// analyst) satisfies the same interface; the Agent Pool never sees a
// concrete type.
type Worker interface {
	// Name is the registered agent name this worker instance serves.
	Name() string
	// HandleStep executes one plan.Step and returns its text output. The
	// caller (the Plan Executor) classifies a returned error by its
	// runerr.Kind; an error that carries no Kind counts as internal.
	HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error)
	// HealthCheck and Close satisfy agentpool.Instance so a Worker can be
	// leased directly from the pool.
	HealthCheck(ctx context.Context) error
	Close() error
}

// stepTimeout is a small helper every variant uses to bound its model call by
// the step's declared timeout, falling back to a conservative default when
// unset (a zero step.TimeoutMs should never happen past config validation,
// but a defensive default keeps a misconfigured step from hanging forever).
func stepTimeout(step plan.Step) time.Duration {
	if step.TimeoutMs > 0 {
		return step.Timeout()
	}
	return 10 * time.Second
}
