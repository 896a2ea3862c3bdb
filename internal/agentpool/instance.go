// Package agentpool implements the Agent Pool (SPEC_FULL.md §4.E): bounded
// concurrency per agent name, a warm pool of pre-created instances, health
// self-checks, and retirement after a configured number of uses or age.
package agentpool

import "context"

// Instance is one leasable agent backend. Agents are whatever the
// Orchestrator dispatches work to (an LLM-backed sub-agent, a deterministic
// tool-calling loop, etc); the pool only cares about lifecycle.
type Instance interface {
	// HealthCheck reports whether the instance is still fit to serve a lease.
	// A pool treats an error as a signal to retire and replace the instance.
	HealthCheck(ctx context.Context) error
	// Close releases any resources (connections, subprocesses) held by the instance.
	Close() error
}

// Factory creates a new Instance for the named agent. Pools call this both
// eagerly (warm pool fill) and lazily (on a Lease that finds no idle instance).
type Factory func(ctx context.Context, agentName string) (Instance, error)
