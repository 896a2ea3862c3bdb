// Package planexecutor implements the Plan Executor (SPEC_FULL.md §4.F):
// DAG-ordered step dispatch against the Agent Pool, per-step timeouts
// bounded by the remaining query deadline, retries, and cancellation.
package planexecutor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarsy-labs/agentrun/internal/agent"
	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/runerr"
	"github.com/tarsy-labs/agentrun/internal/streaming"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// tracer emits one span per dispatched step (SPEC_FULL.md §11). See
// orchestrator.tracer for the matching per-stage spans.
var tracer trace.Tracer = otel.Tracer("github.com/tarsy-labs/agentrun/internal/planexecutor")

// Pools resolves the agent pool backing a step's declared agent name. The
// Orchestrator owns pool lifecycle; the executor only ever leases.
type Pools interface {
	Get(name string) (*agentpool.Pool, bool)
}

// Executor runs one plan.Plan to completion against a bounded query
// deadline, leasing agent workers from Pools and publishing progress
// through the Streaming Fabric.
type Executor struct {
	pools    Pools
	tools    *toolregistry.Registry
	provider modelprovider.Provider
	fabric   *streaming.Fabric
	log      *slog.Logger
}

func New(pools Pools, tools *toolregistry.Registry, provider modelprovider.Provider, fabric *streaming.Fabric, log *slog.Logger) *Executor {
	return &Executor{pools: pools, tools: tools, provider: provider, fabric: fabric, log: log}
}

// Outcome is the aggregated result of one plan execution.
type Outcome struct {
	Results        map[string]plan.StepResult
	PartialFailure bool
	Cancelled      bool
}

type nodeState struct {
	step         plan.Step
	remaining    int // unmet dependency count
	done         bool
	attemptsUsed int
}

type completion struct {
	stepID string
	result plan.StepResult
}

// Execute runs p to completion or until deadline/cancel fires. It never
// returns an error for step-level failures (those are carried in the
// Outcome); it returns an error only for a structurally invalid plan
// (runerr.KindInvalidPlan), per SPEC_FULL.md §4.F step 1.
func (e *Executor) Execute(ctx context.Context, queryID string, p plan.Plan, deadline time.Time) (Outcome, error) {
	if err := p.Validate(); err != nil {
		return Outcome{}, runerr.InvalidPlan(err.Error(), err)
	}

	cancelSignal := e.fabric.CancelSignal(queryID)

	nodes := make(map[string]*nodeState, len(p.Steps))
	dependents := make(map[string][]string)
	for _, s := range p.Steps {
		nodes[s.ID] = &nodeState{step: s, remaining: len(s.DependsOn)}
		for _, dep := range s.DependsOn {
			dependents[dep] = append(dependents[dep], s.ID)
		}
	}

	results := make(map[string]plan.StepResult, len(p.Steps))
	var mu sync.Mutex
	var wg sync.WaitGroup
	completions := make(chan completion, len(p.Steps))

	dispatch := func(id string) {
		n := nodes[id]
		step := withDependencyOutputs(n.step, results, &mu)
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := e.runStepWithRetry(ctx, queryID, step, deadline, cancelSignal)
			completions <- completion{stepID: id, result: res}
		}()
	}

	var ready []string
	for id, n := range nodes {
		if n.remaining == 0 {
			ready = append(ready, id)
		}
	}
	for _, id := range ready {
		dispatch(id)
	}
	pending := len(p.Steps)

	outcome := Outcome{Results: results}

loop:
	for pending > 0 {
		select {
		case c := <-completions:
			mu.Lock()
			results[c.stepID] = c.result
			mu.Unlock()
			pending--

			if c.result.Status != plan.StatusOK && nodes[c.stepID].step.Required {
				outcome.PartialFailure = true
			}

			for _, depID := range dependents[c.stepID] {
				n := nodes[depID]
				n.remaining--
				if n.remaining == 0 {
					dispatch(depID)
				}
			}
		case <-cancelSignal:
			outcome.Cancelled = true
			break loop
		case <-ctx.Done():
			outcome.Cancelled = true
			break loop
		case <-time.After(time.Until(deadline)):
			outcome.Cancelled = true
			break loop
		}
	}

	if outcome.Cancelled {
		e.fillCancelled(nodes, results, &mu)
	}

	wg.Wait()
	for len(completions) > 0 {
		c := <-completions
		mu.Lock()
		if _, exists := results[c.stepID]; !exists {
			results[c.stepID] = c.result
		}
		mu.Unlock()
	}

	outcome.Results = results
	return outcome, nil
}

// withDependencyOutputs returns a copy of step whose Inputs carries each
// declared dependency's output, keyed by step id, so a step like a
// synthesis step can see what its upstream research step produced
// (SPEC_FULL.md §5: "a step observes the committed StepResults of its
// declared dependencies before it starts").
func withDependencyOutputs(step plan.Step, results map[string]plan.StepResult, mu *sync.Mutex) plan.Step {
	if len(step.DependsOn) == 0 {
		return step
	}
	mu.Lock()
	defer mu.Unlock()

	inputs := make(map[string]any, len(step.Inputs)+1)
	for k, v := range step.Inputs {
		inputs[k] = v
	}
	deps := make(map[string]string, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		if r, ok := results[dep]; ok {
			deps[dep] = r.Output
		}
	}
	inputs["dependencyOutputs"] = deps
	step.Inputs = inputs
	return step
}

func (e *Executor) fillCancelled(nodes map[string]*nodeState, results map[string]plan.StepResult, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()
	now := time.Now()
	for id, n := range nodes {
		if _, done := results[id]; done {
			continue
		}
		results[id] = plan.StepResult{StepID: id, Status: plan.StatusCancelled, StartedAt: now, EndedAt: now}
		_ = n
	}
}

// runStepWithRetry executes one step, retrying a timed-out or failed attempt
// up to step.Retries, skipping a retry that would start with less than 100ms
// of query deadline remaining (SPEC_FULL.md §5). Every failed attempt is
// retried whatever its error kind: a failure caused by invalid input is
// retried the same way as a transient one.
func (e *Executor) runStepWithRetry(ctx context.Context, queryID string, step plan.Step, deadline time.Time, cancelSignal <-chan struct{}) plan.StepResult {
	var last plan.StepResult
	for attempt := 0; attempt <= step.Retries; attempt++ {
		if attempt > 0 {
			if time.Until(deadline) < 100*time.Millisecond {
				break
			}
		}
		e.fabric.Publish(queryID, streaming.KindStepStarted, map[string]any{"queryId": queryID, "stepId": step.ID, "agent": step.Agent, "toolName": step.ToolName})

		last = e.runStepOnce(ctx, queryID, step, deadline, cancelSignal)

		e.fabric.Publish(queryID, streaming.KindStepEnded, map[string]any{
			"queryId": queryID, "stepId": step.ID, "status": last.Status,
			"ms":       last.EndedAt.Sub(last.StartedAt).Milliseconds(),
			"tokensIn": last.TokensIn, "tokensOut": last.TokensOut,
		})

		if last.Status == plan.StatusOK {
			return last
		}
		if last.Status == plan.StatusCancelled {
			return last
		}
		if !retryableStatus(last) {
			return last
		}
	}
	return last
}

func retryableStatus(r plan.StepResult) bool {
	return r.Status == plan.StatusTimeout || r.Status == plan.StatusFailed
}

// runStepOnce leases an agent, dispatches the step, and converts whatever
// happens into a terminal StepResult. The effective timeout is
// min(step.timeoutMs, remaining query deadline), per SPEC_FULL.md §4.F step
// 3 and the invariant tested in SPEC_FULL.md §8.1.
func (e *Executor) runStepOnce(ctx context.Context, queryID string, step plan.Step, deadline time.Time, cancelSignal <-chan struct{}) plan.StepResult {
	ctx, span := tracer.Start(ctx, "step."+step.Agent,
		trace.WithAttributes(attribute.String("step_id", step.ID), attribute.String("tool_name", step.ToolName)))
	defer span.End()

	started := time.Now()

	effective := step.Timeout()
	if remaining := time.Until(deadline); remaining < effective {
		effective = remaining
	}
	if effective <= 0 {
		return plan.StepResult{StepID: step.ID, Status: plan.StatusTimeout, StartedAt: started, EndedAt: time.Now(), Error: "no deadline remaining"}
	}

	stepCtx, cancel := context.WithTimeout(ctx, effective)
	defer cancel()

	// Cancel(queryId) must abort the in-flight model/tool call, not just stop
	// new steps from being scheduled, so the step context dies with the
	// cancel signal rather than running out its own timeout.
	go func() {
		select {
		case <-cancelSignal:
			cancel()
		case <-stepCtx.Done():
		}
	}()

	pool, ok := e.pools.Get(step.Agent)
	if !ok {
		return plan.StepResult{
			StepID: step.ID, Status: plan.StatusFailed, StartedAt: started, EndedAt: time.Now(),
			Error: fmt.Sprintf("no agent pool registered for %q", step.Agent),
		}
	}

	lease, err := pool.Acquire(stepCtx)
	if err != nil {
		return e.classifyErr(step, started, err)
	}

	worker, isWorker := lease.Instance().(agent.Worker)
	if !isWorker {
		lease.Release(false)
		return plan.StepResult{StepID: step.ID, Status: plan.StatusFailed, StartedAt: started, EndedAt: time.Now(), Error: "leased instance is not an agent.Worker"}
	}

	select {
	case <-cancelSignal:
		lease.Release(true)
		return plan.StepResult{StepID: step.ID, Status: plan.StatusCancelled, StartedAt: started, EndedAt: time.Now()}
	default:
	}

	deps := agent.StepDeps{Provider: e.provider, Tools: e.tools}
	if step.Final {
		// The final step's output is the user-visible response; stream its
		// generation so subscribers see partial content as it is produced.
		deps.OnDelta = func(delta string) {
			e.fabric.Publish(queryID, streaming.KindPartialContent, map[string]any{"queryId": queryID, "delta": delta})
		}
	}

	out, runErr := worker.HandleStep(stepCtx, step, deps)
	ended := time.Now()

	if runErr != nil {
		lease.Release(runerr.KindOf(runErr) != runerr.KindInternal)
		return e.classifyErr(step, started, runErr)
	}

	lease.Release(true)
	return plan.StepResult{
		StepID: step.ID, Status: plan.StatusOK, Output: out.Text,
		StartedAt: started, EndedAt: ended,
		TokensIn: out.TokensIn, TokensOut: out.TokensOut, ToolCalls: out.ToolCalls,
	}
}

func (e *Executor) classifyErr(step plan.Step, started time.Time, err error) plan.StepResult {
	ended := time.Now()
	kind := runerr.KindOf(err)
	status := plan.StatusFailed
	switch kind {
	case runerr.KindTimeout:
		status = plan.StatusTimeout
	case runerr.KindCancelled:
		status = plan.StatusCancelled
	}
	return plan.StepResult{StepID: step.ID, Status: status, StartedAt: started, EndedAt: ended, Error: err.Error()}
}
