package orchestrator

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/tarsy-labs/agentrun/internal/plan"
)

// toolForDomainIntent is the deterministic tool selection table of
// SPEC_FULL.md §4.G step 3. It is keyed by intent alone; the domain does not
// take part in the lookup. An intent with no entry means the step carries no
// tool and is a bare model call.
var toolForDomainIntent = map[string]string{
	"research":   "web_search.search",
	"data":       "data.fetch",
	"extraction": "doc.extract",
}

// toolFor resolves the deterministic tool for an intent, returning "" when
// the mapped tool is not actually registered so a plan never dispatches a
// step against a tool this process cannot invoke.
func (o *Orchestrator) toolFor(intent string) string {
	name := toolForDomainIntent[intent]
	if name == "" || o.tools == nil {
		return ""
	}
	if _, ok := o.tools.Describe(name); !ok {
		return ""
	}
	return name
}

// Plan produces a plan.Plan from a Routing and Analysis. Low complexity
// (<4) yields a single step against the primary agent; higher complexity
// decomposes into a research/data step feeding a synthesis step, bounded by
// cfg.Plan.MaxSteps.
func (o *Orchestrator) Plan(queryID, userText string, a Analysis, r Routing) plan.Plan {
	stepTimeout := o.cfg.Step.DefaultTimeoutMs

	if a.Complexity < 4 {
		step := plan.Step{
			ID:        "s1",
			Agent:     r.Primary,
			ToolName:  o.toolFor(a.Intent),
			Inputs:    map[string]any{"task": userText},
			TimeoutMs: stepTimeout,
			Retries:   o.cfg.Step.MaxRetries,
			Required:  true,
			Final:     true,
		}
		return plan.Plan{ID: uuid.NewString(), QueryID: queryID, Steps: []plan.Step{step}, Strategy: r.Strategy}
	}

	gather := plan.Step{
		ID:        "s1",
		Agent:     r.Primary,
		ToolName:  o.toolFor(a.Intent),
		Inputs:    map[string]any{"task": userText},
		TimeoutMs: stepTimeout,
		Retries:   o.cfg.Step.MaxRetries,
		Required:  true,
	}

	synth := plan.Step{
		ID:        "s2",
		Agent:     "synthesis",
		DependsOn: []string{"s1"},
		Inputs:    map[string]any{"task": fmt.Sprintf("Using the findings for the request %q, produce the final answer.", userText)},
		TimeoutMs: stepTimeout,
		Retries:   o.cfg.Step.MaxRetries,
		Required:  true,
		Final:     true,
	}

	steps := []plan.Step{gather, synth}
	if o.cfg.Plan.MaxSteps > 0 && len(steps) > o.cfg.Plan.MaxSteps {
		steps = steps[:o.cfg.Plan.MaxSteps]
		steps[len(steps)-1].Final = true
	}

	return plan.Plan{ID: uuid.NewString(), QueryID: queryID, Steps: steps, Strategy: r.Strategy}
}
