package agent

import (
	"context"
	"fmt"

	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/runerr"
)

// WriterAgent handles chat/writing tasks: a single model call over the task
// text, no tool use.
type WriterAgent struct{ baseAgent }

func NewWriter(name, modelPref string) *WriterAgent {
	return &WriterAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "writer: answer clearly and directly"}}
}

func (w *WriterAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	if task == "" {
		return StepOutput{}, runerr.InvalidInput("writer step missing task input", nil)
	}
	return w.generate(ctx, deps, step, task)
}

// ResearchAgent handles research tasks: invokes the step's declared tool
// (typically a search tool), then asks the model to summarize the findings.
type ResearchAgent struct{ baseAgent }

func NewResearch(name, modelPref string) *ResearchAgent {
	return &ResearchAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "researcher: ground every claim in the tool output below"}}
}

func (r *ResearchAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	toolOut, call, err := r.invokeTool(ctx, deps.Tools, step)
	if err != nil {
		return StepOutput{}, err
	}
	prompt := task
	if toolOut != "" {
		prompt = fmt.Sprintf("%s\n\nTool findings:\n%s", task, toolOut)
	}
	out, err := r.generate(ctx, deps, step, prompt)
	if err != nil {
		return StepOutput{}, err
	}
	if call.Tool != "" {
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// SynthesisAgent combines prior step outputs (threaded in via step.Inputs by
// the Plan Executor) into one coherent final answer.
type SynthesisAgent struct{ baseAgent }

func NewSynthesis(name, modelPref string) *SynthesisAgent {
	return &SynthesisAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "synthesizer: combine the inputs into one coherent answer"}}
}

func (s *SynthesisAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	if task == "" {
		return StepOutput{}, runerr.InvalidInput("synthesis step missing task input", nil)
	}
	if upstream, ok := step.Inputs["dependencyOutputs"].(map[string]string); ok && len(upstream) > 0 {
		task += "\n\nUpstream step outputs:"
		for id, out := range upstream {
			task += fmt.Sprintf("\n[%s]: %s", id, out)
		}
	}
	return s.generate(ctx, deps, step, task)
}

// CodeAgent handles code-generation/analysis tasks.
type CodeAgent struct{ baseAgent }

func NewCode(name, modelPref string) *CodeAgent {
	return &CodeAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "coder: produce correct, minimal code with a short explanation"}}
}

func (c *CodeAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	if task == "" {
		return StepOutput{}, runerr.InvalidInput("code step missing task input", nil)
	}
	return c.generate(ctx, deps, step, task)
}

// DataAgent handles data-extraction/transformation tasks, optionally backed
// by a tool (e.g. a price-fetching or parsing tool).
type DataAgent struct{ baseAgent }

func NewData(name, modelPref string) *DataAgent {
	return &DataAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "data: extract and structure the requested fields"}}
}

func (d *DataAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	toolOut, call, err := d.invokeTool(ctx, deps.Tools, step)
	if err != nil {
		return StepOutput{}, err
	}
	prompt := task
	if toolOut != "" {
		prompt = fmt.Sprintf("%s\n\nRaw data:\n%s", task, toolOut)
	}
	out, err := d.generate(ctx, deps, step, prompt)
	if err != nil {
		return StepOutput{}, err
	}
	if call.Tool != "" {
		out.ToolCalls = append(out.ToolCalls, call)
	}
	return out, nil
}

// AnalysisAgent handles stand-alone analysis steps dispatched as part of a
// plan (distinct from the Orchestrator's own Analyze pipeline stage, which
// runs inline rather than through the pool).
type AnalysisAgent struct{ baseAgent }

func NewAnalysis(name, modelPref string) *AnalysisAgent {
	return &AnalysisAgent{baseAgent{name: name, modelPref: modelPref, systemTag: "analyst: identify entities, intent, and key constraints"}}
}

func (a *AnalysisAgent) HandleStep(ctx context.Context, step plan.Step, deps StepDeps) (StepOutput, error) {
	task := taskFromInputs(step)
	if task == "" {
		return StepOutput{}, runerr.InvalidInput("analysis step missing task input", nil)
	}
	return a.generate(ctx, deps, step, task)
}

// NewByName constructs the Worker variant matching name, used as the default
// agentpool.Factory wired up by cmd/agentrund. Unknown names fall back to a
// WriterAgent, mirroring how an unresolved capability degrades to chat
// rather than failing pool warm-up outright.
func NewByName(name, modelPref string) Worker {
	switch name {
	case "research":
		return NewResearch(name, modelPref)
	case "synthesis":
		return NewSynthesis(name, modelPref)
	case "code":
		return NewCode(name, modelPref)
	case "data":
		return NewData(name, modelPref)
	case "analysis":
		return NewAnalysis(name, modelPref)
	default:
		return NewWriter(name, modelPref)
	}
}
