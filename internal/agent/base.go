package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/runerr"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// baseAgent holds the behavior shared by every specialized variant: prompt
// assembly, the model call, optional tool invocation, and the self-check/
// close lifecycle the Agent Pool requires. Variants embed it and override
// only what makes them a writer vs. a researcher vs. a synthesizer.
type baseAgent struct {
	name      string
	modelPref string
	systemTag string // short behavioral hint folded into the prompt
	uses      int
}

func (b *baseAgent) Name() string { return b.name }

// HealthCheck is a cheap self-check (SPEC_FULL.md §4.E): an in-process agent
// has nothing external to probe, so it always reports healthy. A variant
// backed by a remote sidecar would override this to ping it.
func (b *baseAgent) HealthCheck(_ context.Context) error { return nil }

func (b *baseAgent) Close() error { return nil }

// generate runs one model call bounded by the step's timeout, folding the
// agent's behavioral tag into the prompt the way the teacher's prompt
// builder composes a system instruction with task content. With deps.OnDelta
// set, the call streams and each chunk is handed to the callback as it
// arrives.
func (b *baseAgent) generate(ctx context.Context, deps StepDeps, step plan.Step, task string) (StepOutput, error) {
	ctx, cancel := context.WithTimeout(ctx, stepTimeout(step))
	defer cancel()

	prompt := fmt.Sprintf("[%s]\n%s", b.systemTag, task)
	params := modelprovider.Params{Model: b.modelPref, Temperature: 0.2, MaxOutputTokens: 1024}

	if deps.OnDelta == nil {
		res, err := deps.Provider.Generate(ctx, prompt, params)
		if err != nil {
			return StepOutput{}, err
		}
		return StepOutput{Text: res.Text, TokensIn: res.TokensIn, TokensOut: res.TokensOut}, nil
	}

	chunks, errs := deps.Provider.GenerateStream(ctx, prompt, params)
	var sb strings.Builder
	for ch := range chunks {
		sb.WriteString(ch.DeltaText)
		deps.OnDelta(ch.DeltaText)
	}
	if err := <-errs; err != nil {
		return StepOutput{}, err
	}
	text := sb.String()
	// Streamed responses carry no usage counts; estimate locally so budget
	// accounting still sees a non-zero figure.
	return StepOutput{Text: text, TokensIn: len(prompt) / 4, TokensOut: len(text) / 4}, nil
}

// invokeTool runs step.ToolName through the registry and folds a structured
// result into the task text the model call is about to see, so the model
// can synthesize over tool output in the same step.
func (b *baseAgent) invokeTool(ctx context.Context, tools *toolregistry.Registry, step plan.Step) (string, plan.ToolCall, error) {
	if step.ToolName == "" || tools == nil {
		return "", plan.ToolCall{}, nil
	}
	started := time.Now()
	result := tools.Invoke(ctx, step.ToolName, step.Inputs)
	call := plan.ToolCall{Tool: step.ToolName, DurationMs: time.Since(started).Milliseconds(), OK: result.OK}
	if result.Error != nil {
		return "", call, runerr.UpstreamError(fmt.Sprintf("tool %s failed", step.ToolName), result.Error)
	}
	return fmt.Sprintf("%v", result.Value), call, nil
}

func taskFromInputs(step plan.Step) string {
	if t, ok := step.Inputs["task"].(string); ok && strings.TrimSpace(t) != "" {
		return t
	}
	if t, ok := step.Inputs["query"].(string); ok {
		return t
	}
	return ""
}
