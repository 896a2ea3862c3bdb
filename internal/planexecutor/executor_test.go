package planexecutor

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/agent"
	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/streaming"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// fakeWorker is a minimal agent.Worker used to exercise the executor without
// a live model provider. HandleFn lets each test control timing/outcome.
type fakeWorker struct {
	name     string
	HandleFn func(ctx context.Context, step plan.Step, deps agent.StepDeps) (agent.StepOutput, error)
}

func (f *fakeWorker) Name() string                      { return f.name }
func (f *fakeWorker) HealthCheck(context.Context) error { return nil }
func (f *fakeWorker) Close() error                      { return nil }
func (f *fakeWorker) HandleStep(ctx context.Context, step plan.Step, deps agent.StepDeps) (agent.StepOutput, error) {
	return f.HandleFn(ctx, step, deps)
}

type staticPools map[string]*agentpool.Pool

func (s staticPools) Get(name string) (*agentpool.Pool, bool) { p, ok := s[name]; return p, ok }

func newTestPool(t *testing.T, name string, handle func(ctx context.Context, step plan.Step, deps agent.StepDeps) (agent.StepOutput, error)) *agentpool.Pool {
	t.Helper()
	factory := func(_ context.Context, n string) (agentpool.Instance, error) {
		return &fakeWorker{name: n, HandleFn: handle}, nil
	}
	cfg := config.AgentPoolConfig{MaxConcurrent: 4, MinIdle: 0}
	return agentpool.New(name, cfg, factory, slog.Default())
}

func newTestExecutor(t *testing.T, pools staticPools) *Executor {
	t.Helper()
	return New(pools, toolregistry.New(), &modelprovider.Fake{}, streaming.New(0, 0, slog.Default()), slog.Default())
}

func TestExecute_SequentialDependency(t *testing.T) {
	var order []string
	handle := func(_ context.Context, step plan.Step, _ agent.StepDeps) (agent.StepOutput, error) {
		order = append(order, step.ID)
		return agent.StepOutput{Text: "out-" + step.ID}, nil
	}
	pools := staticPools{"writer": newTestPool(t, "writer", handle)}
	exec := newTestExecutor(t, pools)

	p := plan.Plan{ID: "p1", QueryID: "q1", Steps: []plan.Step{
		{ID: "s1", Agent: "writer", TimeoutMs: 1000, Required: true},
		{ID: "s2", Agent: "writer", DependsOn: []string{"s1"}, TimeoutMs: 1000, Required: true, Final: true},
	}}

	outcome, err := exec.Execute(context.Background(), "q1", p, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.False(t, outcome.Cancelled)
	assert.False(t, outcome.PartialFailure)
	assert.Equal(t, plan.StatusOK, outcome.Results["s1"].Status)
	assert.Equal(t, plan.StatusOK, outcome.Results["s2"].Status)
	assert.Equal(t, []string{"s1", "s2"}, order)
}

func TestExecute_InvalidPlanRejected(t *testing.T) {
	exec := newTestExecutor(t, staticPools{})
	p := plan.Plan{ID: "p1", QueryID: "q1", Steps: []plan.Step{
		{ID: "s1", Agent: "writer", DependsOn: []string{"s2"}},
		{ID: "s2", Agent: "writer", DependsOn: []string{"s1"}},
	}}
	_, err := exec.Execute(context.Background(), "q1", p, time.Now().Add(time.Second))
	require.Error(t, err)
}

func TestExecute_RetriesOnTransientFailure(t *testing.T) {
	attempts := 0
	handle := func(_ context.Context, step plan.Step, _ agent.StepDeps) (agent.StepOutput, error) {
		attempts++
		if attempts < 2 {
			return agent.StepOutput{}, assertTimeoutErr{}
		}
		return agent.StepOutput{Text: "ok"}, nil
	}
	pools := staticPools{"writer": newTestPool(t, "writer", handle)}
	exec := newTestExecutor(t, pools)

	p := plan.Plan{ID: "p1", QueryID: "q1", Steps: []plan.Step{
		{ID: "s1", Agent: "writer", TimeoutMs: 1000, Retries: 2, Required: true, Final: true},
	}}
	outcome, err := exec.Execute(context.Background(), "q1", p, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, plan.StatusOK, outcome.Results["s1"].Status)
	assert.Equal(t, 2, attempts)
}

func TestExecute_MissingAgentPoolFailsStep(t *testing.T) {
	exec := newTestExecutor(t, staticPools{})
	p := plan.Plan{ID: "p1", QueryID: "q1", Steps: []plan.Step{
		{ID: "s1", Agent: "nonexistent", TimeoutMs: 1000, Required: true, Final: true},
	}}
	outcome, err := exec.Execute(context.Background(), "q1", p, time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, plan.StatusFailed, outcome.Results["s1"].Status)
	assert.True(t, outcome.PartialFailure)
}

// assertTimeoutErr carries no runerr.Kind, so runerr.KindOf classifies it as
// internal and the attempt ends with StatusFailed; the test verifies the
// retry loop runs for that status (StatusFailed is retryable per
// retryableStatus).
type assertTimeoutErr struct{}

func (assertTimeoutErr) Error() string { return "transient" }
