package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/agent"
	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/cache"
	"github.com/tarsy-labs/agentrun/internal/confidence"
	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/streaming"
)

func silentLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testConfig() config.Config {
	return config.Config{
		Query: config.QueryConfig{DeadlineMs: 2000},
		Plan:  config.PlanConfig{MaxSteps: 5},
		Step:  config.StepConfig{DefaultTimeoutMs: 500, MaxRetries: 1},
		Confidence: config.ConfidenceConfig{
			RawScoreWeights: config.RawScoreWeights{Hedging: 0.25, Contradiction: 0.25, Citation: 0.25, EvidenceAgreement: 0.25},
			Buckets:         config.BucketThresholds{VeryHigh: 0.9, High: 0.75, Medium: 0.5, Low: 0.25},
		},
		Retrieval: config.RetrievalConfig{TopK: 3},
		Model:     config.ModelConfig{Default: "fake-model"},
	}
}

func newTestOrchestrator(t *testing.T, agentCfgs map[string]config.AgentConfig, provider modelprovider.Provider) *Orchestrator {
	t.Helper()
	log := silentLog()
	pools := make(map[string]*agentpool.Pool)
	for name := range agentCfgs {
		factory := agent.NewFactory(agentCfgs)
		pools[name] = agentpool.New(name, config.AgentPoolConfig{MaxConcurrent: 2}, factory, log)
	}
	fabric := streaming.New(0, 0, log)
	conf := confidence.NewEngine(testConfig().Confidence, log)
	return New(Deps{
		Cfg: testConfig(), Provider: provider, Pools: pools, AgentConfigs: agentCfgs,
		Fabric: fabric, Confidence: conf, L1: cache.NewL1Cache(config.CacheLayerConfig{}), Log: log,
	})
}

func TestHandleQuery_SimpleChatProducesFinalContent(t *testing.T) {
	agentCfgs := map[string]config.AgentConfig{
		"writer": {Capabilities: map[string]bool{"chat": true}, MaxConcurrent: 2},
	}
	provider := &modelprovider.Fake{
		GenerateFn: func(_ context.Context, prompt string, _ modelprovider.Params) (modelprovider.GenerateResult, error) {
			return modelprovider.GenerateResult{Text: "hello there", TokensIn: 5, TokensOut: 5}, nil
		},
	}
	o := newTestOrchestrator(t, agentCfgs, provider)

	resp, err := o.HandleQuery(context.Background(), Request{UserText: "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.False(t, resp.PartialFailure)
}

func TestHandleQuery_NeverEmptyOnMissingAgent(t *testing.T) {
	// No agents registered at all: Route falls back to "writer", but no pool
	// exists for it, so Execute fails every step and the Orchestrator must
	// still produce non-empty, user-visible content.
	o := newTestOrchestrator(t, map[string]config.AgentConfig{}, &modelprovider.Fake{})
	resp, err := o.HandleQuery(context.Background(), Request{UserText: "do something complex with many many words to raise complexity well past the threshold for decomposition into multiple steps so the plan includes a synthesis step too"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.True(t, resp.PartialFailure)
}

func TestHandleQuery_TokenBudgetShortCircuitsToFallback(t *testing.T) {
	agentCfgs := map[string]config.AgentConfig{
		"writer": {Capabilities: map[string]bool{"chat": true}, MaxConcurrent: 2},
	}
	o := newTestOrchestrator(t, agentCfgs, &modelprovider.Fake{})
	o.cfg.Query.TokenBudget = 1

	resp, err := o.HandleQuery(context.Background(), Request{UserText: "this text is comfortably longer than one token"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Content)
	assert.True(t, resp.PartialFailure)
	assert.Contains(t, resp.Content, "token budget")
}

func TestHandleQuery_RespectsQueryDeadline(t *testing.T) {
	agentCfgs := map[string]config.AgentConfig{
		"writer": {Capabilities: map[string]bool{"chat": true}, MaxConcurrent: 2},
	}
	provider := &modelprovider.Fake{
		GenerateFn: func(ctx context.Context, _ string, _ modelprovider.Params) (modelprovider.GenerateResult, error) {
			select {
			case <-time.After(5 * time.Second):
				return modelprovider.GenerateResult{Text: "too slow"}, nil
			case <-ctx.Done():
				return modelprovider.GenerateResult{}, ctx.Err()
			}
		},
	}
	o := newTestOrchestrator(t, agentCfgs, provider)
	o.cfg.Query.DeadlineMs = 50

	start := time.Now()
	resp, err := o.HandleQuery(context.Background(), Request{UserText: "hi"})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 4*time.Second)
	assert.True(t, resp.PartialFailure)
}
