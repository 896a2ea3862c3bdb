package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultIsValid(t *testing.T) {
	require.NoError(t, Validate(Default()))
}

func TestValidate_RejectsStepTimeoutAboveQueryDeadline(t *testing.T) {
	cfg := Default()
	cfg.Step.DefaultTimeoutMs = cfg.Query.DeadlineMs + 1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds query.deadlineMs")
}

func TestValidate_RejectsModelTimeoutAboveStepTimeout(t *testing.T) {
	cfg := Default()
	cfg.Model.TimeoutMs = cfg.Step.DefaultTimeoutMs + 1

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds step.defaultTimeoutMs")
}

func TestValidate_RejectsNonPositiveTokenBudget(t *testing.T) {
	cfg := Default()
	cfg.Query.TokenBudget = 0

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tokenBudget")
}

func TestValidate_RejectsUnknownAgentTool(t *testing.T) {
	cfg := Default()
	a := cfg.Agents["writer"]
	a.Tools = []string{"no_such_tool.invoke"}
	cfg.Agents["writer"] = a

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool")
}

func TestValidate_RejectsAgentWithoutPool(t *testing.T) {
	cfg := Default()
	cfg.Agents["ghost"] = AgentConfig{MaxConcurrent: 1}

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no pool.ghost")
}

func TestValidate_RejectsUnbalancedConfidenceWeights(t *testing.T) {
	cfg := Default()
	w := cfg.Confidence.RawScoreWeights
	w.Hedging += 0.5
	cfg.Confidence.RawScoreWeights = w

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1")
}

func TestValidate_RejectsNonMonotonicBuckets(t *testing.T) {
	cfg := Default()
	cfg.Confidence.Buckets.High = cfg.Confidence.Buckets.VeryHigh + 0.01

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "strictly decreasing")
}
