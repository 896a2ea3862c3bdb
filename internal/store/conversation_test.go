package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// decodeAnalysisPayload is the one piece of this package's logic that does
// not require a live Postgres connection (the rest is SQL wiring the
// testcontainers-based suite this environment drops would normally exercise
// — see DESIGN.md), so its dual-read behavior is covered directly here.

func TestDecodeAnalysisPayload_CurrentShape(t *testing.T) {
	payload := []byte(`{"intent":"research","domains":["research"],"complexity":5,"plan_summary":"s","confidence":0.8}`)
	rec, err := decodeAnalysisPayload(payload, 2)
	require.NoError(t, err)
	assert.Equal(t, "research", rec.Intent)
	assert.Equal(t, 0.8, rec.Confidence)
	assert.Equal(t, "s", rec.PlanSummary)
}

func TestDecodeAnalysisPayload_PriorShape(t *testing.T) {
	payload := []byte(`{"intent":"chat","domains":["chat"],"complexity":1,"confidence":{"calibrated":0.42}}`)
	rec, err := decodeAnalysisPayload(payload, 1)
	require.NoError(t, err)
	assert.Equal(t, "chat", rec.Intent)
	assert.Equal(t, 0.42, rec.Confidence)
	assert.Empty(t, rec.PlanSummary)
}
