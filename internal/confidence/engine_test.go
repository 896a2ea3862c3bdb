package confidence

import (
	"context"
	"io"
	"log/slog"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/config"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func defaultConfidenceConfig() config.ConfidenceConfig {
	return config.Default().Confidence
}

// S6: a calibration curve f such that f(0.9)=0.7 must carry a rawScore=0.9
// response to calibratedScore=0.7 and bucket=high.
func TestEngine_CalibrationScenarioS6(t *testing.T) {
	cfg := defaultConfidenceConfig()
	cfg.Calibration.Points = []config.CalibrationPoint{
		{Raw: 0.0, Calibrated: 0.0},
		{Raw: 0.9, Calibrated: 0.7},
		{Raw: 1.0, Calibrated: 0.75},
	}
	e := NewEngine(cfg, testLogger())

	rec := e.Evaluate(context.Background(), Input{
		QueryID:       "q1",
		ResponseID:    "r1",
		ResponseText:  "The answer is well supported.",
		TokenLogProbs: logProbsFor(0.9),
	})

	require.InDelta(t, 0.9, rec.RawScore, 1e-6)
	assert.InDelta(t, 0.7, rec.CalibratedScore, 1e-6)
	assert.Equal(t, BucketHigh, rec.Bucket)
}

func TestEngine_IdentityCalibrationWhenNoPoints(t *testing.T) {
	cfg := defaultConfidenceConfig()
	cfg.Calibration.Points = nil
	e := NewEngine(cfg, testLogger())

	rec := e.Evaluate(context.Background(), Input{
		ResponseText:  "Confident answer.",
		TokenLogProbs: logProbsFor(0.95),
	})
	assert.InDelta(t, rec.RawScore, rec.CalibratedScore, 1e-6)
}

func TestEngine_MismatchedEmbeddingsStillYieldRecord(t *testing.T) {
	e := NewEngine(defaultConfidenceConfig(), testLogger())
	// A response embedding of mismatched length with the query embedding
	// exercises the degrade-gracefully guard in relevance(), not a panic,
	// but the pipeline must still succeed and produce a usable Record.
	rec := e.Evaluate(context.Background(), Input{
		ResponseText:      "Some text.",
		QueryEmbedding:    []float32{1, 0},
		ResponseEmbedding: []float32{1, 0, 0},
	})
	assert.NotEmpty(t, rec.Bucket)
}

func TestDeliver_LowBucketIncludesEvidenceAndPreface(t *testing.T) {
	rec := Record{Bucket: BucketLow}
	d := Deliver(rec, nil)
	assert.True(t, d.IncludeEvidence)
	assert.NotEmpty(t, d.Preface)
}

func TestDeliver_HighBucketOmitsEvidence(t *testing.T) {
	rec := Record{Bucket: BucketHigh}
	d := Deliver(rec, nil)
	assert.False(t, d.IncludeEvidence)
}

// logProbsFor synthesizes a slice of log-probabilities whose mean(exp(.))
// equals target, by repeating log(target) across a handful of tokens.
func logProbsFor(target float64) []float64 {
	lp := math.Log(target)
	return []float64{lp, lp, lp, lp}
}
