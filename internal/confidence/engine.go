package confidence

import (
	"context"
	"log/slog"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/retrieval"
)

// Engine ties raw-score extraction, quality evaluation, calibration,
// bucketing, and adaptive delivery into one call per SPEC_FULL.md §4.C. It
// never fails the request: an internal error during computation yields a
// medium-confidence Record carrying a non-empty Diagnostic rather than an
// error return, since a response must always ship with some confidence
// signal.
type Engine struct {
	weights     config.RawScoreWeights
	buckets     config.BucketThresholds
	calibration []config.CalibrationPoint
	log         *slog.Logger
}

func NewEngine(cfg config.ConfidenceConfig, log *slog.Logger) *Engine {
	return &Engine{
		weights:     cfg.RawScoreWeights,
		buckets:     cfg.Buckets,
		calibration: cfg.Calibration.Points,
		log:         log,
	}
}

// Input bundles everything the pipeline needs to evaluate one response.
type Input struct {
	QueryID           string
	ResponseID        string
	ResponseText      string
	TokenLogProbs     []float64
	Evidence          []retrieval.Item
	QueryEmbedding    []float32
	ResponseEmbedding []float32
}

// Evaluate runs the full pipeline and never returns an error; callers that
// want to observe a degraded computation should check Record.Diagnostic.
func (e *Engine) Evaluate(_ context.Context, in Input) Record {
	rec, err := e.evaluate(in)
	if err != nil {
		e.log.Error("confidence evaluation degraded", "query_id", in.QueryID, "error", err)
		return Record{
			QueryID:          in.QueryID,
			ResponseID:       in.ResponseID,
			RawScore:         0.5,
			CalibratedScore:  0.5,
			UncertaintyLevel: "medium",
			Bucket:           BucketMedium,
			Diagnostic:       err.Error(),
		}
	}
	return rec
}

func (e *Engine) evaluate(in Input) (rec Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicErr{r}
		}
	}()

	raw := RawScore(in.ResponseText, in.TokenLogProbs, in.Evidence, e.weights)
	quality := Quality(in.ResponseText, in.Evidence, in.QueryEmbedding, in.ResponseEmbedding)
	calibrated := Calibrate(raw, e.calibration)
	bucket := BucketOf(calibrated, e.buckets)

	return Record{
		QueryID:          in.QueryID,
		ResponseID:       in.ResponseID,
		TokenLogProbs:    in.TokenLogProbs,
		RawScore:         raw,
		CalibratedScore:  calibrated,
		Quality:          quality,
		UncertaintyLevel: UncertaintyLevel(bucket),
		Bucket:           bucket,
	}, nil
}

// Deliver derives the adaptive-delivery shaping of §4.C step 5 from a
// computed Record.
func Deliver(rec Record, evidence []retrieval.Item) Delivery {
	switch rec.Bucket {
	case BucketVeryHigh, BucketHigh:
		return Delivery{IncludeEvidence: false}
	case BucketMedium:
		return Delivery{
			Preface:         "This answer has moderate confidence.",
			IncludeEvidence: true,
		}
	default:
		d := Delivery{
			Preface:         "This answer has low confidence; consider verifying against sources.",
			IncludeEvidence: true,
		}
		for _, it := range evidence {
			d.Alternatives = append(d.Alternatives, it.Text)
			if len(d.Alternatives) >= 3 {
				break
			}
		}
		return d
	}
}

type panicErr struct{ v any }

func (p *panicErr) Error() string { return "confidence engine panic" }
