// Package confidence implements the Confidence Engine (SPEC_FULL.md §4.C):
// raw-score extraction, multi-modal quality evaluation, isotonic
// calibration, uncertainty bucketing, and adaptive delivery.
package confidence

// Bucket is the discrete uncertainty label derived from a calibrated score.
type Bucket string

const (
	BucketVeryLow  Bucket = "very_low"
	BucketLow      Bucket = "low"
	BucketMedium   Bucket = "medium"
	BucketHigh     Bucket = "high"
	BucketVeryHigh Bucket = "very_high"
)

// QualityScores are the three multi-modal signals of §4.C step 2.
type QualityScores struct {
	Factuality float64
	Relevance  float64
	Coherence  float64
}

// Record is the persisted Confidence Record (SPEC_FULL.md §3).
type Record struct {
	QueryID          string
	ResponseID       string
	TokenLogProbs    []float64
	RawScore         float64
	CalibratedScore  float64
	Quality          QualityScores
	UncertaintyLevel string
	Bucket           Bucket
	Diagnostic       string // non-empty only when computation degraded internally
}

// Delivery describes how the adaptive-delivery step of §4.C step 5 wants the
// response reshaped before it reaches the client.
type Delivery struct {
	Preface         string
	IncludeEvidence bool
	Alternatives    []string
}
