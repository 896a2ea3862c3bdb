package confidence

import "github.com/tarsy-labs/agentrun/internal/config"

// Calibrate maps rawScore through a monotonic isotonic-regression curve
// fitted from historical {rawScore, userRating} pairs (§4.C step 3). When no
// points are configured (or only one), calibration is the identity function.
func Calibrate(rawScore float64, points []config.CalibrationPoint) float64 {
	if len(points) < 2 {
		return clamp01(rawScore)
	}
	if rawScore <= points[0].Raw {
		return clamp01(points[0].Calibrated)
	}
	last := points[len(points)-1]
	if rawScore >= last.Raw {
		return clamp01(last.Calibrated)
	}
	for i := 1; i < len(points); i++ {
		lo, hi := points[i-1], points[i]
		if rawScore >= lo.Raw && rawScore <= hi.Raw {
			if hi.Raw == lo.Raw {
				return clamp01(hi.Calibrated)
			}
			t := (rawScore - lo.Raw) / (hi.Raw - lo.Raw)
			return clamp01(lo.Calibrated + t*(hi.Calibrated-lo.Calibrated))
		}
	}
	return clamp01(rawScore)
}

// BucketOf derives the discrete uncertainty label from a calibrated score
// using the configured thresholds (§4.C step 4).
func BucketOf(calibrated float64, thresholds config.BucketThresholds) Bucket {
	switch {
	case calibrated >= thresholds.VeryHigh:
		return BucketVeryHigh
	case calibrated >= thresholds.High:
		return BucketHigh
	case calibrated >= thresholds.Medium:
		return BucketMedium
	case calibrated >= thresholds.Low:
		return BucketLow
	default:
		return BucketVeryLow
	}
}

// UncertaintyLevel collapses the five-way bucket into the coarser three-way
// level referenced by the Confidence Record (SPEC_FULL.md §3).
func UncertaintyLevel(b Bucket) string {
	switch b {
	case BucketVeryHigh, BucketHigh:
		return "low"
	case BucketMedium:
		return "medium"
	default:
		return "high"
	}
}
