package confidence

import (
	"math"
	"strings"

	"github.com/samber/lo"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/retrieval"
)

var hedgingPhrases = []string{"i think", "might", "possibly", "perhaps", "it seems", "not certain"}

// RawScore computes the uncalibrated confidence (§4.C step 1). When logProbs
// is non-empty it uses the mean of exp(logProb) over content tokens;
// otherwise it falls back to surface-feature heuristics combined with the
// configured weights.
func RawScore(text string, logProbs []float64, evidence []retrieval.Item, weights config.RawScoreWeights) float64 {
	if len(logProbs) > 0 {
		return meanExp(logProbs)
	}

	hedging := hedgingScore(text)
	contradiction := 1 - selfContradictionScore(text)
	citation := citationScore(text)
	agreement := evidenceAgreementScore(text, evidence)

	score := weights.Hedging*(1-hedging) +
		weights.Contradiction*contradiction +
		weights.Citation*citation +
		weights.EvidenceAgreement*agreement

	return clamp01(score)
}

func meanExp(logProbs []float64) float64 {
	if len(logProbs) == 0 {
		return 0
	}
	sum := 0.0
	for _, lp := range logProbs {
		sum += math.Exp(lp)
	}
	return clamp01(sum / float64(len(logProbs)))
}

// hedgingScore returns the number of distinct hedging phrases present divided
// by 3, capped at 1 (three or more phrases saturate); higher means more
// hedging, which should pull the raw score down.
func hedgingScore(text string) float64 {
	lower := strings.ToLower(text)
	hits := lo.CountBy(hedgingPhrases, func(p string) bool { return strings.Contains(lower, p) })
	if hits == 0 {
		return 0
	}
	return clamp01(float64(hits) / 3.0)
}

// selfContradictionScore is a coarse entailment-free heuristic: it counts the
// sentences containing a negation ("not " or "n't ") and, when they make up
// more than half of all sentences, returns that ratio; otherwise 0. It does
// not compare terms across sentences, so it does not detect whether a
// negated sentence actually contradicts another one. Returns a score in
// [0,1]; 0 means no contradiction detected.
func selfContradictionScore(text string) float64 {
	sentences := splitSentences(text)
	negated := 0
	for _, s := range sentences {
		lower := strings.ToLower(s)
		if strings.Contains(lower, "not ") || strings.Contains(lower, "n't ") {
			negated++
		}
	}
	if len(sentences) == 0 {
		return 0
	}
	ratio := float64(negated) / float64(len(sentences))
	if ratio > 0.5 {
		return clamp01(ratio)
	}
	return 0
}

func citationScore(text string) float64 {
	if strings.Contains(text, "http://") || strings.Contains(text, "https://") || strings.Contains(text, "[source") {
		return 1
	}
	return 0
}

// evidenceAgreementScore measures salient-term overlap between text and the
// retrieved evidence; a coarse stand-in for an entailment model.
func evidenceAgreementScore(text string, evidence []retrieval.Item) float64 {
	if len(evidence) == 0 {
		return 0.5 // no evidence to check against: neither support nor contradiction
	}
	textTerms := salientTerms(text)
	if len(textTerms) == 0 {
		return 0.5
	}

	best := 0.0
	for _, it := range evidence {
		evTerms := salientTerms(it.Text)
		overlap := jaccard(textTerms, evTerms)
		if overlap > best {
			best = overlap
		}
	}
	return clamp01(best * 2) // overlap ratios are typically small; scale for sensitivity
}

func salientTerms(s string) map[string]bool {
	words := strings.Fields(strings.ToLower(s))
	terms := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) > 4 {
			terms[w] = true
		}
	}
	return terms
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if b[t] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func splitSentences(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == '!' || r == '?' })
	return lo.Filter(raw, func(s string, _ int) bool { return strings.TrimSpace(s) != "" })
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
