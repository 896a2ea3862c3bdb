package confidence

import (
	"math"
	"strings"

	"github.com/tarsy-labs/agentrun/internal/retrieval"
)

// Quality computes the three multi-modal quality signals of §4.C step 2.
// qEmbedding and responseEmbedding may be nil, in which case Relevance
// degrades to 0.5 (neutral) rather than failing the whole computation.
func Quality(responseText string, evidence []retrieval.Item, qEmbedding, responseEmbedding []float32) QualityScores {
	return QualityScores{
		Factuality: factuality(responseText, evidence),
		Relevance:  relevance(qEmbedding, responseEmbedding),
		Coherence:  coherence(responseText),
	}
}

// factuality is the fraction of claim-bearing sentences supported by at
// least one retrieval item, via the same overlap+entailment heuristic used
// for the raw score's evidence-agreement signal.
func factuality(text string, evidence []retrieval.Item) float64 {
	sentences := splitSentences(text)
	claims := 0
	supported := 0
	for _, s := range sentences {
		if !looksLikeClaim(s) {
			continue
		}
		claims++
		terms := salientTerms(s)
		for _, it := range evidence {
			if jaccard(terms, salientTerms(it.Text)) > 0.08 {
				supported++
				break
			}
		}
	}
	if claims == 0 {
		return 1 // no claims to refute
	}
	return clamp01(float64(supported) / float64(claims))
}

func looksLikeClaim(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return false
	}
	lower := strings.ToLower(s)
	// Questions and pure hedges are not claims.
	return !strings.HasSuffix(s, "?") && !strings.HasPrefix(lower, "i think")
}

func relevance(qEmbedding, responseEmbedding []float32) float64 {
	if len(qEmbedding) == 0 || len(responseEmbedding) == 0 || len(qEmbedding) != len(responseEmbedding) {
		return 0.5
	}
	cos := cosineSimilarity(qEmbedding, responseEmbedding)
	return clamp01((cos + 1) / 2) // rescale [-1,1] to [0,1]
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// coherence is a monotonic-topic score based on sentence-to-sentence lexical
// smoothness: consecutive sentences sharing salient terms score higher than
// abrupt topic jumps. This stands in for sentence-embedding smoothness when
// per-sentence embeddings are not computed.
func coherence(text string) float64 {
	sentences := splitSentences(text)
	if len(sentences) < 2 {
		return 1
	}
	total := 0.0
	for i := 1; i < len(sentences); i++ {
		total += jaccard(salientTerms(sentences[i-1]), salientTerms(sentences[i]))
	}
	avg := total / float64(len(sentences)-1)
	return clamp01(avg * 3) // overlap ratios are small; scale for sensitivity
}
