// Package retrieval implements the Retrieval Engine (SPEC_FULL.md §4.B):
// hybrid semantic+lexical search with Reciprocal Rank Fusion and optional
// reranking.
package retrieval

// Item is a Retrieval Item (SPEC_FULL.md §3): an ephemeral, per-query search
// result carrying every score that contributed to its final ranking.
type Item struct {
	DocID         string
	ChunkID       string
	Text          string
	Source        string
	ScoreSemantic float64
	ScoreLexical  float64
	ScoreFused    float64
	Metadata      map[string]string
}

// Filter is a metadata predicate applied before fusion.
type Filter struct {
	Source       string
	Tenant       string
	SinceUnixSec int64
	UntilUnixSec int64
}

func (f Filter) matches(it Item) bool {
	if f.Source != "" && it.Source != f.Source {
		return false
	}
	if f.Tenant != "" && it.Metadata["tenant"] != f.Tenant {
		return false
	}
	return true
}

func applyFilter(items []Item, f Filter) []Item {
	out := items[:0:0]
	for _, it := range items {
		if f.matches(it) {
			out = append(out, it)
		}
	}
	return out
}
