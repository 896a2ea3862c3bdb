package retrieval

import "sort"

// rrfConstant is c in 1/(c+r); fixed per SPEC_FULL.md §4.B.
const rrfConstant = 60

// Fuse combines two independently-ranked lists (semantic first, lexical
// second) via Reciprocal Rank Fusion: for each candidate appearing in either
// list at rank r (1-based), it contributes 1/(c+r) to that candidate's fused
// score; contributions from both lists are summed. Ties are broken by
// semantic score, then by docId, to keep ordering deterministic.
//
// The function is backend-agnostic: it only consumes two ranked []Item, so
// either leg can be swapped for a different provider without touching this
// code (SPEC_FULL.md §9 Open Questions).
func Fuse(semantic, lexical []Item) []Item {
	byKey := make(map[string]*Item)

	order := func(key string, it Item) *Item {
		existing, ok := byKey[key]
		if !ok {
			copyIt := it
			byKey[key] = &copyIt
			return byKey[key]
		}
		return existing
	}

	for r, it := range semantic {
		key := it.DocID + "#" + it.ChunkID
		merged := order(key, it)
		merged.ScoreSemantic = it.ScoreSemantic
		merged.ScoreFused += 1.0 / float64(rrfConstant+r+1)
	}
	for r, it := range lexical {
		key := it.DocID + "#" + it.ChunkID
		merged := order(key, it)
		merged.ScoreLexical = it.ScoreLexical
		merged.ScoreFused += 1.0 / float64(rrfConstant+r+1)
	}

	out := make([]Item, 0, len(byKey))
	for _, it := range byKey {
		out = append(out, *it)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ScoreFused != out[j].ScoreFused {
			return out[i].ScoreFused > out[j].ScoreFused
		}
		if out[i].ScoreSemantic != out[j].ScoreSemantic {
			return out[i].ScoreSemantic > out[j].ScoreSemantic
		}
		return out[i].DocID < out[j].DocID
	})
	return out
}

// TopK truncates a fused, sorted list to k items.
func TopK(items []Item, k int) []Item {
	if k <= 0 || k >= len(items) {
		return items
	}
	return items[:k]
}
