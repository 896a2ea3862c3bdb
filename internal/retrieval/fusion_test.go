package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFuse_ItemInBothListsRanksNoWorseThanBest(t *testing.T) {
	semantic := []Item{
		{DocID: "a", ChunkID: "1", ScoreSemantic: 0.9},
		{DocID: "b", ChunkID: "1", ScoreSemantic: 0.8},
	}
	lexical := []Item{
		{DocID: "b", ChunkID: "1", ScoreLexical: 5.0},
		{DocID: "c", ChunkID: "1", ScoreLexical: 4.0},
	}

	fused := Fuse(semantic, lexical)
	assert.Len(t, fused, 3)

	// "b" appears at rank 2 semantically (rank index 1) and rank 1 lexically
	// (rank index 0); its fused rank must be no worse than rank 1.
	bIndex := indexOf(fused, "b")
	assert.LessOrEqual(t, bIndex, 1)
}

func TestFuse_TiesBrokenBySemanticScoreThenDocID(t *testing.T) {
	semantic := []Item{
		{DocID: "z", ChunkID: "1", ScoreSemantic: 0.5},
		{DocID: "a", ChunkID: "1", ScoreSemantic: 0.9},
	}
	// Crossed lexical ranks give both items the same fused score,
	// 1/61 + 1/62, so the semantic score decides the order.
	lexical := []Item{
		{DocID: "a", ChunkID: "1", ScoreLexical: 5.0},
		{DocID: "z", ChunkID: "1", ScoreLexical: 4.0},
	}
	fused := Fuse(semantic, lexical)
	assert.Equal(t, "a", fused[0].DocID)
}

func TestFuse_EmptyInputsProduceEmptyOutput(t *testing.T) {
	fused := Fuse(nil, nil)
	assert.Empty(t, fused)
}

func indexOf(items []Item, docID string) int {
	for i, it := range items {
		if it.DocID == docID {
			return i
		}
	}
	return -1
}
