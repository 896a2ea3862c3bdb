package retrieval

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/modelprovider"
)

type fakeSemantic struct {
	items []Item
	err   error
}

func (f *fakeSemantic) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Item, error) {
	return f.items, f.err
}

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newLexicalWithDocs() *LexicalIndex {
	idx := NewLexicalIndex()
	idx.Index([]Item{
		{DocID: "doc1", ChunkID: "1", Text: "irrigation specialists near greenville", Source: "web"},
		{DocID: "doc2", ChunkID: "1", Text: "paris is the capital of france", Source: "web"},
	})
	return idx
}

func TestEngine_EmptyResultsAreNotAnError(t *testing.T) {
	e := NewEngine(&modelprovider.Fake{}, &fakeSemantic{}, NewLexicalIndex(), nil, testLogger())
	res, err := e.Search(context.Background(), "nothing matches this", 5, Filter{}, false)
	require.NoError(t, err)
	assert.Empty(t, res.Items)
	assert.False(t, res.Degraded)
}

func TestEngine_SemanticResultsReturnedWhenLexicalHasNoMatches(t *testing.T) {
	semantic := &fakeSemantic{items: []Item{{DocID: "doc2", ChunkID: "1", ScoreSemantic: 0.9, Text: "paris"}}}
	idx := NewLexicalIndex() // empty index: the lexical leg succeeds with no results
	e := NewEngine(&modelprovider.Fake{}, semantic, idx, nil, testLogger())

	res, err := e.Search(context.Background(), "paris capital", 5, Filter{}, false)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Items)
}

func TestEngine_SemanticLegDownWithNoLexicalMatchesReturnsDegradedEmpty(t *testing.T) {
	semantic := &fakeSemantic{err: errors.New("vector store unavailable")}
	e := NewEngine(&modelprovider.Fake{
		EmbedFn: func(ctx context.Context, texts []string) ([][]float32, error) {
			return nil, errors.New("embedding unavailable")
		},
	}, semantic, NewLexicalIndex(), nil, testLogger())

	res, err := e.Search(context.Background(), "anything", 5, Filter{}, false)
	require.NoError(t, err)
	assert.True(t, res.Degraded)
	assert.Empty(t, res.Items)
}

func TestEngine_AppliesFilterBeforeFusion(t *testing.T) {
	semantic := &fakeSemantic{items: []Item{
		{DocID: "doc1", ChunkID: "1", Source: "internal", ScoreSemantic: 0.9},
		{DocID: "doc2", ChunkID: "1", Source: "web", ScoreSemantic: 0.8},
	}}
	e := NewEngine(&modelprovider.Fake{}, semantic, newLexicalWithDocs(), nil, testLogger())

	res, err := e.Search(context.Background(), "irrigation", 5, Filter{Source: "web"}, false)
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.Equal(t, "web", it.Source)
	}
}
