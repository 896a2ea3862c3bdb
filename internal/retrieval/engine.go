package retrieval

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/tarsy-labs/agentrun/internal/modelprovider"
)

// Reranker scores (query, candidate) pairs with a cross-encoder; optional
// per SPEC_FULL.md §4.B step 5.
type Reranker interface {
	Rerank(ctx context.Context, query string, items []Item) ([]Item, error)
}

// Result is what Search returns to the Orchestrator and Confidence Engine.
type Result struct {
	Items    []Item
	Degraded bool
}

// Engine implements the hybrid semantic+lexical search algorithm of
// SPEC_FULL.md §4.B, grounded on the same errgroup-based parallel fan-out
// pattern the retrieval pack's RAG pipeline uses for its document retrievers.
type Engine struct {
	embedder modelprovider.Provider
	semantic SemanticBackend
	lexical  *LexicalIndex
	reranker Reranker
	log      *slog.Logger
}

func NewEngine(embedder modelprovider.Provider, semantic SemanticBackend, lexical *LexicalIndex, reranker Reranker, log *slog.Logger) *Engine {
	return &Engine{embedder: embedder, semantic: semantic, lexical: lexical, reranker: reranker, log: log}
}

// Search returns the top-k fused items for query, subject to filter. Empty
// results are returned as an empty list, never an error. If one backend is
// unavailable, the healthy side's results are returned with Degraded=true;
// if both fail, Degraded=true with an empty list.
func (e *Engine) Search(ctx context.Context, query string, topK int, filter Filter, rerank bool) (Result, error) {
	if topK <= 0 {
		topK = 8
	}
	k1 := topK * 4

	var semanticItems, lexicalItems []Item
	var semanticErr, lexicalErr error

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if e.semantic == nil {
			semanticErr = errNoSemanticBackend
			return nil
		}
		vectors, err := e.embedder.Embed(gctx, []string{query})
		if err != nil {
			semanticErr = err
			return nil
		}
		if len(vectors) == 0 {
			semanticErr = errNoEmbedding
			return nil
		}
		items, err := e.semantic.Search(gctx, vectors[0], k1, filter)
		if err != nil {
			semanticErr = err
			return nil
		}
		semanticItems = applyFilter(items, filter)
		return nil
	})
	g.Go(func() error {
		items, err := e.lexical.Search(gctx, query, k1)
		if err != nil {
			lexicalErr = err
			return nil
		}
		lexicalItems = applyFilter(items, filter)
		return nil
	})
	_ = g.Wait() // both legs swallow their own errors into *Err fields; never propagated here

	degraded := semanticErr != nil || lexicalErr != nil
	if degraded {
		e.log.Warn("retrieval leg degraded", "semantic_err", semanticErr, "lexical_err", lexicalErr)
	}
	if semanticErr != nil && lexicalErr != nil {
		return Result{Items: []Item{}, Degraded: true}, nil
	}

	fused := Fuse(semanticItems, lexicalItems)
	fused = TopK(fused, topK*2)

	if rerank && e.reranker != nil && len(fused) > 0 {
		reranked, err := e.reranker.Rerank(ctx, query, fused)
		if err == nil {
			fused = reranked
		} else {
			e.log.Warn("rerank failed, falling back to fused order", "error", err)
		}
	}

	return Result{Items: TopK(fused, topK), Degraded: degraded}, nil
}

var errNoEmbedding = &emptyEmbeddingErr{}
var errNoSemanticBackend = &noSemanticBackendErr{}

type emptyEmbeddingErr struct{}

func (*emptyEmbeddingErr) Error() string { return "embedder returned no vectors" }

type noSemanticBackendErr struct{}

func (*noSemanticBackendErr) Error() string { return "no semantic backend configured" }
