package retrieval

import (
	"context"

	"github.com/qdrant/go-client/qdrant"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

// SemanticBackend is the nearest-neighbor search contract the engine's
// semantic leg depends on; QdrantBackend is the concrete implementation, but
// tests substitute an in-memory fake.
type SemanticBackend interface {
	Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Item, error)
}

// QdrantBackend queries a Qdrant collection over gRPC.
type QdrantBackend struct {
	client     *qdrant.Client
	collection string
}

func NewQdrantBackend(addr, collection string) (*QdrantBackend, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: addr})
	if err != nil {
		return nil, runerr.ProviderError("failed to connect to vector store", err)
	}
	return &QdrantBackend{client: client, collection: collection}, nil
}

func (q *QdrantBackend) Search(ctx context.Context, vector []float32, limit int, filter Filter) ([]Item, error) {
	limitU := uint64(limit)
	req := &qdrant.QueryPoints{
		CollectionName: q.collection,
		Query:          qdrant.NewQuery(vector...),
		Limit:          &limitU,
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if filter.Source != "" || filter.Tenant != "" {
		req.Filter = semanticFilter(filter)
	}

	points, err := q.client.Query(ctx, req)
	if err != nil {
		return nil, runerr.ProviderError("vector store query failed", err)
	}

	items := make([]Item, 0, len(points))
	for _, p := range points {
		payload := p.GetPayload()
		it := Item{
			DocID:         stringField(payload, "doc_id"),
			ChunkID:       stringField(payload, "chunk_id"),
			Text:          stringField(payload, "text"),
			Source:        stringField(payload, "source"),
			ScoreSemantic: float64(p.GetScore()),
			Metadata:      map[string]string{"tenant": stringField(payload, "tenant")},
		}
		items = append(items, it)
	}
	return items, nil
}

func semanticFilter(f Filter) *qdrant.Filter {
	var must []*qdrant.Condition
	if f.Source != "" {
		must = append(must, qdrant.NewMatchKeyword("source", f.Source))
	}
	if f.Tenant != "" {
		must = append(must, qdrant.NewMatchKeyword("tenant", f.Tenant))
	}
	return &qdrant.Filter{Must: must}
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok {
		return ""
	}
	return v.GetStringValue()
}
