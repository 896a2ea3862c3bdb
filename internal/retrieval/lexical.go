package retrieval

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
)

// LexicalIndex is an in-process BM25 scorer over a fixed document corpus.
// Keeping the lexical leg in-process means the engine has no hard runtime
// dependency on an external text-search cluster (SPEC_FULL.md §11).
type LexicalIndex struct {
	mu        sync.RWMutex
	docs      map[string]Item
	postings  map[string]map[string]int // term -> docKey -> term frequency
	docLen    map[string]int
	avgDocLen float64
	k1        float64
	b         float64
}

func NewLexicalIndex() *LexicalIndex {
	return &LexicalIndex{
		docs:     make(map[string]Item),
		postings: make(map[string]map[string]int),
		docLen:   make(map[string]int),
		k1:       1.2,
		b:        0.75,
	}
}

// Index adds or replaces a document's chunks in the corpus.
func (l *LexicalIndex) Index(items []Item) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, it := range items {
		key := it.DocID + "#" + it.ChunkID
		l.docs[key] = it
		terms := tokenize(it.Text)
		l.docLen[key] = len(terms)

		counts := make(map[string]int)
		for _, t := range terms {
			counts[t]++
		}
		for t, c := range counts {
			if l.postings[t] == nil {
				l.postings[t] = make(map[string]int)
			}
			l.postings[t][key] = c
		}
	}
	l.recomputeAvgLen()
}

func (l *LexicalIndex) recomputeAvgLen() {
	if len(l.docLen) == 0 {
		l.avgDocLen = 0
		return
	}
	total := 0
	for _, n := range l.docLen {
		total += n
	}
	l.avgDocLen = float64(total) / float64(len(l.docLen))
}

// Search scores every indexed document against query using BM25 and returns
// the top n candidates ranked descending by score.
func (l *LexicalIndex) Search(ctx context.Context, query string, n int) ([]Item, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	terms := tokenize(query)
	scores := make(map[string]float64)
	numDocs := float64(len(l.docs))

	for _, t := range terms {
		posting, ok := l.postings[t]
		if !ok {
			continue
		}
		idf := math.Log(1 + (numDocs-float64(len(posting))+0.5)/(float64(len(posting))+0.5))
		for key, tf := range posting {
			dl := float64(l.docLen[key])
			denom := float64(tf) + l.k1*(1-l.b+l.b*dl/maxFloat(l.avgDocLen, 1))
			scores[key] += idf * (float64(tf) * (l.k1 + 1)) / denom
		}
	}

	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(scores))
	for key, s := range scores {
		ranked = append(ranked, scored{key, s})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	if n > 0 && n < len(ranked) {
		ranked = ranked[:n]
	}

	out := make([]Item, 0, len(ranked))
	for _, r := range ranked {
		it := l.docs[r.key]
		it.ScoreLexical = r.score
		out = append(out, it)
	}
	return out, nil
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	return fields
}
