package modelprovider

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// Tokenizer counts tokens locally so callers (the Orchestrator's budget
// tracker) can estimate cost before a call is issued, not only after a
// response returns usage counts.
type Tokenizer struct {
	mu    sync.Mutex
	cache map[string]*tiktoken.Tiktoken
}

func NewTokenizer() *Tokenizer {
	return &Tokenizer{cache: make(map[string]*tiktoken.Tiktoken)}
}

// Count returns the number of tokens text would consume under model's
// encoding. Falls back to cl100k_base when the model is unrecognized, since a
// conservative estimate is preferable to failing the budget check outright.
func (t *Tokenizer) Count(model, text string) int {
	enc := t.encodingFor(model)
	if enc == nil {
		return len(text) / 4 // crude fallback if even cl100k_base is unavailable
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tokenizer) encodingFor(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()

	if enc, ok := t.cache[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}
	t.cache[model] = enc
	return enc
}
