// Package modelprovider implements the Model Provider Client: text
// generation (streamed and non-streamed), embeddings, and per-token
// log-probabilities when the underlying provider exposes them.
package modelprovider

import "context"

// Params are the generation parameters recognized across every provider
// implementation.
type Params struct {
	Model           string
	Temperature     float64 // [0, 2]
	TopP            float64 // [0, 1]
	MaxOutputTokens int
	StopSequences   []string
	Seed            *int64
}

// GenerateResult is the non-streamed, non-logprob generation result.
type GenerateResult struct {
	Text         string
	TokensIn     int
	TokensOut    int
	FinishReason string
}

// Chunk is one increment of a streamed generation.
type Chunk struct {
	DeltaText string
	TokenInfo *TokenInfo
}

// TokenInfo carries per-token metadata when the provider exposes it mid-stream.
type TokenInfo struct {
	Token   string
	LogProb float64
	HasLog  bool
}

// LogProbResult is the result of GenerateWithLogProbs: LogProbs is nil when
// the provider or model does not support them, and callers (the Confidence
// Engine) must degrade gracefully rather than treat that as an error.
type LogProbResult struct {
	Text     string
	LogProbs []float64
}

// Provider is the full Model Provider Client contract (SPEC_FULL.md §4.A).
type Provider interface {
	Generate(ctx context.Context, prompt string, params Params) (GenerateResult, error)
	GenerateStream(ctx context.Context, prompt string, params Params) (<-chan Chunk, <-chan error)
	GenerateWithLogProbs(ctx context.Context, prompt string, params Params) (LogProbResult, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
