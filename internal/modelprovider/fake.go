package modelprovider

import "context"

// Fake is an in-memory Provider used by tests across the orchestration core.
// It never talks to a network, so packages that merely need "a provider"
// (Orchestrator, Confidence, Retrieval) can exercise their own logic without
// a live API key.
type Fake struct {
	GenerateFn func(ctx context.Context, prompt string, params Params) (GenerateResult, error)
	EmbedFn    func(ctx context.Context, texts []string) ([][]float32, error)
	LogProbs   []float64 // returned verbatim by GenerateWithLogProbs; nil means unsupported
}

func (f *Fake) Generate(ctx context.Context, prompt string, params Params) (GenerateResult, error) {
	if f.GenerateFn != nil {
		return f.GenerateFn(ctx, prompt, params)
	}
	return GenerateResult{Text: "fake response to: " + prompt, TokensIn: 10, TokensOut: 10, FinishReason: "stop"}, nil
}

func (f *Fake) GenerateStream(ctx context.Context, prompt string, params Params) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk, 1)
	errs := make(chan error, 1)
	res, err := f.Generate(ctx, prompt, params)
	if err != nil {
		errs <- err
	} else {
		chunks <- Chunk{DeltaText: res.Text}
	}
	close(chunks)
	close(errs)
	return chunks, errs
}

func (f *Fake) GenerateWithLogProbs(ctx context.Context, prompt string, params Params) (LogProbResult, error) {
	res, err := f.Generate(ctx, prompt, params)
	if err != nil {
		return LogProbResult{}, err
	}
	return LogProbResult{Text: res.Text, LogProbs: f.LogProbs}, nil
}

func (f *Fake) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.EmbedFn != nil {
		return f.EmbedFn(ctx, texts)
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}
