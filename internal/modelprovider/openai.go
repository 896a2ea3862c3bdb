package modelprovider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/tarsy-labs/agentrun/internal/runerr"
)

// OpenAIProvider implements Provider against a hosted chat-completions API.
// Streaming follows the same finite, not-restartable, cancellable channel
// pattern the teacher's pkg/llm client uses for its own streaming client,
// adapted from a gRPC Recv loop to an SSE Next loop.
type OpenAIProvider struct {
	client     openai.Client
	embedModel string
	maxRetries int
	log        *slog.Logger
}

// NewOpenAIProvider builds a provider reading its API key from apiKey
// (already resolved from the configured environment variable by the caller).
func NewOpenAIProvider(baseURL, apiKey, embedModel string, maxRetries int, log *slog.Logger) *OpenAIProvider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		embedModel: embedModel,
		maxRetries: maxRetries,
		log:        log,
	}
}

func (p *OpenAIProvider) Generate(ctx context.Context, prompt string, params Params) (GenerateResult, error) {
	var result GenerateResult
	err := withRetry(ctx, p.maxRetries, func() error {
		resp, err := p.client.Chat.Completions.New(ctx, p.chatParams(prompt, params))
		if err != nil {
			return classifyErr(err)
		}
		if len(resp.Choices) == 0 {
			return runerr.ProviderError("empty choices from provider", nil)
		}
		result = GenerateResult{
			Text:         resp.Choices[0].Message.Content,
			TokensIn:     int(resp.Usage.PromptTokens),
			TokensOut:    int(resp.Usage.CompletionTokens),
			FinishReason: string(resp.Choices[0].FinishReason),
		}
		return nil
	})
	return result, err
}

func (p *OpenAIProvider) GenerateStream(ctx context.Context, prompt string, params Params) (<-chan Chunk, <-chan error) {
	chunks := make(chan Chunk)
	errs := make(chan error, 1)

	go func() {
		defer close(chunks)
		defer close(errs)

		stream := p.client.Chat.Completions.NewStreaming(ctx, p.chatParams(prompt, params))
		defer stream.Close()

		for stream.Next() {
			evt := stream.Current()
			if len(evt.Choices) == 0 {
				continue
			}
			delta := evt.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case chunks <- Chunk{DeltaText: delta}:
			case <-ctx.Done():
				errs <- runerr.Cancelled("stream cancelled", ctx.Err())
				return
			}
		}
		if err := stream.Err(); err != nil {
			errs <- classifyErr(err)
		}
	}()

	return chunks, errs
}

// GenerateWithLogProbs requests per-token log-probabilities; LogProbs is left
// nil (not an error) if the provider returns none, per SPEC_FULL.md §4.A.
func (p *OpenAIProvider) GenerateWithLogProbs(ctx context.Context, prompt string, params Params) (LogProbResult, error) {
	var result LogProbResult
	err := withRetry(ctx, p.maxRetries, func() error {
		chatParams := p.chatParams(prompt, params)
		chatParams.Logprobs = openai.Bool(true)

		resp, err := p.client.Chat.Completions.New(ctx, chatParams)
		if err != nil {
			return classifyErr(err)
		}
		if len(resp.Choices) == 0 {
			return runerr.ProviderError("empty choices from provider", nil)
		}
		choice := resp.Choices[0]
		result.Text = choice.Message.Content

		if choice.Logprobs.Content != nil {
			probs := make([]float64, 0, len(choice.Logprobs.Content))
			for _, tok := range choice.Logprobs.Content {
				probs = append(probs, tok.Logprob)
			}
			result.LogProbs = probs
		}
		return nil
	})
	return result, err
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	var vectors [][]float32
	err := withRetry(ctx, p.maxRetries, func() error {
		resp, err := p.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: p.embedModel,
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		})
		if err != nil {
			return classifyErr(err)
		}
		vectors = make([][]float32, len(resp.Data))
		for i, d := range resp.Data {
			vec := make([]float32, len(d.Embedding))
			for j, v := range d.Embedding {
				vec[j] = float32(v)
			}
			vectors[i] = vec
		}
		return nil
	})
	return vectors, err
}

func (p *OpenAIProvider) chatParams(prompt string, params Params) openai.ChatCompletionNewParams {
	model := params.Model
	if model == "" {
		model = openai.ChatModelGPT4oMini
	}
	cp := openai.ChatCompletionNewParams{
		Model: model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if params.Temperature > 0 {
		cp.Temperature = openai.Float(params.Temperature)
	}
	if params.TopP > 0 {
		cp.TopP = openai.Float(params.TopP)
	}
	if params.MaxOutputTokens > 0 {
		cp.MaxCompletionTokens = openai.Int(int64(params.MaxOutputTokens))
	}
	if len(params.StopSequences) > 0 {
		cp.Stop = openai.ChatCompletionNewParamsStopUnion{OfStringArray: params.StopSequences}
	}
	if params.Seed != nil {
		cp.Seed = openai.Int(*params.Seed)
	}
	return cp
}

// classifyErr maps a provider SDK error onto the §7 error taxonomy: request
// timeouts/cancellation become KindTimeout/KindCancelled, everything else
// from the provider is a retryable KindProviderError. Content-policy and
// invalid-request errors are deliberately not retried by withRetry because
// their Kind is not in runerr.Retryable.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return runerr.Timeout("model provider deadline exceeded", err)
	}
	if errors.Is(err, context.Canceled) {
		return runerr.Cancelled("model provider call cancelled", err)
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429 || apiErr.StatusCode >= 500:
			return runerr.ProviderError(fmt.Sprintf("provider status %d", apiErr.StatusCode), err)
		default:
			return runerr.InvalidInput(fmt.Sprintf("provider status %d", apiErr.StatusCode), err)
		}
	}
	return runerr.ProviderError("model provider call failed", err)
}
