// Package orchestrator implements the four-stage pipeline (SPEC_FULL.md
// §4.G): Analyze, Route, Plan, Execute. It is the component every external
// interface (§6) ultimately calls into.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/cache"
	"github.com/tarsy-labs/agentrun/internal/confidence"
	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/plan"
	"github.com/tarsy-labs/agentrun/internal/planexecutor"
	"github.com/tarsy-labs/agentrun/internal/retrieval"
	"github.com/tarsy-labs/agentrun/internal/store"
	"github.com/tarsy-labs/agentrun/internal/streaming"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

// analyzeFraction bounds the Analyze stage's model call to a fraction of the
// overall query deadline (SPEC_FULL.md §4.G: "stage timeouts ≤ query
// deadline"). Route and Plan are pure in-process computation with no
// suspension points, so they run under the query's deadline directly;
// Execute gets the remainder since the Plan Executor is where the actual
// work happens.
const analyzeFraction = 0.10

// tracer emits one span per stage (SPEC_FULL.md §11 "tracing spans per stage
// and per step"). It resolves against whatever TracerProvider main.go
// registered globally; with none registered it is the OpenTelemetry no-op
// tracer, so spans are free when tracing isn't configured.
var tracer trace.Tracer = otel.Tracer("github.com/tarsy-labs/agentrun/internal/orchestrator")

// Orchestrator wires every other component into the request pipeline.
type Orchestrator struct {
	cfg            config.Config
	provider       modelprovider.Provider
	pools          map[string]*agentpool.Pool
	agentConfigs   map[string]config.AgentConfig
	tools          *toolregistry.Registry
	retrieval      *retrieval.Engine
	confidence     *confidence.Engine
	store          *store.Store
	fabric         *streaming.Fabric
	executor       *planexecutor.Executor
	l1             *cache.L1Cache
	l2             *cache.L2SemanticCache
	retrievalCache *cache.RetrievalCache
	tokenizer      *modelprovider.Tokenizer
	log            *slog.Logger
}

// Deps bundles every collaborator the Orchestrator needs. cmd/agentrund
// constructs one of these after wiring config, store, cache, provider,
// retrieval, confidence, tool registry, and agent pools.
type Deps struct {
	Cfg            config.Config
	Provider       modelprovider.Provider
	Pools          map[string]*agentpool.Pool
	AgentConfigs   map[string]config.AgentConfig
	Tools          *toolregistry.Registry
	Retrieval      *retrieval.Engine
	Confidence     *confidence.Engine
	Store          *store.Store
	Fabric         *streaming.Fabric
	L1             *cache.L1Cache
	L2             *cache.L2SemanticCache
	RetrievalCache *cache.RetrievalCache
	Log            *slog.Logger
}

func New(d Deps) *Orchestrator {
	pools := make(map[string]*agentpool.Pool, 1)
	for k, v := range d.Pools {
		pools[k] = v
	}
	return &Orchestrator{
		cfg: d.Cfg, provider: d.Provider, pools: pools, agentConfigs: d.AgentConfigs,
		tools: d.Tools, retrieval: d.Retrieval, confidence: d.Confidence,
		store: d.Store, fabric: d.Fabric, l1: d.L1, l2: d.L2,
		retrievalCache: d.RetrievalCache, tokenizer: modelprovider.NewTokenizer(), log: d.Log,
		executor: planexecutor.New(poolLookup(pools), d.Tools, d.Provider, d.Fabric, d.Log),
	}
}

type poolLookup map[string]*agentpool.Pool

func (p poolLookup) Get(name string) (*agentpool.Pool, bool) {
	pool, ok := p[name]
	return pool, ok
}

func (o *Orchestrator) stageTimeout(ctx context.Context, fraction float64) time.Duration {
	total := o.cfg.Query.Deadline()
	if dl, ok := ctx.Deadline(); ok {
		if remaining := time.Until(dl); remaining < total {
			total = remaining
		}
	}
	budget := time.Duration(float64(total) * fraction)
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return budget
}

// Request is the inbound logical request of SPEC_FULL.md §6. QueryID lets a
// caller that needs to know the queryId before HandleQuery returns (the
// async HTTP surface, so it can hand the id back before subscribing to the
// event stream) pre-assign it; a zero value generates one as before.
type Request struct {
	QueryID        string
	ConversationID string
	UserText       string
	Profile        string
}

// Response is what HandleQuery returns once Execute finishes; its shape
// mirrors the final_content wire event (SPEC_FULL.md §6).
type Response struct {
	QueryID        string
	ConversationID string
	Content        string
	Confidence     confidence.Record
	Delivery       confidence.Delivery
	Sources        []retrieval.Item
	PartialFailure bool
}

// cachedAnswer is the L1 exact-cache entry shape (SPEC_FULL.md §4.J): a
// prior final answer for an identical normalized prompt+model.
type cachedAnswer struct {
	Content    string
	Confidence float64
	Bucket     string
}

// HandleQuery runs the full four-stage pipeline for one user turn. It
// streams progress through the Streaming Fabric under queryId and returns
// once the terminal event has been emitted.
func (o *Orchestrator) HandleQuery(ctx context.Context, req Request) (Response, error) {
	ctx, span := tracer.Start(ctx, "HandleQuery")
	defer span.End()

	queryID := req.QueryID
	if queryID == "" {
		queryID = uuid.NewString()
	}
	span.SetAttributes(queryIDAttr(queryID))
	conversationID := req.ConversationID
	if conversationID == "" {
		conversationID = uuid.NewString()
	}

	started := time.Now()
	deadline := started.Add(o.cfg.Query.Deadline())
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	o.fabric.Publish(queryID, streaming.KindStarted, map[string]any{"queryId": queryID, "conversationId": conversationID})

	if budget := o.cfg.Query.TokenBudget; budget > 0 {
		if est := o.tokenizer.Count(o.cfg.Model.Default, req.UserText); est > budget {
			o.log.Warn("query exceeds token budget before any model call", "query_id", queryID, "estimated_tokens", est, "budget", budget)
			return o.fallback(ctx, queryID, conversationID, req.UserText, "the request exceeds the configured token budget")
		}
	}

	cacheKey := o.l1.Key(req.UserText, modelprovider.Params{Model: o.cfg.Model.Default})
	var cached cachedAnswer
	if o.l1.Get(ctx, cacheKey, &cached) {
		o.fabric.Publish(queryID, streaming.KindFinalContent, map[string]any{
			"queryId": queryID, "content": cached.Content, "cached": true,
			"confidence": map[string]any{"calibrated": cached.Confidence, "bucket": cached.Bucket},
		})
		return Response{QueryID: queryID, ConversationID: conversationID, Content: cached.Content}, nil
	}

	var queryVec []float32
	if o.l2.Enabled() {
		if vecs, err := o.provider.Embed(ctx, []string{req.UserText}); err == nil && len(vecs) == 1 {
			queryVec = vecs[0]
			if content, ok := o.l2.Get(queryVec); ok {
				o.fabric.Publish(queryID, streaming.KindFinalContent, map[string]any{
					"queryId": queryID, "content": content, "cached": true,
				})
				return Response{QueryID: queryID, ConversationID: conversationID, Content: content}, nil
			}
		}
	}

	userMsg := store.Message{ID: uuid.NewString(), Role: store.RoleUser, Content: req.UserText, Meta: store.MessageMeta{QueryID: queryID}}
	if o.store != nil {
		if err := o.store.AppendMessage(ctx, conversationID, userMsg); err != nil {
			o.log.Error("failed to persist user message", "query_id", queryID, "error", err)
		}
	}

	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "analyze", "status": "started"})
	analyzeCtx, analyzeSpan := tracer.Start(ctx, "stage.analyze")
	analysisCtx, analyzeCancel := context.WithTimeout(analyzeCtx, o.stageTimeout(ctx, analyzeFraction))
	analysis := o.Analyze(analysisCtx, req.UserText)
	analyzeCancel()
	analyzeSpan.End()
	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "analyze", "status": "done"})

	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "route", "status": "started"})
	_, routeSpan := tracer.Start(ctx, "stage.route")
	routing := o.Route(analysis)
	routeSpan.End()
	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "route", "status": "done"})

	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "plan", "status": "started"})
	_, planSpan := tracer.Start(ctx, "stage.plan")
	p := o.Plan(queryID, req.UserText, analysis, routing)
	planSpan.End()
	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{
		"queryId": queryID, "stage": "plan", "status": "done",
	})
	o.fabric.Publish(queryID, streaming.KindStarted, map[string]any{
		"queryId": queryID, "plan": map[string]any{"strategy": p.Strategy, "steps": planSummary(p)},
	})

	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "execute", "status": "started"})
	outcome, err := o.executor.Execute(ctx, queryID, p, deadline)
	if err != nil {
		return o.failQuery(ctx, queryID, conversationID, "invalid plan: "+err.Error())
	}
	o.fabric.Publish(queryID, streaming.KindStage, map[string]any{"queryId": queryID, "stage": "execute", "status": "done"})

	if outcome.Cancelled {
		o.fabric.Cancel(queryID, "query deadline exceeded")
		return Response{QueryID: queryID, ConversationID: conversationID, PartialFailure: true}, nil
	}

	final := p.FinalStep()
	finalResult, ok := outcome.Results[final.ID]
	content := finalResult.Output
	if !ok || finalResult.Status != plan.StatusOK || content == "" {
		return o.fallback(ctx, queryID, conversationID, req.UserText, "an internal issue while executing the plan")
	}

	evidence := o.searchEvidence(ctx, req.UserText, o.cfg.Retrieval.RerankEnabled)

	rec := o.confidence.Evaluate(ctx, confidenceInput(queryID, finalResult, evidence))
	delivery := confidence.Deliver(rec, evidence)

	totalTokensIn, totalTokensOut, totalToolCalls := aggregateUsage(outcome)
	o.fabric.Publish(queryID, streaming.KindFinalContent, map[string]any{
		"queryId": queryID, "content": content,
		"confidence": map[string]any{"calibrated": rec.CalibratedScore, "bucket": rec.Bucket, "quality": rec.Quality},
		"sources":    sourcesPayload(evidence),
	})
	o.fabric.Publish(queryID, streaming.KindMetrics, map[string]any{
		"queryId": queryID, "totalMs": time.Since(started).Milliseconds(),
		"tokensIn": totalTokensIn, "tokensOut": totalTokensOut, "toolCalls": totalToolCalls,
	})

	assistantMsg := store.Message{
		ID: uuid.NewString(), Role: store.RoleAssistant, Content: content,
		Meta: store.MessageMeta{QueryID: queryID, ModelUsed: o.cfg.Model.Default, Confidence: rec.CalibratedScore, TokensIn: totalTokensIn, TokensOut: totalTokensOut},
	}
	if o.store != nil {
		if err := o.store.AppendMessage(ctx, conversationID, assistantMsg); err != nil {
			o.log.Error("failed to persist assistant message", "query_id", queryID, "error", err)
		}
		analysisRec := store.AnalysisRecordCurrent{
			Intent: analysis.Intent, Domains: analysis.Domains, Complexity: analysis.Complexity,
			PlanSummary: fmt.Sprintf("%d step(s), strategy=%s", len(p.Steps), p.Strategy), Confidence: rec.CalibratedScore,
		}
		if err := o.store.RecordAnalysis(ctx, queryID, analysisRec); err != nil {
			o.log.Error("failed to persist analysis", "query_id", queryID, "error", err)
		}
		if err := o.store.RecordStepMetrics(ctx, time.Now(), routing.Primary, int64(totalTokensIn), int64(totalTokensOut), totalToolCalls, time.Since(started).Milliseconds()); err != nil {
			o.log.Error("failed to record daily metrics", "query_id", queryID, "error", err)
		}
	}

	overBudget := (o.cfg.Query.TokenBudget > 0 && totalTokensIn+totalTokensOut > o.cfg.Query.TokenBudget) ||
		(o.cfg.Query.ToolCallBudget > 0 && totalToolCalls > o.cfg.Query.ToolCallBudget)
	if overBudget {
		o.log.Warn("query exceeded a resource budget", "query_id", queryID,
			"tokens", totalTokensIn+totalTokensOut, "tool_calls", totalToolCalls)
	}

	if !outcome.PartialFailure && !overBudget {
		o.l1.Set(ctx, cacheKey, cachedAnswer{Content: content, Confidence: rec.CalibratedScore, Bucket: string(rec.Bucket)})
		if queryVec != nil {
			o.l2.Set(queryVec, content)
		}
	}

	return Response{
		QueryID: queryID, ConversationID: conversationID, Content: content,
		Confidence: rec, Delivery: delivery, Sources: evidence, PartialFailure: outcome.PartialFailure,
	}, nil
}

// searchEvidence consults the retrieval cache before the hybrid engine, and
// populates it on a non-degraded hit (degraded result sets are not cached so a
// recovered backend is consulted again on the next identical query). A nil
// engine or a failed search both degrade to no evidence rather than an error.
func (o *Orchestrator) searchEvidence(ctx context.Context, query string, rerank bool) []retrieval.Item {
	if o.retrieval == nil {
		return nil
	}
	var key string
	if o.retrievalCache != nil {
		key = o.retrievalCache.Key("default", query, "")
		var cached []retrieval.Item
		if o.retrievalCache.Get(ctx, key, &cached) {
			return cached
		}
	}
	res, err := o.retrieval.Search(ctx, query, o.cfg.Retrieval.TopK, retrieval.Filter{}, rerank)
	if err != nil {
		return nil
	}
	if o.retrievalCache != nil && !res.Degraded {
		o.retrievalCache.Set(ctx, key, res.Items)
	}
	return res.Items
}

// fallback implements SPEC_FULL.md §4.G: "it never emits success with empty
// content." An empty or fatal Execute result produces a user-visible
// apology carrying whatever retrieval evidence is available.
func (o *Orchestrator) fallback(ctx context.Context, queryID, conversationID, userText, reason string) (Response, error) {
	evidence := o.searchEvidence(ctx, userText, false)
	content := "I couldn't complete this due to " + reason + "."
	o.fabric.Publish(queryID, streaming.KindFinalContent, map[string]any{
		"queryId": queryID, "content": content, "confidence": map[string]any{"calibrated": 0.0, "bucket": confidence.BucketVeryLow},
		"sources": sourcesPayload(evidence),
	})
	if o.store != nil {
		msg := store.Message{ID: uuid.NewString(), Role: store.RoleAssistant, Content: content, Meta: store.MessageMeta{QueryID: queryID}}
		_ = o.store.AppendMessage(ctx, conversationID, msg)
	}
	return Response{QueryID: queryID, ConversationID: conversationID, Content: content, Sources: evidence, PartialFailure: true}, nil
}

func (o *Orchestrator) failQuery(ctx context.Context, queryID, conversationID, reason string) (Response, error) {
	o.fabric.Publish(queryID, streaming.KindError, map[string]any{"queryId": queryID, "reason": reason})
	return Response{QueryID: queryID, ConversationID: conversationID, PartialFailure: true}, nil
}

func queryIDAttr(queryID string) attribute.KeyValue { return attribute.String("query_id", queryID) }

func confidenceInput(queryID string, r plan.StepResult, evidence []retrieval.Item) confidence.Input {
	return confidence.Input{QueryID: queryID, ResponseID: r.StepID, ResponseText: r.Output, Evidence: evidence}
}

func planSummary(p plan.Plan) []map[string]any {
	out := make([]map[string]any, 0, len(p.Steps))
	for _, s := range p.Steps {
		out = append(out, map[string]any{"id": s.ID, "agent": s.Agent, "toolName": s.ToolName})
	}
	return out
}

func sourcesPayload(items []retrieval.Item) []map[string]any {
	out := make([]map[string]any, 0, len(items))
	for _, it := range items {
		snippet := it.Text
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		out = append(out, map[string]any{"docId": it.DocID, "chunkId": it.ChunkID, "snippet": snippet})
	}
	return out
}

func aggregateUsage(o planexecutor.Outcome) (tokensIn, tokensOut, toolCalls int) {
	for _, r := range o.Results {
		tokensIn += r.TokensIn
		tokensOut += r.TokensOut
		toolCalls += len(r.ToolCalls)
	}
	return
}

// Cancel is a pass-through to the Streaming Fabric's cancellation contract
// (SPEC_FULL.md §4.I): it sets the query's cancel signal, which the Plan
// Executor observes on its next select iteration.
func (o *Orchestrator) Cancel(queryID, reason string) { o.fabric.Cancel(queryID, reason) }

// Subscribe is a pass-through to the Streaming Fabric, exposed so the HTTP
// surface never needs a direct reference to the Fabric itself.
func (o *Orchestrator) Subscribe(ctx context.Context, queryID, subscriberID string, sinceSeq int64) <-chan streaming.Event {
	return o.fabric.Subscribe(ctx, queryID, subscriberID, sinceSeq)
}

// RecordFeedback is a pass-through to the Conversation Store's feedback
// write contract (SPEC_FULL.md §4.H).
func (o *Orchestrator) RecordFeedback(ctx context.Context, messageID string, rating int, comment string) error {
	return o.store.RecordFeedback(ctx, store.Feedback{ID: uuid.NewString(), MessageID: messageID, Rating: rating, Comment: comment})
}

// HealthCheck aggregates Agent Pool and Conversation Store health for the
// /healthz surface (SPEC_FULL.md §12).
func (o *Orchestrator) HealthCheck() map[string]any {
	pools := make(map[string]agentpool.Health, len(o.pools))
	for name, p := range o.pools {
		pools[name] = p.Health()
	}
	storeOK := true
	if o.store != nil {
		storeOK = o.store.Ping() == nil
	}
	return map[string]any{"pools": pools, "storeReachable": storeOK}
}
