// agentrund is the process entrypoint binding the orchestration core onto
// concrete HTTP routes for local development and manual testing (SPEC_FULL.md
// §6, §11). Wiring follows the teacher's cmd/tarsy/main.go: flag-driven
// config directory, godotenv overlay, gin router, health endpoint backed by
// live component checks.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/tarsy-labs/agentrun/internal/agent"
	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/cache"
	"github.com/tarsy-labs/agentrun/internal/confidence"
	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/orchestrator"
	"github.com/tarsy-labs/agentrun/internal/retrieval"
	"github.com/tarsy-labs/agentrun/internal/store"
	"github.com/tarsy-labs/agentrun/internal/streaming"
	"github.com/tarsy-labs/agentrun/internal/telemetry"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
	"github.com/tarsy-labs/agentrun/internal/tools"
)

// Exit codes per SPEC_FULL.md §6.
const (
	exitOK                    = 0
	exitInvalidConfig         = 64
	exitDependencyUnavailable = 69
	exitInternal              = 70
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	os.Exit(run())
}

func run() int {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	addr := flag.String("addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	flag.Parse()

	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	envPath := filepath.Join(*configDir, ".env")
	configPath := filepath.Join(*configDir, "config.yaml")
	cfg, err := config.Load(configPath, envPath)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return exitInvalidConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telemetryProvider, err := telemetry.Setup(ctx, "agentrun", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		log.Warn("telemetry setup failed, continuing without tracing", "error", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
				log.Warn("telemetry shutdown error", "error", err)
			}
		}()
	}

	conversationStore, err := store.Open(cfg.Store)
	if err != nil {
		log.Error("failed to connect to conversation store", "error", err)
		return exitDependencyUnavailable
	}
	defer conversationStore.Close()
	log.Info("connected to conversation store", "host", cfg.Store.Host, "database", cfg.Store.Database)

	deps, err := wire(ctx, cfg, conversationStore, log)
	if err != nil {
		log.Error("failed to wire dependencies", "error", err)
		return exitDependencyUnavailable
	}

	// The router resolves the orchestrator through an atomic pointer so a
	// SIGHUP config reload swaps in a freshly wired pipeline for new queries
	// while in-flight queries keep the snapshot they started with
	// (SPEC_FULL.md §4.K).
	var orch atomic.Pointer[orchestrator.Orchestrator]
	orch.Store(orchestrator.New(*deps))

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			reloaded, err := config.Load(configPath, envPath)
			if err != nil {
				log.Error("config reload rejected, keeping previous configuration", "error", err)
				continue
			}
			newDeps, err := wire(ctx, reloaded, conversationStore, log)
			if err != nil {
				log.Error("config reload failed to wire, keeping previous configuration", "error", err)
				continue
			}
			orch.Store(orchestrator.New(*newDeps))
			log.Info("configuration reloaded, applies to new queries only")
		}
	}()

	router := newRouter(orch.Load, log)
	srv := &http.Server{Addr: *addr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("agentrund listening", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("http server failed", "error", err)
		return exitInternal
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		return exitInternal
	}
	return exitOK
}

func wire(ctx context.Context, cfg *config.Config, st *store.Store, log *slog.Logger) (*orchestrator.Deps, error) {
	l1 := cache.NewL1Cache(cfg.Cache.L1)
	l1.WithRedisAddr(cfg.Cache.RedisAddr, "agentrun:cache:l1")
	l2 := cache.NewL2SemanticCache(cfg.Cache.L2)
	retrievalCache := cache.NewRetrievalCache(cfg.Cache.Retrieval)
	retrievalCache.WithRedisAddr(cfg.Cache.RedisAddr, "agentrun:cache:retrieval")
	embeddingCache := cache.NewEmbeddingCache(cfg.Cache.Embedding)
	embeddingCache.WithRedisAddr(cfg.Cache.RedisAddr, "agentrun:cache:embedding")

	apiKey := os.Getenv(cfg.Model.APIKeyEnv)
	baseProvider := modelprovider.NewOpenAIProvider(cfg.Model.BaseURL, apiKey, cfg.Model.EmbeddingModel, cfg.Model.MaxRetries, log)
	var provider modelprovider.Provider = cache.NewCachingEmbedder(baseProvider, embeddingCache, cfg.Model.EmbeddingModel)

	var semanticBackend retrieval.SemanticBackend
	if cfg.Retrieval.QdrantAddr != "" {
		qdrant, err := retrieval.NewQdrantBackend(cfg.Retrieval.QdrantAddr, cfg.Retrieval.QdrantCollection)
		if err != nil {
			log.Warn("qdrant backend unavailable, retrieval will run lexical-only", "error", err)
		} else {
			semanticBackend = qdrant
		}
	}
	lexical := retrieval.NewLexicalIndex()
	retrievalEngine := retrieval.NewEngine(provider, semanticBackend, lexical, nil, log)

	confidenceEngine := confidence.NewEngine(cfg.Confidence, log)

	toolRegistry := toolregistry.New()
	registerBuiltinTools(toolRegistry, cfg.Tools, log)

	agentFactory := agent.NewFactory(cfg.Agents)
	pools := make(map[string]*agentpool.Pool, len(cfg.Pools))
	for name, poolCfg := range cfg.Pools {
		pool := agentpool.New(name, poolCfg, agentFactory, log)
		if ac, ok := cfg.Agents[name]; ok && ac.Warmup {
			pool.Start(ctx)
		}
		pools[name] = pool
	}

	fabric := streaming.New(0, 0, log)

	deps := orchestrator.Deps{
		Cfg: *cfg, Provider: provider, Pools: pools, AgentConfigs: cfg.Agents,
		Tools: toolRegistry, Retrieval: retrievalEngine, Confidence: confidenceEngine,
		Store: st, Fabric: fabric, L1: l1, L2: l2, RetrievalCache: retrievalCache, Log: log,
	}
	return &deps, nil
}

// registerBuiltinTools registers every implementation this binary ships
// against the descriptors declared in configuration. An unrecognized tool
// name is configuration for a tool this binary does not implement (e.g. one
// supplied by an external MCP-style registration, out of scope per
// SPEC_FULL.md §6) and is logged, not fatal.
func registerBuiltinTools(reg *toolregistry.Registry, toolCfgs map[string]config.ToolConfig, log *slog.Logger) {
	for name, tc := range toolCfgs {
		switch name {
		case "web_search.search":
			ws := tools.NewWebSearch(os.Getenv("SEARCH_API_BASE_URL"), os.Getenv("SEARCH_API_KEY"))
			if err := reg.Register(ws.Descriptor(tc), ws.Implementation); err != nil {
				log.Error("failed to register builtin tool", "tool", name, "error", err)
			}
		default:
			log.Warn("no builtin implementation for configured tool, skipping registration", "tool", name)
		}
	}
}

func newRouter(orch func() *orchestrator.Orchestrator, log *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, orch().HealthCheck())
	})

	v1 := router.Group("/v1")
	{
		v1.POST("/queries", func(c *gin.Context) { handleSubmitQuery(c, orch()) })
		v1.GET("/queries/:queryId/events", func(c *gin.Context) { handleStreamEvents(c, orch()) })
		v1.POST("/queries/:queryId/cancel", func(c *gin.Context) { handleCancel(c, orch()) })
		v1.POST("/feedback", func(c *gin.Context) { handleFeedback(c, orch()) })
	}
	return router
}

type submitQueryRequest struct {
	ConversationID string `json:"conversationId"`
	UserText       string `json:"userText" binding:"required"`
	Profile        string `json:"profile"`
}

// handleSubmitQuery implements the two inbound-request variants of
// SPEC_FULL.md §6: by default it returns the queryId immediately and the
// caller subscribes to /v1/queries/:queryId/events; with ?sync=true it
// blocks and returns only the terminal event.
func handleSubmitQuery(c *gin.Context, orch *orchestrator.Orchestrator) {
	var req submitQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	queryID := uuid.NewString()
	orchReq := orchestrator.Request{QueryID: queryID, ConversationID: req.ConversationID, UserText: req.UserText, Profile: req.Profile}

	if c.Query("sync") == "true" {
		resp, err := orch.HandleQuery(c.Request.Context(), orchReq)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
		return
	}

	// The HTTP request's context is cancelled when this handler returns;
	// the query must outlive it, bounded only by its own query deadline.
	go func() {
		if _, err := orch.HandleQuery(context.Background(), orchReq); err != nil {
			orch.Cancel(queryID, fmt.Sprintf("internal error: %v", err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"queryId": queryID, "conversationId": req.ConversationID})
}

func handleStreamEvents(c *gin.Context, orch *orchestrator.Orchestrator) {
	queryID := c.Param("queryId")
	var sinceSeq int64
	if s := c.Query("since"); s != "" {
		fmt.Sscanf(s, "%d", &sinceSeq)
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	ctx := c.Request.Context()
	events := orch.Subscribe(ctx, queryID, uuid.NewString(), sinceSeq)
	c.Stream(func(_ io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(string(ev.Kind), ev.Payload)
			return !ev.Kind.Terminal()
		case <-ctx.Done():
			return false
		}
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func handleCancel(c *gin.Context, orch *orchestrator.Orchestrator) {
	var req cancelRequest
	_ = c.ShouldBindJSON(&req)
	orch.Cancel(c.Param("queryId"), req.Reason)
	c.Status(http.StatusNoContent)
}

type feedbackRequest struct {
	MessageID string `json:"messageId" binding:"required"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

func handleFeedback(c *gin.Context, orch *orchestrator.Orchestrator) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Rating < -1 || req.Rating > 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rating must be -1, 0, or 1"})
		return
	}
	if err := orch.RecordFeedback(c.Request.Context(), req.MessageID, req.Rating, req.Comment); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}
