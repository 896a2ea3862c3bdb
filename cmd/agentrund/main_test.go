package main

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tarsy-labs/agentrun/internal/agent"
	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/cache"
	"github.com/tarsy-labs/agentrun/internal/confidence"
	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/modelprovider"
	"github.com/tarsy-labs/agentrun/internal/orchestrator"
	"github.com/tarsy-labs/agentrun/internal/streaming"
	"github.com/tarsy-labs/agentrun/internal/toolregistry"
)

func silentLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testOrchestrator(t *testing.T) func() *orchestrator.Orchestrator {
	t.Helper()
	o := buildTestOrchestrator(t)
	return func() *orchestrator.Orchestrator { return o }
}

func buildTestOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()
	log := silentLog()
	agentCfgs := map[string]config.AgentConfig{"writer": {Capabilities: map[string]bool{"chat": true}}}
	factory := agent.NewFactory(agentCfgs)
	pools := map[string]*agentpool.Pool{"writer": agentpool.New("writer", config.AgentPoolConfig{MaxConcurrent: 2}, factory, log)}
	cfg := config.Config{
		Query: config.QueryConfig{DeadlineMs: 2000},
		Plan:  config.PlanConfig{MaxSteps: 5},
		Step:  config.StepConfig{DefaultTimeoutMs: 500},
		Confidence: config.ConfidenceConfig{
			RawScoreWeights: config.RawScoreWeights{Hedging: 0.25, Contradiction: 0.25, Citation: 0.25, EvidenceAgreement: 0.25},
			Buckets:         config.BucketThresholds{VeryHigh: 0.9, High: 0.75, Medium: 0.5, Low: 0.25},
		},
		Model: config.ModelConfig{Default: "fake-model"},
	}
	return orchestrator.New(orchestrator.Deps{
		Cfg: cfg, Provider: &modelprovider.Fake{}, Pools: pools, AgentConfigs: agentCfgs,
		Tools: toolregistry.New(), Fabric: streaming.New(0, 0, log),
		Confidence: confidence.NewEngine(cfg.Confidence, log),
		L1:         cache.NewL1Cache(config.CacheLayerConfig{}), Log: log,
	})
}

func TestHealthzReportsPoolOccupancy(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(testOrchestrator(t), silentLog())

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "pools")
}

func TestHandleFeedback_RejectsOutOfRangeRating(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(testOrchestrator(t), silentLog())

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"messageId":"m1","rating":7}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleFeedback_RejectsMissingMessageID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(testOrchestrator(t), silentLog())

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"rating":1}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/feedback", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSubmitQuery_AsyncReturnsQueryIDImmediately(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := newRouter(testOrchestrator(t), silentLog())

	rec := httptest.NewRecorder()
	body := strings.NewReader(`{"userText":"hello"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/queries", body)
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), "queryId")
}

func TestRegisterBuiltinTools_SkipsUnknownToolName(t *testing.T) {
	reg := toolregistry.New()
	registerBuiltinTools(reg, map[string]config.ToolConfig{"some.unimplemented": {}}, silentLog())
	assert.NotContains(t, reg.Names(), "some.unimplemented")
}

func TestRegisterBuiltinTools_RegistersWebSearch(t *testing.T) {
	reg := toolregistry.New()
	registerBuiltinTools(reg, map[string]config.ToolConfig{"web_search.search": {Description: "search the web", TimeoutMs: 1000}}, silentLog())
	assert.Contains(t, reg.Names(), "web_search.search")
}
