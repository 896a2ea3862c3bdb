// Package config loads and validates the central configuration document that
// gates every tunable in the orchestration core: deadlines, pool sizes, cache
// limits, confidence thresholds, and delivery profiles.
package config

import "time"

// Config is the root configuration document. It is immutable once loaded and
// validated; a live reload produces a new *Config that only affects queries
// started after the swap (in-flight queries keep the snapshot they started
// with).
type Config struct {
	Query      QueryConfig                `yaml:"query"`
	Plan       PlanConfig                 `yaml:"plan"`
	Step       StepConfig                 `yaml:"step"`
	Pools      map[string]AgentPoolConfig `yaml:"pool"`
	Cache      CacheConfig                `yaml:"cache"`
	Confidence ConfidenceConfig           `yaml:"confidence"`
	Retrieval  RetrievalConfig            `yaml:"retrieval"`
	Model      ModelConfig                `yaml:"model"`
	Store      StoreConfig                `yaml:"store"`
	Agents     map[string]AgentConfig     `yaml:"agents"`
	Tools      map[string]ToolConfig      `yaml:"tools"`
}

// QueryConfig bounds the overall query deadline and the per-query resource
// budgets (token and tool-call). A query whose text alone exceeds the token
// budget short-circuits to the Orchestrator's fallback path before any model
// call; token or tool-call totals that exceed a budget after execution are
// only logged and keep the answer out of the caches, and the answer is still
// delivered.
type QueryConfig struct {
	DeadlineMs     int `yaml:"deadlineMs"`
	TokenBudget    int `yaml:"tokenBudget"`
	ToolCallBudget int `yaml:"toolCallBudget"`
}

func (c QueryConfig) Deadline() time.Duration { return time.Duration(c.DeadlineMs) * time.Millisecond }

// PlanConfig bounds plan shape.
type PlanConfig struct {
	MaxSteps int `yaml:"maxSteps"`
}

// StepConfig carries per-step defaults; a Step may override TimeoutMs/Retries.
type StepConfig struct {
	DefaultTimeoutMs int `yaml:"defaultTimeoutMs"`
	MaxRetries       int `yaml:"maxRetries"`
}

func (c StepConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// AgentPoolConfig configures one named agent's pool policy.
type AgentPoolConfig struct {
	MaxConcurrent int           `yaml:"maxConcurrent"`
	MinIdle       int           `yaml:"minIdle"`
	LeaseWait     time.Duration `yaml:"leaseWait"`
	MaxUses       int           `yaml:"maxUses"`
	MaxAge        time.Duration `yaml:"maxAge"`
}

// CacheLayerConfig configures one cache layer.
type CacheLayerConfig struct {
	Enabled   bool          `yaml:"enabled"`
	Capacity  int           `yaml:"capacity"`
	TTL       time.Duration `yaml:"ttl"`
	Threshold float64       `yaml:"threshold"` // used by L2 semantic only
	Backend   string        `yaml:"backend"`   // "memory" | "redis"
}

// CacheConfig groups the four cache layers of §4.J.
type CacheConfig struct {
	L1        CacheLayerConfig `yaml:"l1"`
	L2        CacheLayerConfig `yaml:"l2"`
	Retrieval CacheLayerConfig `yaml:"retrieval"`
	Embedding CacheLayerConfig `yaml:"embedding"`
	RedisAddr string           `yaml:"redisAddr"`
}

// ConfidenceConfig carries the raw-score weights and calibration knobs that
// the specification leaves as configuration (see SPEC_FULL.md §9 Open Questions).
type ConfidenceConfig struct {
	RawScoreWeights RawScoreWeights   `yaml:"raw_score_weights"`
	Buckets         BucketThresholds  `yaml:"buckets"`
	Calibration     CalibrationConfig `yaml:"calibration"`
}

// RawScoreWeights must sum to 1 (validated).
type RawScoreWeights struct {
	Hedging           float64 `yaml:"hedging"`
	Contradiction     float64 `yaml:"contradiction"`
	Citation          float64 `yaml:"citation"`
	EvidenceAgreement float64 `yaml:"evidenceAgreement"`
}

func (w RawScoreWeights) Sum() float64 {
	return w.Hedging + w.Contradiction + w.Citation + w.EvidenceAgreement
}

// BucketThresholds are the calibrated-score cut points of §4.C step 4.
type BucketThresholds struct {
	VeryHigh float64 `yaml:"veryHigh"`
	High     float64 `yaml:"high"`
	Medium   float64 `yaml:"medium"`
	Low      float64 `yaml:"low"`
}

// CalibrationConfig points at the isotonic curve breakpoints, if any have
// been fitted; an empty Points list means identity calibration.
type CalibrationConfig struct {
	Points []CalibrationPoint `yaml:"points"`
}

type CalibrationPoint struct {
	Raw        float64 `yaml:"raw"`
	Calibrated float64 `yaml:"calibrated"`
}

// RetrievalConfig configures the hybrid search engine.
type RetrievalConfig struct {
	TopK             int    `yaml:"topK"`
	RerankEnabled    bool   `yaml:"rerank.enabled"`
	QdrantAddr       string `yaml:"qdrantAddr"`
	QdrantCollection string `yaml:"qdrantCollection"`
}

// ModelConfig configures the Model Provider Client.
type ModelConfig struct {
	Default        string `yaml:"default"`
	TimeoutMs      int    `yaml:"timeoutMs"`
	EmbeddingModel string `yaml:"embeddingModel"`
	BaseURL        string `yaml:"baseURL"`
	APIKeyEnv      string `yaml:"apiKeyEnv"`
	MaxRetries     int    `yaml:"maxRetries"`
}

func (c ModelConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }

// StoreConfig configures the Postgres-backed Conversation Store.
type StoreConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// AgentConfig declares a registrable agent (§6 Agent registration).
type AgentConfig struct {
	Capabilities  map[string]bool `yaml:"capabilities"`
	Tools         []string        `yaml:"tools"`
	ModelPref     string          `yaml:"modelPreference"`
	Warmup        bool            `yaml:"warmup"`
	MaxConcurrent int             `yaml:"maxConcurrent"`
}

// ToolConfig declares a registrable tool (§6 Tool registration).
type ToolConfig struct {
	Description string `yaml:"description"`
	TimeoutMs   int    `yaml:"timeoutMs"`
	Idempotent  bool   `yaml:"idempotent"`
	SideEffects string `yaml:"sideEffects"` // none|read|write
	Fallback    string `yaml:"fallback"`
}

func (c ToolConfig) Timeout() time.Duration { return time.Duration(c.TimeoutMs) * time.Millisecond }
