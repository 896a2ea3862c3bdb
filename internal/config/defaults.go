package config

import "time"

// Default returns a configuration that is internally consistent (passes
// Validate) and suitable as a starting point for local development.
func Default() *Config {
	return &Config{
		Query: QueryConfig{DeadlineMs: 30_000, TokenBudget: 120_000, ToolCallBudget: 32},
		Plan:  PlanConfig{MaxSteps: 16},
		Step: StepConfig{
			DefaultTimeoutMs: 10_000,
			MaxRetries:       1,
		},
		Pools: map[string]AgentPoolConfig{
			"writer":    {MaxConcurrent: 8, MinIdle: 1, LeaseWait: 2 * time.Second},
			"research":  {MaxConcurrent: 4, MinIdle: 1, LeaseWait: 3 * time.Second},
			"synthesis": {MaxConcurrent: 4, MinIdle: 1, LeaseWait: 3 * time.Second},
		},
		Cache: CacheConfig{
			L1:        CacheLayerConfig{Enabled: true, Capacity: 512, TTL: 2 * time.Minute, Backend: "memory"},
			L2:        CacheLayerConfig{Enabled: true, Capacity: 2048, TTL: 10 * time.Minute, Threshold: 0.96, Backend: "memory"},
			Retrieval: CacheLayerConfig{Enabled: true, Capacity: 1024, TTL: 5 * time.Minute, Backend: "memory"},
			Embedding: CacheLayerConfig{Enabled: true, Capacity: 50_000, TTL: 24 * time.Hour, Backend: "memory"},
		},
		Confidence: ConfidenceConfig{
			RawScoreWeights: RawScoreWeights{
				Hedging:           0.25,
				Contradiction:     0.25,
				Citation:          0.2,
				EvidenceAgreement: 0.3,
			},
			Buckets: BucketThresholds{VeryHigh: 0.85, High: 0.7, Medium: 0.5, Low: 0.3},
		},
		Retrieval: RetrievalConfig{TopK: 8, RerankEnabled: false},
		Model: ModelConfig{
			Default:        "gpt-4o-mini",
			TimeoutMs:      8_000,
			EmbeddingModel: "text-embedding-3-small",
			MaxRetries:     3,
		},
		Store: StoreConfig{
			Host:            "localhost",
			Port:            5432,
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: time.Hour,
		},
		Agents: map[string]AgentConfig{
			"writer": {
				Capabilities:  map[string]bool{"chat": true, "writing": true, "extraction": true},
				ModelPref:     "gpt-4o-mini",
				MaxConcurrent: 8,
			},
			"research": {
				Capabilities:  map[string]bool{"research": true},
				Tools:         []string{"web_search.search"},
				ModelPref:     "gpt-4o-mini",
				MaxConcurrent: 4,
			},
			"synthesis": {
				Capabilities:  map[string]bool{"synthesis": true},
				ModelPref:     "gpt-4o-mini",
				MaxConcurrent: 4,
			},
		},
		Tools: map[string]ToolConfig{
			"web_search.search": {
				Description: "search the web and return ranked snippets",
				TimeoutMs:   5_000,
				Idempotent:  true,
				SideEffects: "read",
			},
		},
	}
}
