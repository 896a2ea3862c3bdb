package config

import "fmt"

// Validate runs ordered, fail-fast validation over cfg, matching the
// dependency order components are wired in: query/plan/step timing first
// (everything else is bounded by it), then pools, then tools, then agents
// (which reference tools), then cache and confidence.
func Validate(cfg *Config) error {
	if err := validateTiming(cfg); err != nil {
		return fmt.Errorf("timing validation failed: %w", err)
	}
	if err := validatePools(cfg); err != nil {
		return fmt.Errorf("pool validation failed: %w", err)
	}
	if err := validateTools(cfg); err != nil {
		return fmt.Errorf("tool validation failed: %w", err)
	}
	if err := validateAgents(cfg); err != nil {
		return fmt.Errorf("agent validation failed: %w", err)
	}
	if err := validateCache(cfg); err != nil {
		return fmt.Errorf("cache validation failed: %w", err)
	}
	if err := validateConfidence(cfg); err != nil {
		return fmt.Errorf("confidence validation failed: %w", err)
	}
	return nil
}

// validateTiming enforces the timeout hierarchy required by SPEC_FULL.md
// §4.G: stage timeouts ≤ query deadline; per-step timeout ≤ query deadline;
// tool/model timeout ≤ step timeout. A configuration that cannot respect this
// hierarchy is a configuration error and is rejected here, at load time,
// never discovered at runtime.
func validateTiming(cfg *Config) error {
	if cfg.Query.DeadlineMs <= 0 {
		return fmt.Errorf("query.deadlineMs must be positive, got %d", cfg.Query.DeadlineMs)
	}
	if cfg.Step.DefaultTimeoutMs <= 0 {
		return fmt.Errorf("step.defaultTimeoutMs must be positive, got %d", cfg.Step.DefaultTimeoutMs)
	}
	if cfg.Step.DefaultTimeoutMs > cfg.Query.DeadlineMs {
		return fmt.Errorf("step.defaultTimeoutMs (%d) exceeds query.deadlineMs (%d)", cfg.Step.DefaultTimeoutMs, cfg.Query.DeadlineMs)
	}
	if cfg.Step.MaxRetries < 0 {
		return fmt.Errorf("step.maxRetries must be >= 0, got %d", cfg.Step.MaxRetries)
	}
	if cfg.Query.TokenBudget <= 0 {
		return fmt.Errorf("query.tokenBudget must be positive, got %d", cfg.Query.TokenBudget)
	}
	if cfg.Query.ToolCallBudget <= 0 {
		return fmt.Errorf("query.toolCallBudget must be positive, got %d", cfg.Query.ToolCallBudget)
	}
	if cfg.Model.TimeoutMs <= 0 {
		return fmt.Errorf("model.timeoutMs must be positive, got %d", cfg.Model.TimeoutMs)
	}
	if cfg.Model.TimeoutMs > cfg.Step.DefaultTimeoutMs {
		return fmt.Errorf("model.timeoutMs (%d) exceeds step.defaultTimeoutMs (%d)", cfg.Model.TimeoutMs, cfg.Step.DefaultTimeoutMs)
	}
	if cfg.Plan.MaxSteps <= 0 {
		return fmt.Errorf("plan.maxSteps must be positive, got %d", cfg.Plan.MaxSteps)
	}
	return nil
}

func validatePools(cfg *Config) error {
	for name, pool := range cfg.Pools {
		if pool.MaxConcurrent <= 0 {
			return fmt.Errorf("pool %q: maxConcurrent must be positive, got %d", name, pool.MaxConcurrent)
		}
		if pool.MinIdle < 0 || pool.MinIdle > pool.MaxConcurrent {
			return fmt.Errorf("pool %q: minIdle (%d) must be in [0, maxConcurrent=%d]", name, pool.MinIdle, pool.MaxConcurrent)
		}
	}
	return nil
}

func validateTools(cfg *Config) error {
	for name, tool := range cfg.Tools {
		if tool.TimeoutMs <= 0 {
			return fmt.Errorf("tool %q: timeoutMs must be positive, got %d", name, tool.TimeoutMs)
		}
		if tool.TimeoutMs > cfg.Step.DefaultTimeoutMs {
			return fmt.Errorf("tool %q: timeoutMs (%d) exceeds step.defaultTimeoutMs (%d)", name, tool.TimeoutMs, cfg.Step.DefaultTimeoutMs)
		}
		switch tool.SideEffects {
		case "none", "read", "write", "":
		default:
			return fmt.Errorf("tool %q: unknown sideEffects %q", name, tool.SideEffects)
		}
		if tool.Fallback != "" {
			if _, ok := cfg.Tools[tool.Fallback]; !ok {
				return fmt.Errorf("tool %q: fallback references unknown tool %q", name, tool.Fallback)
			}
		}
	}
	return nil
}

// validateAgents rejects any agent declaring a tool or pool that was not
// itself registered, and any agent without a matching pool entry.
func validateAgents(cfg *Config) error {
	for name, agent := range cfg.Agents {
		if _, ok := cfg.Pools[name]; !ok {
			return fmt.Errorf("agent %q: no pool.%s configuration", name, name)
		}
		for _, toolName := range agent.Tools {
			if _, ok := cfg.Tools[toolName]; !ok {
				return fmt.Errorf("agent %q: references unknown tool %q", name, toolName)
			}
		}
	}
	return nil
}

func validateCache(cfg *Config) error {
	if cfg.Cache.L2.Enabled && (cfg.Cache.L2.Threshold <= 0 || cfg.Cache.L2.Threshold > 1) {
		return fmt.Errorf("cache.l2.threshold must be in (0, 1], got %f", cfg.Cache.L2.Threshold)
	}
	for _, layer := range []struct {
		name string
		c    CacheLayerConfig
	}{
		{"l1", cfg.Cache.L1}, {"l2", cfg.Cache.L2}, {"retrieval", cfg.Cache.Retrieval}, {"embedding", cfg.Cache.Embedding},
	} {
		if layer.c.Enabled && layer.c.Capacity <= 0 {
			return fmt.Errorf("cache.%s.capacity must be positive when enabled, got %d", layer.name, layer.c.Capacity)
		}
		if layer.c.Backend == "redis" && cfg.Cache.RedisAddr == "" {
			return fmt.Errorf("cache.%s.backend=redis requires cache.redisAddr", layer.name)
		}
	}
	return nil
}

func validateConfidence(cfg *Config) error {
	const epsilon = 1e-6
	sum := cfg.Confidence.RawScoreWeights.Sum()
	if sum < 1-epsilon || sum > 1+epsilon {
		return fmt.Errorf("confidence.raw_score_weights must sum to 1, got %f", sum)
	}
	b := cfg.Confidence.Buckets
	if !(b.VeryHigh > b.High && b.High > b.Medium && b.Medium > b.Low) {
		return fmt.Errorf("confidence.buckets must be strictly decreasing veryHigh>high>medium>low, got %+v", b)
	}
	var prevRaw, prevCal float64 = -1, -1
	for i, p := range cfg.Confidence.Calibration.Points {
		if p.Raw < prevRaw || p.Calibrated < prevCal {
			return fmt.Errorf("confidence.calibration.points must be monotonic non-decreasing, violated at index %d", i)
		}
		prevRaw, prevCal = p.Raw, p.Calibrated
	}
	return nil
}
