package orchestrator

import (
	"sort"

	"github.com/tarsy-labs/agentrun/internal/config"
	"github.com/tarsy-labs/agentrun/internal/plan"
)

// Routing is the result of the Route stage (SPEC_FULL.md §4.G step 2).
type Routing struct {
	Primary    string
	Fallbacks  []string
	Strategy   plan.Strategy
	Confidence float64
}

// Route selects a primary agent and ordered fallbacks from the registered
// agent pools based on the domains Analyze inferred and each candidate's
// current load. An agent is a candidate if it declares a capability
// matching the analysis's intent or any of its domains.
func (o *Orchestrator) Route(a Analysis) Routing {
	type candidate struct {
		name string
		load float64 // active/maxConcurrent, lower is better
	}

	var candidates []candidate
	for name, ac := range o.agentConfigs {
		if !matchesCapability(ac, a) {
			continue
		}
		load := 0.0
		if pool, ok := o.pools[name]; ok {
			h := pool.Health()
			if ac.MaxConcurrent > 0 {
				load = float64(h.Active) / float64(ac.MaxConcurrent)
			}
		}
		candidates = append(candidates, candidate{name: name, load: load})
	}

	if len(candidates) == 0 {
		// No declared agent matches; fall back to a generic writer, the same
		// degrade-to-chat behavior agent.NewByName uses for an unknown name.
		return Routing{Primary: "writer", Strategy: plan.StrategySequential, Confidence: 0.3}
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].load < candidates[j].load })

	fallbacks := make([]string, 0, len(candidates)-1)
	for _, c := range candidates[1:] {
		fallbacks = append(fallbacks, c.name)
	}

	strategy := plan.StrategySequential
	if a.Complexity >= 7 {
		strategy = plan.StrategyGraph
	} else if a.Complexity >= 4 {
		strategy = plan.StrategyParallel
	}

	confidence := 0.9
	if a.RuleBased {
		confidence = 0.6
	}

	return Routing{Primary: candidates[0].name, Fallbacks: fallbacks, Strategy: strategy, Confidence: confidence}
}

func matchesCapability(ac config.AgentConfig, a Analysis) bool {
	if ac.Capabilities[a.Intent] {
		return true
	}
	for _, d := range a.Domains {
		if ac.Capabilities[d] {
			return true
		}
	}
	return false
}
