package agent

import (
	"context"

	"github.com/tarsy-labs/agentrun/internal/agentpool"
	"github.com/tarsy-labs/agentrun/internal/config"
)

// NewFactory builds an agentpool.Factory that constructs the Worker variant
// registered for each agent name, using the model preference declared in
// that agent's AgentConfig. This is the one place agentpool.Instance and
// agent.Worker meet: every Worker variant already satisfies Instance.
func NewFactory(agents map[string]config.AgentConfig) agentpool.Factory {
	return func(_ context.Context, name string) (agentpool.Instance, error) {
		modelPref := "gpt-4o-mini"
		if a, ok := agents[name]; ok && a.ModelPref != "" {
			modelPref = a.ModelPref
		}
		return NewByName(name, modelPref), nil
	}
}
