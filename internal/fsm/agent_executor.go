package fsm

import (
	"context"

	"github.com/wpierozak/pipiline-agent/internal/agentcore"
)

// AgentExecutor adapts an agentcore.Agent to the Executor interface a
// Stable or Transient state needs, so a state's work is just "run this
// agent against the current input."
type AgentExecutor struct {
	Agent *agentcore.Agent
}

func (e AgentExecutor) Execute(ctx context.Context, input string) (string, error) {
	result, err := e.Agent.Execute(ctx, input)
	if err != nil {
		return "", err
	}
	return result.Output, nil
}
