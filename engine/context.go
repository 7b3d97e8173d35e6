package engine

import (
	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/google/uuid"
)

// ============================================================================
// EXECUTION CONTEXT
// ============================================================================

// lateResponseKey is where a response that arrives after its wait was
// cancelled is stored opportunistically, so an interrupted step can still
// complete normally.
const lateResponseKey = "__lateResponse"

// ExecutionContext is the per-run mutable state. It is owned by exactly one
// executor run; variable writes from step N are visible to step N+1
// (single writer). Host callbacks write through the executor's mutex.
type ExecutionContext struct {
	RunID         string
	Scenario      *model.Scenario
	Outcomes      []model.StepResult
	Variables     map[string]any
	CurrentPrompt string
}

func NewExecutionContext(sc *model.Scenario) *ExecutionContext {
	ec := &ExecutionContext{
		RunID:     uuid.New().String(),
		Scenario:  sc,
		Variables: make(map[string]any),
	}
	for k, v := range sc.Variables {
		ec.Variables[k] = v
	}
	return ec
}

// LastOutcome returns the most recent step outcome, or nil before any step
// completed.
func (ec *ExecutionContext) LastOutcome() *model.StepResult {
	if len(ec.Outcomes) == 0 {
		return nil
	}
	return &ec.Outcomes[len(ec.Outcomes)-1]
}

// LastResponse returns the most recent captured agent response across all
// outcomes, or nil.
func (ec *ExecutionContext) LastResponse() *model.AgentResponse {
	for i := len(ec.Outcomes) - 1; i >= 0; i-- {
		if ec.Outcomes[i].Response != nil {
			return ec.Outcomes[i].Response
		}
	}
	return nil
}
