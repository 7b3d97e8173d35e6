package evaluator

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/expr-lang/expr"
)

// ============================================================================
// CUSTOM CHECK REGISTRY
// ============================================================================

// CustomCheckFunc is a named predicate evaluated against the captured
// response and the full outcome history.
type CustomCheckFunc func(response *model.AgentResponse, outcomes []model.StepResult) (bool, string)

// CheckRegistry holds named custom checks. A check reference that is not a
// registered name is compiled as a side-effect-free expression instead;
// free-form executable snippets are never run.
type CheckRegistry struct {
	mu    sync.RWMutex
	named map[string]CustomCheckFunc
}

func NewCheckRegistry() *CheckRegistry {
	return &CheckRegistry{named: make(map[string]CustomCheckFunc)}
}

func (r *CheckRegistry) Register(name string, fn CustomCheckFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.named[name] = fn
}

func (r *CheckRegistry) lookup(name string) (CustomCheckFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.named[name]
	return fn, ok
}

// Run evaluates a custom check by registry name or, failing that, as an
// expression over the response environment. An erroring check is reported
// as a failure with the error text, never propagated.
func (r *CheckRegistry) Run(check string, response *model.AgentResponse, outcomes []model.StepResult) (passed bool, message string) {
	defer func() {
		if rec := recover(); rec != nil {
			passed = false
			message = fmt.Sprintf("custom check '%s' panicked: %v", check, rec)
		}
	}()

	if fn, ok := r.lookup(check); ok {
		return fn(response, outcomes)
	}

	return r.runExpression(check, response, outcomes)
}

func (r *CheckRegistry) runExpression(source string, response *model.AgentResponse, outcomes []model.StepResult) (bool, string) {
	text := ""
	respType := ""
	var plan []model.PlanStep
	if response != nil {
		text = response.Text
		respType = string(response.Type)
		plan = response.Plan
	}

	env := map[string]any{
		"text":     text,
		"type":     respType,
		"plan":     plan,
		"outcomes": outcomes,
		"contains": func(s, sub string) bool {
			return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
		},
	}

	program, err := expr.Compile(source, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Sprintf("custom check failed to compile: %v", err)
	}

	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Sprintf("custom check failed to run: %v", err)
	}

	ok, _ := out.(bool)
	if ok {
		return true, "custom check passed"
	}
	return false, fmt.Sprintf("custom check '%s' returned false", source)
}
