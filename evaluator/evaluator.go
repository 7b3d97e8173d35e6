// Package evaluator walks scenario expectation trees against captured step
// outcomes and produces a scored verdict with a structured report.
package evaluator

import (
	"fmt"
	"log/slog"
	"math"
	"strings"

	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/life4/genesis/slices"
)

// PassThreshold is the non-strict overall score needed to pass.
const PassThreshold = 70

// EntityResolver maps a short human entity name (e.g. "Alice") to its chain
// address, so a name and the address it resolves to compare as equal.
type EntityResolver func(name string) (string, bool)

type Evaluator struct {
	resolver EntityResolver
	registry *CheckRegistry
	log      *slog.Logger
}

type Option func(*Evaluator)

func WithResolver(r EntityResolver) Option {
	return func(ev *Evaluator) { ev.resolver = r }
}

func WithRegistry(reg *CheckRegistry) Option {
	return func(ev *Evaluator) { ev.registry = reg }
}

func New(opts ...Option) *Evaluator {
	ev := &Evaluator{
		registry: NewCheckRegistry(),
		log:      logger.ForSubsystem(logger.SubsystemEvaluator),
	}
	for _, opt := range opts {
		opt(ev)
	}
	return ev
}

// Registry exposes the custom check registry for host registration.
func (ev *Evaluator) Registry() *CheckRegistry {
	return ev.registry
}

// ============================================================================
// EVALUATION INPUT
// ============================================================================

// evalInput is the view of a run the checks operate on: the latest non-empty
// response text, the ordered list of all response texts, and the union of
// the execution-plan steps across every outcome. The union matters: a
// multi-step conversation may place the plan in an earlier outcome than the
// final response text.
type evalInput struct {
	latest   *model.AgentResponse
	text     string
	allTexts []string
	plan     []model.PlanStep
	outcomes []model.StepResult
}

func buildInput(outcomes []model.StepResult) evalInput {
	in := evalInput{outcomes: outcomes}

	for _, out := range outcomes {
		if out.Response == nil {
			continue
		}
		if out.Response.Text != "" {
			in.allTexts = append(in.allTexts, out.Response.Text)
			in.text = out.Response.Text
			in.latest = out.Response
		}
		in.plan = append(in.plan, out.Plan...)
	}

	return in
}

// ============================================================================
// EVALUATION
// ============================================================================

// Evaluate walks every expectation tree of the scenario against the
// captured outcomes and folds the results into a pass/fail verdict with a
// 0-100 score.
func (ev *Evaluator) Evaluate(sc *model.Scenario, outcomes []model.StepResult, strict bool) *model.EvaluationResult {
	in := buildInput(outcomes)

	result := &model.EvaluationResult{
		ScenarioID:   sc.ID,
		ScenarioName: sc.Name,
	}

	total := 0
	allMet := true
	for i, exp := range sc.Expectations {
		outcome := ev.evaluateNode(exp, in)
		if outcome.Name == "" {
			outcome.Name = fmt.Sprintf("expectation-%d", i+1)
		}
		result.Expectations = append(result.Expectations, outcome)
		total += outcome.Score
		if !outcome.Met {
			allMet = false
		}
		for _, check := range outcome.Checks {
			if !check.Passed {
				result.FailedChecks = append(result.FailedChecks, check)
			}
		}
	}

	if len(result.Expectations) > 0 {
		result.Score = int(math.Round(float64(total) / float64(len(result.Expectations))))
	}

	if strict {
		result.Passed = allMet
	} else {
		result.Passed = result.Score >= PassThreshold
	}

	ev.log.Debug("Scenario evaluated",
		"scenario", sc.ID,
		"score", result.Score,
		"passed", result.Passed,
		"expectations", len(result.Expectations))

	return result
}

// QuickCheck is the boolean-only shortcut.
func (ev *Evaluator) QuickCheck(sc *model.Scenario, outcomes []model.StepResult, strict bool) bool {
	return ev.Evaluate(sc, outcomes, strict).Passed
}

// evaluateNode evaluates one expectation node. Logical combinators dominate
// when present; otherwise the node's leaf checks are averaged. Children are
// always evaluated in full (no short-circuit) so checks[] stays auditable.
func (ev *Evaluator) evaluateNode(e *model.ScenarioExpectation, in evalInput) model.ExpectationOutcome {
	if e == nil {
		return model.ExpectationOutcome{Met: false, Checks: []model.CheckResult{{
			Name: "structure", Passed: false, Message: "expectation is nil",
		}}}
	}

	if e.IsLogical() {
		return ev.evaluateLogical(e, in)
	}

	checks := ev.runLeafChecks(e, in)
	return foldChecks(e.Name, checks)
}

func foldChecks(name string, checks []model.CheckResult) model.ExpectationOutcome {
	outcome := model.ExpectationOutcome{Name: name, Checks: checks, Met: true}

	if len(checks) == 0 {
		outcome.Met = false
		outcome.Checks = append(outcome.Checks, model.CheckResult{
			Name: "structure", Passed: false,
			Message: "expectation has no checks and no combinators",
		})
		return outcome
	}

	total := 0
	for _, c := range checks {
		total += c.Score
		if !c.Passed {
			outcome.Met = false
		}
	}
	outcome.Score = int(math.Round(float64(total) / float64(len(checks))))
	return outcome
}

func (ev *Evaluator) evaluateLogical(e *model.ScenarioExpectation, in evalInput) model.ExpectationOutcome {
	switch {
	case len(e.All) > 0:
		children := slices.Map(e.All, func(c *model.ScenarioExpectation) model.ExpectationOutcome {
			return ev.evaluateNode(c, in)
		})
		outcome := model.ExpectationOutcome{Name: e.Name, Met: true}
		total := 0
		for _, child := range children {
			total += child.Score
			if !child.Met {
				outcome.Met = false
			}
			outcome.Checks = append(outcome.Checks, child.Checks...)
		}
		outcome.Score = int(math.Round(float64(total) / float64(len(children))))
		return outcome

	case len(e.Any) > 0:
		children := slices.Map(e.Any, func(c *model.ScenarioExpectation) model.ExpectationOutcome {
			return ev.evaluateNode(c, in)
		})
		outcome := model.ExpectationOutcome{Name: e.Name, Met: false}
		best := 0
		for _, child := range children {
			if child.Met {
				outcome.Met = true
			}
			if child.Score > best {
				best = child.Score
			}
			outcome.Checks = append(outcome.Checks, child.Checks...)
		}
		outcome.Score = best
		return outcome

	case e.Not != nil:
		child := ev.evaluateNode(e.Not, in)
		met := !child.Met
		score := 0
		if met {
			score = 100
		}
		return model.ExpectationOutcome{
			Name: e.Name, Met: met, Score: score,
			Checks: []model.CheckResult{{
				Name:    "not",
				Passed:  met,
				Score:   score,
				Message: fmt.Sprintf("negated child met=%t", child.Met),
			}},
		}

	case e.When != nil:
		cond := ev.evaluateNode(e.When, in)
		if cond.Met {
			if e.Then != nil {
				outcome := ev.evaluateNode(e.Then, in)
				outcome.Name = e.Name
				return outcome
			}
			cond.Name = e.Name
			return cond
		}
		if e.Else != nil {
			outcome := ev.evaluateNode(e.Else, in)
			outcome.Name = e.Name
			return outcome
		}
		cond.Name = e.Name
		return cond
	}

	// Then/Else without When: the validator rejects this shape, but degrade
	// to a failed outcome rather than panic if it reaches evaluation.
	return model.ExpectationOutcome{Name: e.Name, Met: false, Checks: []model.CheckResult{{
		Name: "structure", Passed: false,
		Message: "'then'/'else' present without 'when'",
	}}}
}

// ============================================================================
// LEAF CHECKS
// ============================================================================

func (ev *Evaluator) runLeafChecks(e *model.ScenarioExpectation, in evalInput) []model.CheckResult {
	checks := make([]model.CheckResult, 0, 4)

	if e.ResponseType != "" {
		checks = append(checks, ev.checkResponseType(e.ResponseType, in))
	}
	if e.ExpectedAgent != "" {
		checks = append(checks, ev.checkAgent(e.ExpectedAgent, in))
	}
	if e.ExpectedFunction != "" {
		checks = append(checks, ev.checkFunction(e.ExpectedAgent, e.ExpectedFunction, in))
	}
	for key, expected := range e.ExpectedParams {
		checks = append(checks, ev.checkParam(e.ExpectedAgent, e.ExpectedFunction, key, expected, in))
	}
	for _, needle := range e.ShouldContain {
		checks = append(checks, textCheck("contains:"+needle,
			strings.Contains(strings.ToLower(in.text), strings.ToLower(needle)),
			fmt.Sprintf("response does not contain '%s'", needle)))
	}
	for _, needle := range e.ShouldNotContain {
		checks = append(checks, textCheck("not-contains:"+needle,
			!strings.Contains(strings.ToLower(in.text), strings.ToLower(needle)),
			fmt.Sprintf("response contains forbidden text '%s'", needle)))
	}
	for _, topic := range e.ShouldMention {
		checks = append(checks, textCheck("mentions:"+topic,
			mentionsTopic(in.text, topic),
			fmt.Sprintf("response does not mention '%s'", topic)))
	}
	for _, topic := range e.ShouldAskFor {
		checks = append(checks, textCheck("asks-for:"+topic,
			asksFor(in.text, topic),
			fmt.Sprintf("response does not ask for '%s'", topic)))
	}
	for _, topic := range e.ShouldWarnAbout {
		checks = append(checks, textCheck("warns-about:"+topic,
			warnsAbout(in.text, topic),
			fmt.Sprintf("response does not warn about '%s'", topic)))
	}
	if e.ShouldReject != nil {
		rejected := detectRejection(in.text)
		passed := rejected == *e.ShouldReject
		msg := fmt.Sprintf("expected rejection=%t, detected rejection=%t", *e.ShouldReject, rejected)
		checks = append(checks, textCheck("rejection", passed, msg))
	}
	if e.CustomCheck != "" {
		passed, msg := ev.registry.Run(e.CustomCheck, in.latest, in.outcomes)
		checks = append(checks, textCheck("custom:"+e.CustomCheck, passed, msg))
	}

	return checks
}

func textCheck(name string, passed bool, failMsg string) model.CheckResult {
	score := 0
	msg := failMsg
	if passed {
		score = 100
		msg = "check passed"
	}
	return model.CheckResult{Name: name, Passed: passed, Score: score, Message: msg}
}

func (ev *Evaluator) checkResponseType(expected string, in evalInput) model.CheckResult {
	derived := model.ClassifyResponse(in.text, in.plan)
	passed := strings.EqualFold(string(derived), expected)
	return textCheck("response-type", passed,
		fmt.Sprintf("expected response type '%s', got '%s'", expected, derived))
}

// agentMatches accepts exact or case-insensitive substring match in either
// direction, so "AssetTransferAgent" matches "asset transfer".
func agentMatches(actual, expected string) bool {
	a := strings.ToLower(actual)
	e := strings.ToLower(expected)
	return a == e || strings.Contains(a, e) || strings.Contains(e, a)
}

func (ev *Evaluator) checkAgent(expected string, in evalInput) model.CheckResult {
	for _, step := range in.plan {
		if agentMatches(step.AgentClassName, expected) {
			return textCheck("agent", true, "")
		}
	}
	return textCheck("agent", false,
		fmt.Sprintf("no plan step attributed to agent '%s'", expected))
}

// checkFunction scopes the search to plan steps already matching the
// expected agent, when one is given.
func (ev *Evaluator) checkFunction(expectedAgent, expectedFn string, in evalInput) model.CheckResult {
	candidates := ev.scopedPlan(expectedAgent, "", in)
	for _, step := range candidates {
		if agentMatches(step.FunctionName, expectedFn) {
			return textCheck("function", true, "")
		}
	}
	return textCheck("function", false,
		fmt.Sprintf("no plan step calling function '%s'", expectedFn))
}

func (ev *Evaluator) scopedPlan(expectedAgent, expectedFn string, in evalInput) []model.PlanStep {
	return slices.Filter(in.plan, func(step model.PlanStep) bool {
		if expectedAgent != "" && !agentMatches(step.AgentClassName, expectedAgent) {
			return false
		}
		if expectedFn != "" && !agentMatches(step.FunctionName, expectedFn) {
			return false
		}
		return true
	})
}

func (ev *Evaluator) checkParam(expectedAgent, expectedFn, key string, expected any, in evalInput) model.CheckResult {
	name := "param:" + key
	candidates := ev.scopedPlan(expectedAgent, expectedFn, in)
	if len(candidates) == 0 {
		return textCheck(name, false, "no matching plan steps to search for parameters")
	}

	for _, step := range candidates {
		actual, ok := lookupParam(step.Parameters, key)
		if !ok {
			continue
		}
		if ev.paramValueMatches(actual, expected) {
			return textCheck(name, true, "")
		}
	}

	return textCheck(name, false,
		fmt.Sprintf("no plan step has parameter '%s' matching %s", key, model.Normalize(expected)))
}

func lookupParam(params map[string]any, key string) (any, bool) {
	if v, ok := params[key]; ok {
		return v, true
	}
	for k, v := range params {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}

// paramValueMatches runs the comparison evaluator against the raw value,
// then falls back to case-insensitive equality and entity-name resolution:
// a short human name and the long chain address it resolves to are treated
// as equal.
func (ev *Evaluator) paramValueMatches(actual, expected any) bool {
	if model.EvaluateComparison(actual, expected).Passed {
		return true
	}

	if _, isOps := model.IsOperatorSet(expected); isOps {
		return false
	}

	a := model.Normalize(actual)
	e := model.Normalize(expected)
	if strings.EqualFold(a, e) {
		return true
	}

	if ev.resolver != nil {
		ra := a
		if addr, ok := ev.resolver(a); ok {
			ra = addr
		}
		re := e
		if addr, ok := ev.resolver(e); ok {
			re = addr
		}
		return strings.EqualFold(ra, re)
	}

	return false
}
