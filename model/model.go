package model

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ============================================================================
// SCENARIO SUITE CONFIGURATION
// ============================================================================

type ScenarioSuite struct {
	Name      string            `yaml:"name"`
	Variables map[string]string `yaml:"variables,omitempty"`
	Settings  Settings          `yaml:"settings"`
	Scenarios []Scenario        `yaml:"scenarios"`
}

type Settings struct {
	Verbose     bool   `yaml:"verbose"`
	StepDelay   string `yaml:"step_delay"`
	StrictScore bool   `yaml:"strict_score"` // every expectation must be met, score ignored
	Network     string `yaml:"network"`      // default network for background actions
	RateLimit   string `yaml:"rate_limit"`   // min interval between chain submissions
	MaxRetries  int    `yaml:"max_retries"`  // transient chain error retries
}

// ============================================================================
// SCENARIO MODEL
// ============================================================================

type ScenarioCategory string

const (
	CategoryHappyPath   ScenarioCategory = "happy-path"
	CategoryEdgeCase    ScenarioCategory = "edge-case"
	CategoryAdversarial ScenarioCategory = "adversarial"
	CategoryJailbreak   ScenarioCategory = "jailbreak"
)

type Scenario struct {
	ID           string                  `yaml:"id"`
	Name         string                  `yaml:"name"`
	Description  string                  `yaml:"description,omitempty"`
	Category     ScenarioCategory        `yaml:"category"`
	Tags         []string                `yaml:"tags,omitempty"`
	Setup        *ScenarioSetup          `yaml:"setup,omitempty"`
	Steps        []ScenarioStep          `yaml:"steps"`
	Expectations []*ScenarioExpectation  `yaml:"expectations"`
	Variables    map[string]string       `yaml:"variables,omitempty"`
}

// ScenarioSetup is pass-through data for the host: entity funding and chain
// state seeding happen outside the engine.
type ScenarioSetup struct {
	Entities []SetupEntity `yaml:"entities,omitempty"`
	Network  string        `yaml:"network,omitempty"`
}

type SetupEntity struct {
	Name    string `yaml:"name"`
	Balance string `yaml:"balance,omitempty"`
	Type    string `yaml:"type,omitempty"` // wallet, multisig, proxy
}

// ============================================================================
// STEP MODEL
// ============================================================================

type StepType string

const (
	StepPrompt    StepType = "prompt"
	StepAction    StepType = "action"
	StepWait      StepType = "wait"
	StepAssertion StepType = "assertion"
)

type ScenarioStep struct {
	Type      StepType       `yaml:"type"`
	Prompt    string         `yaml:"prompt,omitempty"`
	Action    string         `yaml:"action,omitempty"`
	Entity    string         `yaml:"entity,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
	Wait      string         `yaml:"wait,omitempty"`
	Assertion *AssertionSpec `yaml:"assertion,omitempty"`
	PreDelay  string         `yaml:"pre_delay,omitempty"`
	PostDelay string         `yaml:"post_delay,omitempty"`
}

// AssertionSpec is a typed check evaluated against the latest captured
// outcome during execution (distinct from post-run expectations).
type AssertionSpec struct {
	Type      string `yaml:"type"`
	Value     string `yaml:"value,omitempty"`
	Agent     string `yaml:"agent,omitempty"`
	Entity    string `yaml:"entity,omitempty"`
	Amount    string `yaml:"amount,omitempty"`
	Tolerance string `yaml:"tolerance,omitempty"`
	Path      string `yaml:"path,omitempty"`
	Check     string `yaml:"check,omitempty"`
}

// ============================================================================
// STEP RESULT
// ============================================================================

type ResponseType string

const (
	ResponseExecution     ResponseType = "execution"
	ResponseJSON          ResponseType = "json"
	ResponseError         ResponseType = "error"
	ResponseClarification ResponseType = "clarification"
	ResponseText          ResponseType = "text"
)

// AgentResponse is the opaque payload delivered by the host when the driven
// surface produces a reply.
type AgentResponse struct {
	Type   ResponseType    `json:"type"`
	Text   string          `json:"text"`
	Parsed any             `json:"parsed,omitempty"`
	Plan   []PlanStep      `json:"plan,omitempty"`
	Stats  *ExecutionStats `json:"stats,omitempty"`
}

// PlanStep is one {agent, function, parameters} attribution extracted from a
// driven system's response.
type PlanStep struct {
	AgentClassName string         `json:"agentClassName" yaml:"agent"`
	FunctionName   string         `json:"functionName" yaml:"function"`
	Parameters     map[string]any `json:"parameters" yaml:"parameters"`
}

type ExecutionStats struct {
	TotalTimeMs int64 `json:"totalTimeMs"`
	Iterations  int   `json:"iterations,omitempty"`
	TokensUsed  int   `json:"tokensUsed,omitempty"`
}

// StepResult is the per-step record. Appended to the run's outcome list in
// execution order; never mutated after append, except that a step
// interrupted while waiting is recorded as a partial unsuccessful outcome.
type StepResult struct {
	StepIndex  int               `json:"stepIndex"`
	StepType   StepType          `json:"stepType"`
	Success    bool              `json:"success"`
	StartTime  time.Time         `json:"startTime"`
	EndTime    time.Time         `json:"endTime"`
	DurationMs int64             `json:"durationMs"`
	Response   *AgentResponse    `json:"response,omitempty"`
	Plan       []PlanStep        `json:"plan,omitempty"`
	Stats      *ExecutionStats   `json:"stats,omitempty"`
	Error      string            `json:"error,omitempty"`
	Assertions []AssertionResult `json:"assertions,omitempty"`
}

type AssertionResult struct {
	Type    string         `json:"type"`
	Passed  bool           `json:"passed"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// ============================================================================
// EXPECTATION MODEL
// ============================================================================

// ScenarioExpectation is a node in an expectation tree: leaf checks, logical
// combinators, or both. Logical fields dominate evaluation when present.
type ScenarioExpectation struct {
	Name             string         `yaml:"name,omitempty"`
	ResponseType     string         `yaml:"response_type,omitempty"`
	ExpectedAgent    string         `yaml:"expected_agent,omitempty"`
	ExpectedFunction string         `yaml:"expected_function,omitempty"`
	ExpectedParams   map[string]any `yaml:"expected_params,omitempty"`
	ShouldContain    []string       `yaml:"should_contain,omitempty"`
	ShouldNotContain []string       `yaml:"should_not_contain,omitempty"`
	ShouldMention    []string       `yaml:"should_mention,omitempty"`
	ShouldAskFor     []string       `yaml:"should_ask_for,omitempty"`
	ShouldWarnAbout  []string       `yaml:"should_warn_about,omitempty"`
	ShouldReject     *bool          `yaml:"should_reject,omitempty"`
	CustomCheck      string         `yaml:"custom_check,omitempty"`

	// Logical combinators
	All  []*ScenarioExpectation `yaml:"all,omitempty"`
	Any  []*ScenarioExpectation `yaml:"any,omitempty"`
	Not  *ScenarioExpectation   `yaml:"not,omitempty"`
	When *ScenarioExpectation   `yaml:"when,omitempty"`
	Then *ScenarioExpectation   `yaml:"then,omitempty"`
	Else *ScenarioExpectation   `yaml:"else,omitempty"`
}

// IsLogical reports whether any combinator field is set.
func (e *ScenarioExpectation) IsLogical() bool {
	return len(e.All) > 0 || len(e.Any) > 0 || e.Not != nil || e.When != nil || e.Then != nil || e.Else != nil
}

// ============================================================================
// EVALUATION RESULT
// ============================================================================

type EvaluationResult struct {
	ScenarioID      string               `json:"scenarioId"`
	ScenarioName    string               `json:"scenarioName"`
	Passed          bool                 `json:"passed"`
	Score           int                  `json:"score"` // 0-100
	Expectations    []ExpectationOutcome `json:"expectations"`
	FailedChecks    []CheckResult        `json:"failedChecks,omitempty"`
	Summary         string               `json:"summary"`
	Recommendations []string             `json:"recommendations,omitempty"`
	Insights        []string             `json:"insights,omitempty"`
	Performance     *PerformanceStats    `json:"performance,omitempty"`
}

type ExpectationOutcome struct {
	Name   string        `json:"name"`
	Met    bool          `json:"met"`
	Score  int           `json:"score"`
	Checks []CheckResult `json:"checks"`
}

type CheckResult struct {
	Name    string `json:"name"`
	Passed  bool   `json:"passed"`
	Score   int    `json:"score"`
	Message string `json:"message"`
}

type PerformanceStats struct {
	TotalDurationMs   int64 `json:"totalDurationMs"`
	AverageDurationMs int64 `json:"averageDurationMs"`
	SlowestStepMs     int64 `json:"slowestStepMs"`
	SlowestStepIndex  int   `json:"slowestStepIndex"`
	FastestStepMs     int64 `json:"fastestStepMs"`
	FastestStepIndex  int   `json:"fastestStepIndex"`
}

// ============================================================================
// UTILITY FUNCTIONS
// ============================================================================

func DeepEqual(a, b any) bool {
	return Normalize(a) == Normalize(b)
}

// Normalize renders a value as its canonical string form so that loosely
// typed scenario data ("5", 5, 5.0) compares consistently.
func Normalize(v any) string {
	if v == nil {
		return "null"
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		var parts []string
		for i := 0; i < rv.Len(); i++ {
			parts = append(parts, Normalize(rv.Index(i).Interface()))
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f == float64(int64(f)) {
			return fmt.Sprintf("%d", int64(f))
		}
		return fmt.Sprintf("%g", f)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return fmt.Sprintf("%d", rv.Int())
	case reflect.Bool:
		return fmt.Sprintf("%t", rv.Bool())
	case reflect.String:
		return rv.String()
	default:
		return fmt.Sprint(v)
	}
}

// ============================================================================
// YAML PARSER
// ============================================================================

func ParseSuiteFile(filename string) (*ScenarioSuite, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return ParseSuiteFromString(string(data))
}

func ParseSuiteFromString(definition string) (*ScenarioSuite, error) {
	var suite ScenarioSuite
	if err := yaml.Unmarshal([]byte(definition), &suite); err != nil {
		return nil, fmt.Errorf("failed to parse YAML suite: %w", err)
	}

	return &suite, nil
}

// ValidateSuite checks structural suite requirements plus every scenario's
// expectation trees. A suite with any invalid scenario must not run.
func ValidateSuite(suite *ScenarioSuite) error {
	if suite == nil {
		return fmt.Errorf("suite is nil")
	}

	if len(suite.Scenarios) == 0 {
		return fmt.Errorf("no scenarios configured")
	}

	for i, sc := range suite.Scenarios {
		if sc.ID == "" {
			return fmt.Errorf("scenario at index %d has empty id", i)
		}
		if len(sc.Steps) == 0 {
			return fmt.Errorf("scenario '%s' has no steps", sc.ID)
		}
		if len(sc.Expectations) == 0 {
			return fmt.Errorf("scenario '%s' has no expectations", sc.ID)
		}
		for j, exp := range sc.Expectations {
			res := ValidateExpectation(exp)
			if !res.Valid {
				return fmt.Errorf("scenario '%s' expectation %d is invalid: %s",
					sc.ID, j, strings.Join(res.Errors, "; "))
			}
		}
	}

	return nil
}
