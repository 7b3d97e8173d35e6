package engine

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/yalp/jsonpath"

	"github.com/dotbot-ai/scenario-engine/model"
)

// ============================================================================
// STEP ASSERTIONS
// ============================================================================

// Step assertion kinds, checked mid-run against the latest captured
// outcome. A failed assertion marks its step unsuccessful without
// stopping the run.
const (
	AssertResponseContains = "response-contains"
	AssertAgentCalled      = "agent-called"
	AssertExtrinsicCreated = "extrinsic-created"
	AssertBalanceEquals    = "balance-equals"
	AssertErrorReported    = "error-reported"
	AssertJSONMatches      = "response-json-matches"
	AssertCustom           = "custom"
)

func (x *StepExecutor) runAssertionStep(ctx context.Context, ec *ExecutionContext, res *model.StepResult, assertion *model.AssertionSpec) error {
	if assertion == nil {
		return fmt.Errorf("assertion step has no assertion")
	}

	var ar model.AssertionResult
	switch assertion.Type {
	case AssertResponseContains:
		ar = x.assertResponseContains(ec, assertion)
	case AssertAgentCalled:
		ar = x.assertAgentCalled(ec, assertion)
	case AssertExtrinsicCreated:
		ar = x.assertExtrinsicCreated(ec, assertion)
	case AssertBalanceEquals:
		ar = x.assertBalanceEquals(ctx, assertion)
	case AssertErrorReported:
		ar = x.assertErrorReported(ec)
	case AssertJSONMatches:
		ar = x.assertJSONMatches(ec, assertion)
	case AssertCustom:
		ar = x.assertCustom(ec, assertion)
	default:
		return fmt.Errorf("unknown assertion type '%s'", assertion.Type)
	}

	ar.Type = assertion.Type
	res.Assertions = append(res.Assertions, ar)
	res.Success = ar.Passed

	if !ar.Passed {
		x.log.Warn("Assertion failed", "type", assertion.Type, "message", ar.Message)
	}
	return nil
}

func (x *StepExecutor) assertResponseContains(ec *ExecutionContext, a *model.AssertionSpec) model.AssertionResult {
	resp := ec.LastResponse()
	if resp == nil {
		return failed("no response captured yet")
	}
	if strings.Contains(strings.ToLower(resp.Text), strings.ToLower(a.Value)) {
		return passed(fmt.Sprintf("response contains '%s'", a.Value))
	}
	return failed(fmt.Sprintf("response does not contain '%s'", a.Value))
}

func (x *StepExecutor) assertAgentCalled(ec *ExecutionContext, a *model.AssertionSpec) model.AssertionResult {
	want := strings.ToLower(a.Agent)
	for _, outcome := range ec.Outcomes {
		for _, step := range outcome.Plan {
			got := strings.ToLower(step.AgentClassName)
			if strings.Contains(got, want) || strings.Contains(want, got) {
				return passed(fmt.Sprintf("agent '%s' was invoked", step.AgentClassName))
			}
		}
	}
	return failed(fmt.Sprintf("agent '%s' was never invoked", a.Agent))
}

func (x *StepExecutor) assertExtrinsicCreated(ec *ExecutionContext, a *model.AssertionSpec) model.AssertionResult {
	x.mu.Lock()
	raw, ok := ec.Variables[lastExtrinsicKey]
	x.mu.Unlock()
	if !ok {
		return failed("no extrinsic has been submitted")
	}
	ext, ok := raw.(Extrinsic)
	if !ok {
		return failed("no extrinsic has been submitted")
	}
	if a.Value != "" {
		full := ext.Pallet + "." + ext.Call
		if !strings.EqualFold(full, a.Value) {
			return failed(fmt.Sprintf("last extrinsic is %s, expected %s", full, a.Value))
		}
	}
	return passed(fmt.Sprintf("extrinsic %s.%s was submitted", ext.Pallet, ext.Call))
}

func (x *StepExecutor) assertBalanceEquals(ctx context.Context, a *model.AssertionSpec) model.AssertionResult {
	expected, err := strconv.ParseFloat(a.Amount, 64)
	if err != nil {
		return failed(fmt.Sprintf("amount '%s' is not numeric", a.Amount))
	}

	tolerance := 0.0
	if a.Tolerance != "" {
		tolerance, err = strconv.ParseFloat(a.Tolerance, 64)
		if err != nil {
			return failed(fmt.Sprintf("tolerance '%s' is not numeric", a.Tolerance))
		}
	}

	actual, err := x.queryBalance(ctx, a.Entity)
	if err != nil {
		return failed(fmt.Sprintf("balance query failed: %v", err))
	}

	if math.Abs(actual-expected) <= tolerance {
		return passed(fmt.Sprintf("balance of '%s' is %s %s (within %s)",
			a.Entity, formatAmount(actual), x.network.Symbol, formatAmount(tolerance)))
	}
	return failed(fmt.Sprintf("balance of '%s' is %s, expected %s (tolerance %s)",
		a.Entity, formatAmount(actual), formatAmount(expected), formatAmount(tolerance)))
}

func (x *StepExecutor) assertErrorReported(ec *ExecutionContext) model.AssertionResult {
	resp := ec.LastResponse()
	if resp == nil {
		return failed("no response captured yet")
	}
	if resp.Type == model.ResponseError {
		return passed("response reports an error")
	}
	return failed(fmt.Sprintf("response type is '%s', not an error", resp.Type))
}

// assertJSONMatches extracts a value from the response's structured payload
// by JSONPath and compares it to the expected value.
func (x *StepExecutor) assertJSONMatches(ec *ExecutionContext, a *model.AssertionSpec) model.AssertionResult {
	resp := ec.LastResponse()
	if resp == nil {
		return failed("no response captured yet")
	}

	doc := resp.Parsed
	if doc == nil {
		var parsed any
		if err := sonic.UnmarshalString(resp.Text, &parsed); err != nil {
			return failed("response is not valid JSON")
		}
		doc = parsed
	}

	value, err := jsonpath.Read(doc, a.Path)
	if err != nil {
		return failed(fmt.Sprintf("path '%s' not found: %v", a.Path, err))
	}

	if model.DeepEqual(value, a.Value) {
		return passed(fmt.Sprintf("path '%s' matches '%s'", a.Path, a.Value))
	}
	return failed(fmt.Sprintf("path '%s' is '%s', expected '%s'", a.Path, model.Normalize(value), a.Value))
}

func (x *StepExecutor) assertCustom(ec *ExecutionContext, a *model.AssertionSpec) model.AssertionResult {
	ok, msg := x.registry.Run(a.Check, ec.LastResponse(), ec.Outcomes)
	return model.AssertionResult{Passed: ok, Message: msg}
}

func passed(msg string) model.AssertionResult {
	return model.AssertionResult{Passed: true, Message: msg}
}

func failed(msg string) model.AssertionResult {
	return model.AssertionResult{Passed: false, Message: msg}
}
