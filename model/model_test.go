package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// YAML Parser Tests
// ============================================================================

func createTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "suite.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestParseSuiteFile(t *testing.T) {
	t.Run("Valid suite", func(t *testing.T) {
		yamlContent := `
name: transfer-suite
variables:
  recipient: bob
settings:
  network: westend
  strict_score: true
  step_delay: 250ms
scenarios:
  - id: simple-transfer
    name: Simple transfer
    category: happy-path
    steps:
      - type: prompt
        prompt: "Send 1 WND to {{recipient}}"
      - type: wait
        wait: 2s
      - type: action
        action: approve-multisig
        entity: charlie
        params:
          call_hash: "0xabc"
          threshold: 2
    expectations:
      - name: transfer-executed
        response_type: execution
        expected_agent: AssetTransferAgent
        expected_function: transfer
        expected_params:
          amount:
            gte: 1
`
		suite, err := ParseSuiteFile(createTempYAML(t, yamlContent))
		require.NoError(t, err)

		assert.Equal(t, "transfer-suite", suite.Name)
		assert.Equal(t, "westend", suite.Settings.Network)
		assert.True(t, suite.Settings.StrictScore)
		assert.Equal(t, "bob", suite.Variables["recipient"])

		require.Len(t, suite.Scenarios, 1)
		sc := suite.Scenarios[0]
		assert.Equal(t, CategoryHappyPath, sc.Category)
		require.Len(t, sc.Steps, 3)
		assert.Equal(t, StepPrompt, sc.Steps[0].Type)
		assert.Equal(t, StepWait, sc.Steps[1].Type)
		assert.Equal(t, StepAction, sc.Steps[2].Type)
		assert.Equal(t, "charlie", sc.Steps[2].Entity)
		assert.Equal(t, "0xabc", sc.Steps[2].Params["call_hash"])

		require.Len(t, sc.Expectations, 1)
		exp := sc.Expectations[0]
		assert.Equal(t, "AssetTransferAgent", exp.ExpectedAgent)
		ops, isOps := IsOperatorSet(exp.ExpectedParams["amount"])
		require.True(t, isOps)
		assert.Equal(t, 1, ops["gte"])
	})

	t.Run("Logical combinators decode recursively", func(t *testing.T) {
		yamlContent := `
name: logic-suite
scenarios:
  - id: logic
    name: Logic
    steps:
      - type: prompt
        prompt: hi
    expectations:
      - name: either
        any:
          - should_contain: ["approved"]
          - all:
              - should_contain: ["pending"]
              - not:
                  should_contain: ["rejected"]
`
		suite, err := ParseSuiteFile(createTempYAML(t, yamlContent))
		require.NoError(t, err)

		exp := suite.Scenarios[0].Expectations[0]
		assert.True(t, exp.IsLogical())
		require.Len(t, exp.Any, 2)
		require.Len(t, exp.Any[1].All, 2)
		assert.NotNil(t, exp.Any[1].All[1].Not)
	})

	t.Run("Invalid YAML fails", func(t *testing.T) {
		_, err := ParseSuiteFromString("scenarios: [}")
		assert.Error(t, err)
	})

	t.Run("Missing file fails", func(t *testing.T) {
		_, err := ParseSuiteFile("/nonexistent/suite.yaml")
		assert.Error(t, err)
	})
}

func TestValidateSuite(t *testing.T) {
	valid := func() *ScenarioSuite {
		return &ScenarioSuite{
			Name: "s",
			Scenarios: []Scenario{{
				ID:           "a",
				Steps:        []ScenarioStep{{Type: StepPrompt, Prompt: "hi"}},
				Expectations: []*ScenarioExpectation{{ShouldContain: []string{"x"}}},
			}},
		}
	}

	t.Run("Valid suite passes", func(t *testing.T) {
		assert.NoError(t, ValidateSuite(valid()))
	})

	t.Run("Empty scenarios rejected", func(t *testing.T) {
		assert.Error(t, ValidateSuite(&ScenarioSuite{Name: "s"}))
	})

	t.Run("Scenario without steps rejected", func(t *testing.T) {
		s := valid()
		s.Scenarios[0].Steps = nil
		assert.Error(t, ValidateSuite(s))
	})

	t.Run("Invalid expectation tree rejects the whole suite", func(t *testing.T) {
		s := valid()
		e := &ScenarioExpectation{}
		e.Not = e
		s.Scenarios[0].Expectations = []*ScenarioExpectation{e}

		err := ValidateSuite(s)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Circular reference")
	})
}

// ============================================================================
// Response Classification Tests
// ============================================================================

func TestClassifyResponse(t *testing.T) {
	t.Run("Execution plan dominates", func(t *testing.T) {
		plan := []PlanStep{{AgentClassName: "AssetTransferAgent", FunctionName: "transfer"}}
		assert.Equal(t, ResponseExecution, ClassifyResponse("anything", plan))
	})

	t.Run("JSON object", func(t *testing.T) {
		assert.Equal(t, ResponseJSON, ClassifyResponse(`{"status": "ok"}`, nil))
		assert.Equal(t, ResponseJSON, ClassifyResponse(`[1, 2]`, nil))
	})

	t.Run("Bare JSON scalar is not a JSON response", func(t *testing.T) {
		assert.NotEqual(t, ResponseJSON, ClassifyResponse(`42`, nil))
	})

	t.Run("Keyword heuristics", func(t *testing.T) {
		assert.Equal(t, ResponseExecution, ClassifyResponse("Transaction submitted to the network", nil))
		assert.Equal(t, ResponseError, ClassifyResponse("Something went wrong, please retry", nil))
		assert.Equal(t, ResponseClarification, ClassifyResponse("Which account should I use?", nil))
	})

	t.Run("Plain text fallback", func(t *testing.T) {
		assert.Equal(t, ResponseText, ClassifyResponse("Your balance is 10 WND", nil))
	})
}
