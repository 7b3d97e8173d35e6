package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ============================================================================
// Expectation Validator Tests
// ============================================================================

func leaf(name string) *ScenarioExpectation {
	return &ScenarioExpectation{Name: name, ShouldContain: []string{"x"}}
}

func TestValidateExpectationCycles(t *testing.T) {
	t.Run("Self reference is a cycle", func(t *testing.T) {
		e := &ScenarioExpectation{Name: "loop"}
		e.Not = e

		res := ValidateExpectation(e)
		assert.False(t, res.Valid)
		require.Len(t, res.Errors, 1)
		assert.Contains(t, res.Errors[0], "Circular reference")
	})

	t.Run("Deep cycle through combinators", func(t *testing.T) {
		a := &ScenarioExpectation{Name: "a"}
		b := &ScenarioExpectation{Name: "b"}
		a.All = []*ScenarioExpectation{b}
		b.Any = []*ScenarioExpectation{a}

		res := ValidateExpectation(a)
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "Circular reference")
	})

	t.Run("Cycle error short-circuits other checks", func(t *testing.T) {
		e := &ScenarioExpectation{
			Name:           "loop",
			ExpectedParams: map[string]any{"amount": map[string]any{"bogus": 1}},
		}
		e.Not = e

		res := ValidateExpectation(e)
		require.Len(t, res.Errors, 1)
	})

	t.Run("Shared subtree across siblings is not a cycle", func(t *testing.T) {
		shared := leaf("shared")
		root := &ScenarioExpectation{
			All: []*ScenarioExpectation{
				{Any: []*ScenarioExpectation{shared}},
				{Any: []*ScenarioExpectation{shared}},
			},
		}

		res := ValidateExpectation(root)
		assert.True(t, res.Valid)
	})
}

func TestValidateExpectationDepth(t *testing.T) {
	nest := func(levels int) *ScenarioExpectation {
		node := leaf("bottom")
		for i := 1; i < levels; i++ {
			node = &ScenarioExpectation{All: []*ScenarioExpectation{node}}
		}
		return node
	}

	t.Run("Depth at the limit is accepted", func(t *testing.T) {
		res := ValidateExpectation(nest(5))
		assert.True(t, res.Valid)
	})

	t.Run("Depth beyond the limit is rejected", func(t *testing.T) {
		res := ValidateExpectation(nest(6))
		assert.False(t, res.Valid)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "Nesting depth 6 exceeds maximum of 5")
	})

	t.Run("Leaf counts as depth one", func(t *testing.T) {
		assert.True(t, ValidateExpectation(leaf("only")).Valid)
	})
}

func TestValidateExpectationStructure(t *testing.T) {
	t.Run("Empty all list is invalid", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{All: []*ScenarioExpectation{}})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "'all' must be a non-empty list")
	})

	t.Run("when without then is invalid", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{When: leaf("cond")})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "'when' requires a 'then'")
	})

	t.Run("then without when is invalid", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{Then: leaf("branch")})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "'then' requires a 'when'")
	})

	t.Run("else without when is invalid", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{Else: leaf("branch")})
		assert.False(t, res.Valid)
	})

	t.Run("Complete conditional is valid", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{
			When: leaf("cond"),
			Then: leaf("branch"),
			Else: leaf("fallback"),
		})
		assert.True(t, res.Valid)
	})
}

func TestValidateExpectationParams(t *testing.T) {
	t.Run("Unknown operator lists the valid vocabulary", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{
			ExpectedParams: map[string]any{"amount": map[string]any{"approx": 5}},
		})
		assert.False(t, res.Valid)
		require.NotEmpty(t, res.Errors)
		assert.Contains(t, res.Errors[0], "Unknown operator 'approx'")
		assert.Contains(t, res.Errors[0], "eq, ne, gt, gte, lt, lte, between, matches, in, notIn")
	})

	t.Run("Malformed between bounds", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{
			ExpectedParams: map[string]any{"amount": map[string]any{"between": []any{1, 2, 3}}},
		})
		assert.False(t, res.Valid)
		assert.Contains(t, res.Errors[0], "2-element list")
	})

	t.Run("Non-numeric ordering operand is a warning, not an error", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{
			Name:           "warned",
			ShouldContain:  []string{"x"},
			ExpectedParams: map[string]any{"amount": map[string]any{"gt": "abc"}},
		})
		assert.True(t, res.Valid)
		require.Len(t, res.Warnings, 1)
		assert.Contains(t, res.Warnings[0], "coerces to 0")
	})

	t.Run("Scalar params are not checked as operators", func(t *testing.T) {
		res := ValidateExpectation(&ScenarioExpectation{
			ShouldContain:  []string{"x"},
			ExpectedParams: map[string]any{"to": "alice", "amount": 5},
		})
		assert.True(t, res.Valid)
		assert.Empty(t, res.Warnings)
	})
}
