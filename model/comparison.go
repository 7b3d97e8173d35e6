package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ============================================================================
// COMPARISON EVALUATOR
// ============================================================================

// Operator vocabulary for expected-parameter values. Each present field is
// evaluated independently against the actual value; when several fields are
// present on one operator, all must pass.
var KnownOperators = []string{"eq", "ne", "gt", "gte", "lt", "lte", "between", "matches", "in", "notIn"}

type ComparisonResult struct {
	Passed   bool   `json:"passed"`
	Message  string `json:"message"`
	Actual   any    `json:"actualValue"`
	Expected any    `json:"expectedValue"`
}

// IsOperatorSet reports whether an expected value looks like an operator
// bag rather than a bare scalar. Lists are never operator sets.
func IsOperatorSet(expected any) (map[string]any, bool) {
	m, ok := expected.(map[string]any)
	return m, ok
}

// EvaluateComparison checks an actual value against either a bare scalar
// (legacy exact-match path, string-normalized) or an operator set.
func EvaluateComparison(actual, expected any) ComparisonResult {
	ops, ok := IsOperatorSet(expected)
	if !ok {
		passed := Normalize(actual) == Normalize(expected)
		msg := fmt.Sprintf("expected '%s', got '%s'", Normalize(expected), Normalize(actual))
		if passed {
			msg = fmt.Sprintf("value matches '%s'", Normalize(expected))
		}
		return ComparisonResult{Passed: passed, Message: msg, Actual: actual, Expected: expected}
	}

	recognized := 0
	failures := make([]string, 0)

	for _, op := range KnownOperators {
		operand, present := ops[op]
		if !present {
			continue
		}
		recognized++
		sub := evaluateOperator(op, actual, operand)
		if !sub.Passed {
			failures = append(failures, sub.Message)
		}
	}

	if recognized == 0 {
		return ComparisonResult{
			Passed:   false,
			Message:  fmt.Sprintf("no recognized comparison operator in %v", ops),
			Actual:   actual,
			Expected: expected,
		}
	}

	if len(failures) > 0 {
		return ComparisonResult{
			Passed:   false,
			Message:  strings.Join(failures, "; "),
			Actual:   actual,
			Expected: expected,
		}
	}

	return ComparisonResult{
		Passed:   true,
		Message:  fmt.Sprintf("all %d operator(s) passed", recognized),
		Actual:   actual,
		Expected: expected,
	}
}

func evaluateOperator(op string, actual, operand any) ComparisonResult {
	switch op {
	case "eq":
		passed := Normalize(actual) == Normalize(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("eq: expected '%s', got '%s'", Normalize(operand), Normalize(actual)))
	case "ne":
		passed := Normalize(actual) != Normalize(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("ne: value must not equal '%s'", Normalize(operand)))
	case "gt":
		passed := toNumber(actual) > toNumber(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("gt: %g is not greater than %g", toNumber(actual), toNumber(operand)))
	case "gte":
		passed := toNumber(actual) >= toNumber(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("gte: %g is not >= %g", toNumber(actual), toNumber(operand)))
	case "lt":
		passed := toNumber(actual) < toNumber(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("lt: %g is not less than %g", toNumber(actual), toNumber(operand)))
	case "lte":
		passed := toNumber(actual) <= toNumber(operand)
		return result(passed, op, actual, operand,
			fmt.Sprintf("lte: %g is not <= %g", toNumber(actual), toNumber(operand)))
	case "between":
		bounds, ok := toList(operand)
		if !ok || len(bounds) != 2 {
			return result(false, op, actual, operand,
				"between: requires exactly two bounds [min, max]")
		}
		v := toNumber(actual)
		passed := v >= toNumber(bounds[0]) && v <= toNumber(bounds[1])
		return result(passed, op, actual, operand,
			fmt.Sprintf("between: %g is not within [%g, %g]",
				v, toNumber(bounds[0]), toNumber(bounds[1])))
	case "matches":
		re, err := toPattern(operand)
		if err != nil {
			return result(false, op, actual, operand, fmt.Sprintf("matches: %v", err))
		}
		passed := re.MatchString(Normalize(actual))
		return result(passed, op, actual, operand,
			fmt.Sprintf("matches: '%s' does not match pattern '%s'", Normalize(actual), re.String()))
	case "in":
		values, ok := toList(operand)
		if !ok {
			return result(false, op, actual, operand, "in: requires a list of values")
		}
		passed := containsNormalized(values, actual)
		return result(passed, op, actual, operand,
			fmt.Sprintf("in: '%s' is not one of %s", Normalize(actual), Normalize(values)))
	case "notIn":
		values, ok := toList(operand)
		if !ok {
			return result(false, op, actual, operand, "notIn: requires a list of values")
		}
		passed := !containsNormalized(values, actual)
		return result(passed, op, actual, operand,
			fmt.Sprintf("notIn: '%s' must not be one of %s", Normalize(actual), Normalize(values)))
	}

	return result(false, op, actual, operand, fmt.Sprintf("unknown operator '%s'", op))
}

func result(passed bool, op string, actual, operand any, failMsg string) ComparisonResult {
	msg := failMsg
	if passed {
		msg = fmt.Sprintf("%s passed", op)
	}
	return ComparisonResult{Passed: passed, Message: msg, Actual: actual, Expected: operand}
}

// toNumber coerces a value to float64 for ordering comparisons. Non-numeric
// strings deliberately coerce to 0: scenario data is loosely typed and a
// forgiving comparison is preferred over a hard failure.
func toNumber(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case bool:
		if n {
			return 1
		}
		return 0
	}

	f, err := strconv.ParseFloat(strings.TrimSpace(Normalize(v)), 64)
	if err != nil {
		return 0
	}
	return f
}

// LooksNumeric reports whether a value would survive numeric coercion.
// Used by the validator to warn about gt/gte/lt/lte against non-numeric
// operands, which silently coerce to 0 at evaluation time.
func LooksNumeric(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64:
		return true
	}
	_, err := strconv.ParseFloat(strings.TrimSpace(Normalize(v)), 64)
	return err == nil
}

func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

// toPattern accepts a literal pattern string or a precompiled *regexp.Regexp.
func toPattern(v any) (*regexp.Regexp, error) {
	switch p := v.(type) {
	case *regexp.Regexp:
		return p, nil
	case string:
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
		}
		return re, nil
	}
	return nil, fmt.Errorf("pattern must be a string or compiled regexp, got %T", v)
}

func containsNormalized(values []any, actual any) bool {
	needle := strings.ToLower(Normalize(actual))
	for _, v := range values {
		if strings.ToLower(Normalize(v)) == needle {
			return true
		}
	}
	return false
}
