package model

import (
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// EXPECTATION VALIDATOR
// ============================================================================

// MaxNestingDepth is the ceiling for logical nesting in an expectation tree.
const MaxNestingDepth = 5

type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

// ValidateExpectation performs the static pre-execution check of one
// expectation tree: cycle detection, depth limiting, and structural
// validation. Intended to run once per scenario at load time.
//
// A circular reference short-circuits the remaining checks: depth
// computation over a cyclic graph cannot terminate.
func ValidateExpectation(root *ScenarioExpectation) ValidationResult {
	res := ValidationResult{Valid: true, Errors: []string{}, Warnings: []string{}}

	if root == nil {
		res.Valid = false
		res.Errors = append(res.Errors, "expectation is nil")
		return res
	}

	if hasCycle(root, map[*ScenarioExpectation]bool{}) {
		res.Valid = false
		res.Errors = append(res.Errors, "Circular reference detected in expectation tree")
		return res
	}

	if depth := nestingDepth(root); depth > MaxNestingDepth {
		res.Errors = append(res.Errors,
			fmt.Sprintf("Nesting depth %d exceeds maximum of %d", depth, MaxNestingDepth))
	}

	validateStructure(root, &res)

	res.Valid = len(res.Errors) == 0
	return res
}

// logicalChildren returns the children reachable through combinator fields.
func logicalChildren(e *ScenarioExpectation) []*ScenarioExpectation {
	children := make([]*ScenarioExpectation, 0, len(e.All)+len(e.Any)+4)
	children = append(children, e.All...)
	children = append(children, e.Any...)
	for _, c := range []*ScenarioExpectation{e.Not, e.When, e.Then, e.Else} {
		if c != nil {
			children = append(children, c)
		}
	}
	return children
}

// hasCycle walks the tree with a path stack: a node is pushed on entry and
// popped on leave, so a node legitimately reachable through two sibling
// branches is not mistaken for a cycle. Fails fast on the first cycle.
func hasCycle(node *ScenarioExpectation, path map[*ScenarioExpectation]bool) bool {
	if path[node] {
		return true
	}

	path[node] = true
	for _, child := range logicalChildren(node) {
		if hasCycle(child, path) {
			return true
		}
	}
	delete(path, node)

	return false
}

// nestingDepth computes the maximum logical nesting depth. A leaf counts as
// depth 1; the depth increments at every all/any member, not child, and each
// of when/then/else. Only safe on acyclic trees.
func nestingDepth(node *ScenarioExpectation) int {
	maxChild := 0
	for _, child := range logicalChildren(node) {
		if d := nestingDepth(child); d > maxChild {
			maxChild = d
		}
	}
	return maxChild + 1
}

func validateStructure(node *ScenarioExpectation, res *ValidationResult) {
	// yaml decodes an explicit empty list as a non-nil zero-length slice;
	// both that and a field-present-but-empty programmatic tree are invalid.
	if node.All != nil && len(node.All) == 0 {
		res.Errors = append(res.Errors, "'all' must be a non-empty list of expectations")
	}
	if node.Any != nil && len(node.Any) == 0 {
		res.Errors = append(res.Errors, "'any' must be a non-empty list of expectations")
	}

	if node.When != nil && node.Then == nil {
		res.Errors = append(res.Errors, "'when' requires a 'then' branch")
	}
	if node.Then != nil && node.When == nil {
		res.Errors = append(res.Errors, "'then' requires a 'when' condition")
	}
	if node.Else != nil && node.When == nil {
		res.Errors = append(res.Errors, "'else' requires a 'when' condition")
	}

	validateParams(node.ExpectedParams, res)

	for _, child := range logicalChildren(node) {
		validateStructure(child, res)
	}
}

var numericOps = []string{"gt", "gte", "lt", "lte"}

func validateParams(params map[string]any, res *ValidationResult) {
	for key, value := range params {
		ops, isOps := IsOperatorSet(value)
		if !isOps {
			continue
		}

		for opName, operand := range ops {
			if !isKnownOperator(opName) {
				res.Errors = append(res.Errors, fmt.Sprintf(
					"Unknown operator '%s' for param '%s'. Valid operators: %s",
					opName, key, strings.Join(KnownOperators, ", ")))
				continue
			}

			switch opName {
			case "between":
				bounds, ok := toList(operand)
				if !ok || len(bounds) != 2 {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"'between' for param '%s' must be a 2-element list [min, max]", key))
				}
			case "in", "notIn":
				if _, ok := toList(operand); !ok {
					res.Errors = append(res.Errors, fmt.Sprintf(
						"'%s' for param '%s' must be a list of values", opName, key))
				}
			case "matches":
				switch operand.(type) {
				case string, *regexp.Regexp:
				default:
					res.Errors = append(res.Errors, fmt.Sprintf(
						"'matches' for param '%s' must be a pattern string or compiled regexp", key))
				}
			case "gt", "gte", "lt", "lte":
				if !LooksNumeric(operand) {
					res.Warnings = append(res.Warnings, fmt.Sprintf(
						"'%s' for param '%s' has non-numeric operand '%s' (coerces to 0)",
						opName, key, Normalize(operand)))
				}
			}
		}
	}
}

func isKnownOperator(name string) bool {
	for _, op := range KnownOperators {
		if op == name {
			return true
		}
	}
	return false
}
