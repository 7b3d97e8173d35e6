package model

import (
	"strings"

	"github.com/bytedance/sonic"
)

// ============================================================================
// RESPONSE CLASSIFICATION
// ============================================================================

var (
	executionKeywords = []string{
		"executing", "execution plan", "transaction submitted", "submitting",
		"transfer initiated", "signing", "extrinsic",
	}
	errorKeywords = []string{
		"error", "failed", "failure", "unable to", "something went wrong",
		"could not complete",
	}
	clarificationKeywords = []string{
		"could you", "can you clarify", "please provide", "please specify",
		"which account", "which network", "what amount", "did you mean",
	}
)

// ClassifyResponse derives a response classification: a present execution
// plan wins, then JSON-parseability, then keyword heuristics, then plain
// text. Used both when capturing step outcomes and when re-deriving the
// classification during expectation evaluation.
func ClassifyResponse(text string, plan []PlanStep) ResponseType {
	if len(plan) > 0 {
		return ResponseExecution
	}

	trimmed := strings.TrimSpace(text)
	if trimmed != "" {
		var parsed any
		if err := sonic.UnmarshalString(trimmed, &parsed); err == nil {
			switch parsed.(type) {
			case map[string]any, []any:
				return ResponseJSON
			}
		}
	}

	lower := strings.ToLower(text)
	for _, kw := range executionKeywords {
		if strings.Contains(lower, kw) {
			return ResponseExecution
		}
	}
	for _, kw := range errorKeywords {
		if strings.Contains(lower, kw) {
			return ResponseError
		}
	}
	for _, kw := range clarificationKeywords {
		if strings.Contains(lower, kw) {
			return ResponseClarification
		}
	}

	return ResponseText
}

// ParseStructured best-effort parses a response body as JSON. Returns nil
// when the text is not valid JSON.
func ParseStructured(text string) any {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}
	var parsed any
	if err := sonic.UnmarshalString(trimmed, &parsed); err != nil {
		return nil
	}
	return parsed
}
