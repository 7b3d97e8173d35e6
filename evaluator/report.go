package evaluator

import (
	"fmt"
	"strings"

	"github.com/dotbot-ai/scenario-engine/model"
)

// ============================================================================
// REPORT GENERATION
// ============================================================================

// GenerateReport evaluates the scenario and layers performance aggregation,
// a human-readable summary, recommendations, and category insights on top.
func (ev *Evaluator) GenerateReport(sc *model.Scenario, outcomes []model.StepResult, strict bool) *model.EvaluationResult {
	result := ev.Evaluate(sc, outcomes, strict)

	result.Performance = aggregatePerformance(outcomes)
	result.Summary = buildSummary(sc, result)
	result.Recommendations = ev.buildRecommendations(sc, result)
	result.Insights = categoryInsights(sc, result)

	return result
}

func aggregatePerformance(outcomes []model.StepResult) *model.PerformanceStats {
	if len(outcomes) == 0 {
		return nil
	}

	stats := &model.PerformanceStats{
		SlowestStepIndex: -1,
		FastestStepIndex: -1,
	}

	for _, out := range outcomes {
		stats.TotalDurationMs += out.DurationMs
		if stats.SlowestStepIndex == -1 || out.DurationMs > stats.SlowestStepMs {
			stats.SlowestStepMs = out.DurationMs
			stats.SlowestStepIndex = out.StepIndex
		}
		if stats.FastestStepIndex == -1 || out.DurationMs < stats.FastestStepMs {
			stats.FastestStepMs = out.DurationMs
			stats.FastestStepIndex = out.StepIndex
		}
	}
	stats.AverageDurationMs = stats.TotalDurationMs / int64(len(outcomes))

	return stats
}

func buildSummary(sc *model.Scenario, result *model.EvaluationResult) string {
	var b strings.Builder

	verdict := "FAILED"
	if result.Passed {
		verdict = "PASSED"
	}
	fmt.Fprintf(&b, "Scenario '%s' %s with score %d/100\n", sc.Name, verdict, result.Score)

	met := 0
	for _, exp := range result.Expectations {
		if exp.Met {
			met++
		}
	}
	fmt.Fprintf(&b, "Expectations met: %d/%d\n", met, len(result.Expectations))

	for _, exp := range result.Expectations {
		marker := "FAIL"
		if exp.Met {
			marker = "ok"
		}
		fmt.Fprintf(&b, "  [%s] %s (score %d)\n", marker, exp.Name, exp.Score)
	}

	if len(result.FailedChecks) > 0 {
		fmt.Fprintf(&b, "Failed checks:\n")
		for _, check := range result.FailedChecks {
			fmt.Fprintf(&b, "  - %s: %s\n", check.Name, check.Message)
		}
	}

	return b.String()
}

func (ev *Evaluator) buildRecommendations(sc *model.Scenario, result *model.EvaluationResult) []string {
	recs := make([]string, 0)

	for _, check := range result.FailedChecks {
		switch {
		case strings.HasPrefix(check.Name, "warns-about:"):
			topic := strings.TrimPrefix(check.Name, "warns-about:")
			recs = append(recs, fmt.Sprintf("Bot should warn about %s before proceeding", topic))
		case strings.HasPrefix(check.Name, "asks-for:"):
			topic := strings.TrimPrefix(check.Name, "asks-for:")
			recs = append(recs, fmt.Sprintf("Bot should ask the user for %s", topic))
		case strings.HasPrefix(check.Name, "not-contains:"):
			needle := strings.TrimPrefix(check.Name, "not-contains:")
			recs = append(recs, fmt.Sprintf("Bot response leaked forbidden content '%s'", needle))
		case check.Name == "rejection":
			if isAdversarial(sc.Category) {
				recs = append(recs, fmt.Sprintf(
					"SAFETY ALERT: adversarial scenario '%s' expected a rejection but the bot complied", sc.Name))
			} else {
				recs = append(recs, "Bot accept/reject behavior did not match the expectation")
			}
		}
	}

	return recs
}

func isAdversarial(cat model.ScenarioCategory) bool {
	return cat == model.CategoryAdversarial || cat == model.CategoryJailbreak
}

func categoryInsights(sc *model.Scenario, result *model.EvaluationResult) []string {
	insights := make([]string, 0, 1)

	switch sc.Category {
	case model.CategoryAdversarial, model.CategoryJailbreak:
		if result.Passed {
			insights = append(insights, "Bot resisted the adversarial prompt as expected")
		} else {
			insights = append(insights, "Bot is vulnerable to this adversarial pattern; tighten guardrails")
		}
	case model.CategoryHappyPath:
		if !result.Passed {
			insights = append(insights, "Happy-path regression: a core flow no longer behaves as expected")
		}
	case model.CategoryEdgeCase:
		if !result.Passed {
			insights = append(insights, "Edge-case handling gap: review boundary validation for this flow")
		}
	}

	return insights
}
