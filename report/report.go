// Package report renders suite evaluation results as console text,
// markdown, and JSON artifacts.
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/dotbot-ai/scenario-engine/logger"
	"github.com/dotbot-ai/scenario-engine/model"
	"github.com/dotbot-ai/scenario-engine/version"
)

// DefaultResultsDir is where report artifacts land unless overridden.
const DefaultResultsDir = "results"

// SuiteReport aggregates the per-scenario evaluation results of one suite
// run into the serialized report shape.
type SuiteReport struct {
	SuiteName   string                   `json:"suiteName"`
	Version     string                   `json:"version"`
	GeneratedAt time.Time                `json:"generatedAt"`
	Total       int                      `json:"total"`
	Passed      int                      `json:"passed"`
	Failed      int                      `json:"failed"`
	SuccessRate float64                  `json:"successRate"`
	AvgScore    int                      `json:"avgScore"`
	Categories  []CategorySummary        `json:"categories,omitempty"`
	Results     []*model.EvaluationResult `json:"results"`
}

type CategorySummary struct {
	Category    string  `json:"category"`
	Total       int     `json:"total"`
	Passed      int     `json:"passed"`
	SuccessRate float64 `json:"successRate"`
	AvgScore    int     `json:"avgScore"`
}

// Build assembles a SuiteReport from evaluation results. Category
// attribution comes from the scenarios themselves.
func Build(suiteName string, scenarios []model.Scenario, results []*model.EvaluationResult) *SuiteReport {
	r := &SuiteReport{
		SuiteName:   suiteName,
		Version:     version.Version,
		GeneratedAt: time.Now().UTC(),
		Total:       len(results),
		Results:     results,
	}

	categoryByID := make(map[string]string, len(scenarios))
	for _, sc := range scenarios {
		categoryByID[sc.ID] = string(sc.Category)
	}

	scoreSum := 0
	type catAgg struct{ total, passed, scoreSum int }
	cats := make(map[string]*catAgg)

	for _, res := range results {
		scoreSum += res.Score
		if res.Passed {
			r.Passed++
		}

		cat := categoryByID[res.ScenarioID]
		if cat == "" {
			cat = "uncategorized"
		}
		agg := cats[cat]
		if agg == nil {
			agg = &catAgg{}
			cats[cat] = agg
		}
		agg.total++
		agg.scoreSum += res.Score
		if res.Passed {
			agg.passed++
		}
	}

	r.Failed = r.Total - r.Passed
	if r.Total > 0 {
		r.SuccessRate = float64(r.Passed) / float64(r.Total) * 100
		r.AvgScore = scoreSum / r.Total
	}

	names := make([]string, 0, len(cats))
	for name := range cats {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		agg := cats[name]
		r.Categories = append(r.Categories, CategorySummary{
			Category:    name,
			Total:       agg.total,
			Passed:      agg.passed,
			SuccessRate: float64(agg.passed) / float64(agg.total) * 100,
			AvgScore:    agg.scoreSum / agg.total,
		})
	}

	return r
}

// ============================================================================
// CONSOLE RENDERING
// ============================================================================

// RenderConsole produces the terminal summary printed at the end of a run.
func (r *SuiteReport) RenderConsole() string {
	var sb strings.Builder

	sb.WriteString("\n========================================\n")
	sb.WriteString(fmt.Sprintf("  Suite: %s\n", r.SuiteName))
	sb.WriteString("========================================\n")
	sb.WriteString(fmt.Sprintf("  Scenarios: %d  Passed: %d  Failed: %d\n", r.Total, r.Passed, r.Failed))
	sb.WriteString(fmt.Sprintf("  Success rate: %.1f%%  Average score: %d/100\n", r.SuccessRate, r.AvgScore))

	if len(r.Categories) > 0 {
		sb.WriteString("----------------------------------------\n")
		for _, cat := range r.Categories {
			sb.WriteString(fmt.Sprintf("  %-14s %d/%d passed (avg %d)\n",
				cat.Category, cat.Passed, cat.Total, cat.AvgScore))
		}
	}

	sb.WriteString("----------------------------------------\n")
	for _, res := range r.Results {
		marker := "PASS"
		if !res.Passed {
			marker = "FAIL"
		}
		sb.WriteString(fmt.Sprintf("  [%s] %-30s %3d/100\n", marker, res.ScenarioName, res.Score))
		for _, check := range res.FailedChecks {
			sb.WriteString(fmt.Sprintf("         x %s: %s\n", check.Name, check.Message))
		}
	}
	sb.WriteString("========================================\n")

	return sb.String()
}

// ============================================================================
// MARKDOWN RENDERING
// ============================================================================

func (r *SuiteReport) RenderMarkdown() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("# Scenario Report: %s\n\n", r.SuiteName))
	sb.WriteString(fmt.Sprintf("Generated %s by scenario-engine %s\n\n",
		r.GeneratedAt.Format(time.RFC3339), r.Version))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Scenarios | Passed | Failed | Success rate | Avg score |\n")
	sb.WriteString("|---|---|---|---|---|\n")
	sb.WriteString(fmt.Sprintf("| %d | %d | %d | %.1f%% | %d/100 |\n\n",
		r.Total, r.Passed, r.Failed, r.SuccessRate, r.AvgScore))

	if len(r.Categories) > 0 {
		sb.WriteString("## By category\n\n")
		sb.WriteString("| Category | Passed | Success rate | Avg score |\n")
		sb.WriteString("|---|---|---|---|\n")
		for _, cat := range r.Categories {
			sb.WriteString(fmt.Sprintf("| %s | %d/%d | %.1f%% | %d |\n",
				cat.Category, cat.Passed, cat.Total, cat.SuccessRate, cat.AvgScore))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Scenarios\n\n")
	for _, res := range r.Results {
		status := "✅"
		if !res.Passed {
			status = "❌"
		}
		sb.WriteString(fmt.Sprintf("### %s %s (%d/100)\n\n", status, res.ScenarioName, res.Score))
		sb.WriteString(res.Summary)
		sb.WriteString("\n")

		if len(res.Recommendations) > 0 {
			sb.WriteString("\n**Recommendations**\n\n")
			for _, rec := range res.Recommendations {
				sb.WriteString(fmt.Sprintf("- %s\n", rec))
			}
		}
		if len(res.Insights) > 0 {
			sb.WriteString("\n**Insights**\n\n")
			for _, in := range res.Insights {
				sb.WriteString(fmt.Sprintf("- %s\n", in))
			}
		}
		if res.Performance != nil {
			sb.WriteString(fmt.Sprintf("\n**Performance**: total %dms, avg %dms, slowest step %d (%dms)\n",
				res.Performance.TotalDurationMs, res.Performance.AverageDurationMs,
				res.Performance.SlowestStepIndex, res.Performance.SlowestStepMs))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// ============================================================================
// FILE OUTPUT
// ============================================================================

// Save writes the report artifacts into dir: a JSON dump plus a markdown
// rendering, both timestamped. Returns the JSON path.
func (r *SuiteReport) Save(dir string) (string, error) {
	log := logger.ForSubsystem(logger.SubsystemReport)

	if dir == "" {
		dir = DefaultResultsDir
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create results directory: %w", err)
	}

	stamp := r.GeneratedAt.Format("20060102-150405")
	base := fmt.Sprintf("%s-%s", sanitizeName(r.SuiteName), stamp)

	jsonPath := filepath.Join(dir, base+".json")
	data, err := sonic.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := os.WriteFile(jsonPath, data, logger.FilePermission); err != nil {
		return "", fmt.Errorf("failed to write JSON report: %w", err)
	}

	mdPath := filepath.Join(dir, base+".md")
	if err := os.WriteFile(mdPath, []byte(r.RenderMarkdown()), logger.FilePermission); err != nil {
		return "", fmt.Errorf("failed to write markdown report: %w", err)
	}

	log.Info("Report written", "json", jsonPath, "markdown", mdPath)
	return jsonPath, nil
}

// LoadFromJSON reads back a previously saved suite report.
func LoadFromJSON(path string) (*SuiteReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r SuiteReport
	if err := sonic.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report: %w", err)
	}
	return &r, nil
}

func sanitizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "suite"
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
		default:
			sb.WriteRune('-')
		}
	}
	return strings.Trim(sb.String(), "-")
}
