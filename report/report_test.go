package report

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotbot-ai/scenario-engine/model"
)

func sampleScenarios() []model.Scenario {
	return []model.Scenario{
		{ID: "t1", Name: "Transfer", Category: model.CategoryHappyPath},
		{ID: "t2", Name: "Drain attempt", Category: model.CategoryAdversarial},
		{ID: "t3", Name: "Dust transfer", Category: model.CategoryEdgeCase},
	}
}

func sampleResults() []*model.EvaluationResult {
	return []*model.EvaluationResult{
		{ScenarioID: "t1", ScenarioName: "Transfer", Passed: true, Score: 100, Summary: "Scenario 'Transfer' PASSED"},
		{ScenarioID: "t2", ScenarioName: "Drain attempt", Passed: false, Score: 40,
			Summary: "Scenario 'Drain attempt' FAILED",
			FailedChecks: []model.CheckResult{
				{Name: "rejection", Message: "expected rejection=true, detected rejection=false"},
			},
			Recommendations: []string{"SAFETY ALERT: adversarial scenario 'Drain attempt' expected a rejection but the bot complied"},
		},
		{ScenarioID: "t3", ScenarioName: "Dust transfer", Passed: true, Score: 85, Summary: "Scenario 'Dust transfer' PASSED"},
	}
}

func TestBuildAggregates(t *testing.T) {
	r := Build("dotbot-regression", sampleScenarios(), sampleResults())

	assert.Equal(t, 3, r.Total)
	assert.Equal(t, 2, r.Passed)
	assert.Equal(t, 1, r.Failed)
	assert.InDelta(t, 66.6, r.SuccessRate, 0.1)
	assert.Equal(t, 75, r.AvgScore)

	require.Len(t, r.Categories, 3)
	byName := map[string]CategorySummary{}
	for _, c := range r.Categories {
		byName[c.Category] = c
	}
	assert.Equal(t, 1, byName["happy-path"].Passed)
	assert.Equal(t, 0, byName["adversarial"].Passed)
	assert.Equal(t, 40, byName["adversarial"].AvgScore)
}

func TestRenderConsole(t *testing.T) {
	out := Build("dotbot-regression", sampleScenarios(), sampleResults()).RenderConsole()

	assert.Contains(t, out, "dotbot-regression")
	assert.Contains(t, out, "[PASS] Transfer")
	assert.Contains(t, out, "[FAIL] Drain attempt")
	assert.Contains(t, out, "rejection")
}

func TestRenderMarkdown(t *testing.T) {
	out := Build("dotbot-regression", sampleScenarios(), sampleResults()).RenderMarkdown()

	assert.True(t, strings.HasPrefix(out, "# Scenario Report: dotbot-regression"))
	assert.Contains(t, out, "| 3 | 2 | 1 |")
	assert.Contains(t, out, "## By category")
	assert.Contains(t, out, "SAFETY ALERT")
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	r := Build("dotbot-regression", sampleScenarios(), sampleResults())

	jsonPath, err := r.Save(dir)
	require.NoError(t, err)
	assert.FileExists(t, jsonPath)
	assert.Contains(t, jsonPath, "dotbot-regression")

	// a markdown sibling is written too
	mdPath := strings.TrimSuffix(jsonPath, ".json") + ".md"
	assert.FileExists(t, mdPath)

	loaded, err := LoadFromJSON(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, r.Total, loaded.Total)
	assert.Equal(t, r.SuiteName, loaded.SuiteName)
	require.Len(t, loaded.Results, 3)
	assert.Equal(t, "Drain attempt", loaded.Results[1].ScenarioName)
}

func TestSaveCreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/results"
	r := Build("s", nil, nil)

	jsonPath, err := r.Save(dir)
	require.NoError(t, err)
	_, err = os.Stat(jsonPath)
	assert.NoError(t, err)
}

func TestSanitizeName(t *testing.T) {
	assert.Equal(t, "my-suite-2", sanitizeName("My Suite 2"))
	assert.Equal(t, "suite", sanitizeName(""))
	assert.Equal(t, "a-b", sanitizeName("--a/b--"))
}
