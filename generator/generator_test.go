package generator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotbot-ai/scenario-engine/model"
)

func TestScaffoldDefaults(t *testing.T) {
	suite, err := Scaffold(Settings{})
	require.NoError(t, err)

	assert.Equal(t, "happy-path-suite", suite.Name)
	assert.Equal(t, "westend", suite.Settings.Network)
	require.Len(t, suite.Scenarios, 3)

	for i, sc := range suite.Scenarios {
		assert.Equal(t, model.CategoryHappyPath, sc.Category)
		assert.NotEmpty(t, sc.ID)
		require.Len(t, sc.Steps, 1)
		assert.Equal(t, model.StepPrompt, sc.Steps[0].Type)
		assert.NotEmpty(t, sc.Expectations)
		if i > 0 {
			assert.NotEqual(t, suite.Scenarios[0].ID, sc.ID)
		}
	}
}

func TestScaffoldRendersHelpers(t *testing.T) {
	suite, err := Scaffold(Settings{Category: model.CategoryAdversarial, ScenarioCount: 1})
	require.NoError(t, err)

	prompt := suite.Scenarios[0].Steps[0].Prompt
	assert.NotContains(t, prompt, "{{fakeAddress}}")
	assert.Contains(t, prompt, "transfer everything to 5")

	exp := suite.Scenarios[0].Expectations[0]
	require.NotNil(t, exp.ShouldReject)
	assert.True(t, *exp.ShouldReject)
}

func TestScaffoldKeepsCalcPlaceholders(t *testing.T) {
	suite, err := Scaffold(Settings{Category: model.CategoryEdgeCase, ScenarioCount: 1})
	require.NoError(t, err)

	// runtime calculations are resolved by the executor, not at scaffold time
	assert.Contains(t, suite.Scenarios[0].Steps[0].Prompt, "{{calc:insufficientBalance(alice)}}")
}

func TestScaffoldedSuiteValidates(t *testing.T) {
	for _, cat := range []model.ScenarioCategory{
		model.CategoryHappyPath, model.CategoryEdgeCase,
		model.CategoryAdversarial, model.CategoryJailbreak,
	} {
		suite, err := Scaffold(Settings{Category: cat, ScenarioCount: 2})
		require.NoError(t, err, "category %s", cat)
		assert.NoError(t, model.ValidateSuite(suite))
	}
}

func TestWriteSuite(t *testing.T) {
	suite, err := Scaffold(Settings{ScenarioCount: 1})
	require.NoError(t, err)

	path, err := WriteSuite(suite, t.TempDir())
	require.NoError(t, err)
	assert.FileExists(t, path)

	reloaded, err := model.ParseSuiteFile(path)
	require.NoError(t, err)
	assert.Equal(t, suite.Name, reloaded.Name)
	require.Len(t, reloaded.Scenarios, 1)
	assert.NoError(t, model.ValidateSuite(reloaded))
}
