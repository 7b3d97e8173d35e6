package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotbot-ai/scenario-engine/engine"
	"github.com/dotbot-ai/scenario-engine/model"
)

func writeTranscript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "transcript.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadTranscript(t *testing.T) {
	t.Run("Valid transcript", func(t *testing.T) {
		path := writeTranscript(t, `
name: transfer-session
exchanges:
  - match: balance
    response:
      type: text
      text: "Your balance is 10 WND"
  - response:
      type: execution
      text: "Transfer submitted"
      plan:
        - agent: AssetTransferAgent
          function: transfer
          parameters:
            amount: 2
`)
		tr, err := LoadTranscript(path)
		require.NoError(t, err)
		assert.Equal(t, "transfer-session", tr.Name)
		require.Len(t, tr.Exchanges, 2)
		assert.Equal(t, "balance", tr.Exchanges[0].Match)
		require.Len(t, tr.Exchanges[1].Response.Plan, 1)
		assert.Equal(t, "AssetTransferAgent", tr.Exchanges[1].Response.Plan[0].AgentClassName)
	})

	t.Run("Empty transcript rejected", func(t *testing.T) {
		_, err := LoadTranscript(writeTranscript(t, "name: empty\n"))
		assert.Error(t, err)
	})

	t.Run("Missing file", func(t *testing.T) {
		_, err := LoadTranscript("/nonexistent.yaml")
		assert.Error(t, err)
	})
}

func TestHostAnswersScenario(t *testing.T) {
	tr := &Transcript{
		Name: "scripted",
		Exchanges: []Exchange{
			{Match: "balance", Response: CannedResponse{Type: "text", Text: "10 WND available"}},
			{Response: CannedResponse{Type: "execution", Text: "Done", Plan: []model.PlanStep{{
				AgentClassName: "AssetTransferAgent", FunctionName: "transfer",
			}}}},
		},
	}

	host := NewHost(tr, nil)
	x := engine.NewStepExecutor(nil, nil, engine.WithSink(host))
	host.Bind(x)

	sc := &model.Scenario{
		ID:   "replayed",
		Name: "Replayed",
		Steps: []model.ScenarioStep{
			{Type: model.StepPrompt, Prompt: "What is my balance?"},
			{Type: model.StepPrompt, Prompt: "Send 2 WND to bob"},
		},
	}

	ec, err := x.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, ec.Outcomes, 2)

	assert.Equal(t, "10 WND available", ec.Outcomes[0].Response.Text)
	assert.Equal(t, model.ResponseExecution, ec.Outcomes[1].Response.Type)
	assert.Equal(t, 0, host.Remaining())
}

func TestHostAnswersUnmatchedPromptEmpty(t *testing.T) {
	tr := &Transcript{
		Name:      "narrow",
		Exchanges: []Exchange{{Match: "staking", Response: CannedResponse{Text: "bonded"}}},
	}

	host := NewHost(tr, nil)
	x := engine.NewStepExecutor(nil, nil, engine.WithSink(host))
	host.Bind(x)

	sc := &model.Scenario{
		ID:    "unmatched",
		Name:  "Unmatched",
		Steps: []model.ScenarioStep{{Type: model.StepPrompt, Prompt: "Send 1 WND"}},
	}

	ec, err := x.Run(context.Background(), sc)
	require.NoError(t, err)
	require.Len(t, ec.Outcomes, 1)
	assert.True(t, ec.Outcomes[0].Success)
	assert.Equal(t, "", ec.Outcomes[0].Response.Text)
	assert.Equal(t, 1, host.Remaining())
}
