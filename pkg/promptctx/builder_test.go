package promptctx

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/testsupport"
)

func TestBuildConcatenatesOrderedSourcesUnderPrompt(t *testing.T) {
	l := testsupport.OpenLedger(t, "cluster-1")
	ctx := context.Background()

	_, err := l.Append(ctx, models.MessageUserInput, "operator", map[string]any{"text": "please fix it"}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"summary": "looked at it"}, nil)
	require.NoError(t, err)

	b := NewBuilder(l)
	def := models.AgentDefinition{
		Name:   "responder",
		Prompt: "You respond to triaged issues.",
		ContextSources: []models.ContextSource{
			{Topic: models.MessageUserInput},
			{Topic: models.MessageAgentOutput},
		},
	}
	runtime := models.NewAgentRuntime("cluster-1", "responder")

	prompt, included, err := b.Build(ctx, def, runtime)
	require.NoError(t, err)
	require.Len(t, included, 2)

	promptIdx := strings.Index(prompt, "You respond to triaged issues.")
	userInputIdx := strings.Index(prompt, "Messages from topic: USER_INPUT")
	agentOutputIdx := strings.Index(prompt, "Messages from topic: AGENT_OUTPUT")
	require.NotEqual(t, -1, promptIdx)
	require.NotEqual(t, -1, userInputIdx)
	require.NotEqual(t, -1, agentOutputIdx)
	assert.Less(t, promptIdx, userInputIdx)
	assert.Less(t, userInputIdx, agentOutputIdx)
}

func TestBuildEmptyLedgerOmitsSourceHeaders(t *testing.T) {
	l := testsupport.OpenLedger(t, "cluster-1")
	b := NewBuilder(l)
	def := models.AgentDefinition{
		Name:           "responder",
		Prompt:         "You respond to triaged issues.",
		ContextSources: []models.ContextSource{{Topic: models.MessageUserInput}},
	}
	runtime := models.NewAgentRuntime("cluster-1", "responder")

	prompt, included, err := b.Build(context.Background(), def, runtime)
	require.NoError(t, err)
	assert.Empty(t, included)
	assert.Equal(t, "You respond to triaged issues.\n\n", prompt)
}

func TestBuildSameTopicTwiceWithDifferentSenders(t *testing.T) {
	l := testsupport.OpenLedger(t, "cluster-1")
	ctx := context.Background()
	_, err := l.Append(ctx, models.MessageAgentOutput, "triage", map[string]any{"summary": "a"}, nil)
	require.NoError(t, err)
	_, err = l.Append(ctx, models.MessageAgentOutput, "responder", map[string]any{"summary": "b"}, nil)
	require.NoError(t, err)

	b := NewBuilder(l)
	def := models.AgentDefinition{
		Name:   "auditor",
		Prompt: "You audit prior output.",
		ContextSources: []models.ContextSource{
			{Topic: models.MessageAgentOutput, Sender: "triage"},
			{Topic: models.MessageAgentOutput, Sender: "responder"},
		},
	}
	runtime := models.NewAgentRuntime("cluster-1", "auditor")

	_, included, err := b.Build(ctx, def, runtime)
	require.NoError(t, err)
	require.Len(t, included, 2)
	assert.Equal(t, "triage", included[0].FromAgent)
	assert.Equal(t, "responder", included[1].FromAgent)
}
