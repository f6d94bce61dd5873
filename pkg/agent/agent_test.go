package agent

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrun/meshrun/pkg/bus"
	"github.com/meshrun/meshrun/pkg/hooks"
	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/promptctx"
	"github.com/meshrun/meshrun/pkg/runner"
	"github.com/meshrun/meshrun/pkg/testsupport"
	"github.com/meshrun/meshrun/pkg/trigger"
)

type recordingSink struct {
	ops []hooks.Operation
}

func (s *recordingSink) Apply(ctx context.Context, clusterID, agentName string, op hooks.Operation) error {
	s.ops = append(s.ops, op)
	return nil
}

func newTestAgent(t *testing.T, def models.AgentDefinition, fr *testsupport.FakeRunner, sink *recordingSink) (*Agent, *bus.Bus) {
	t.Helper()
	l := testsupport.OpenLedger(t, "cluster-1")
	b := bus.New(l)

	deps := Deps{
		Bus:           b,
		Trigger:       trigger.NewEngine(time.Second),
		FireGuard:     trigger.NewFireGuard(),
		PromptBuilder: promptctx.NewBuilder(l),
		Runner:        fr,
		HookRunner:    hooks.NewRunner(),
		Sink:          sink,
	}
	return New("cluster-1", def, deps), b
}

func TestOnMessageFiresAndExecutes(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "all good"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	assert.Equal(t, 1, fr.CallCount())
	assert.Equal(t, 1, a.Runtime().IterationCount())
	assert.Equal(t, models.AgentIdle, a.Runtime().State())
}

func TestOnMessageDoesNotFireOnMismatchedTopic(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageAgentOutput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	assert.Equal(t, 0, fr.CallCount())
}

func TestOnMessageDoesNotFireWhenLogicFalse(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Logic: `false`, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	assert.Equal(t, 0, fr.CallCount())
}

func TestOnMessageIsIdempotentPerMessageID(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	require.NoError(t, a.OnMessage(context.Background(), msg))
	assert.Equal(t, 1, fr.CallCount())
}

func TestOnMessageExcludesRepublishedByDefault(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)
	republished, err := b.Republish(context.Background(), msg)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), republished))
	assert.Equal(t, 0, fr.CallCount())
}

func TestOnMessageIncludesRepublishedWhenOptedIn(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask, IncludeRepublished: true},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)
	republished, err := b.Republish(context.Background(), msg)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), republished))
	assert.Equal(t, 1, fr.CallCount())
}

func TestOnMessageRunsOnCompleteHooksOnSuccess(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: `{"summary":"ok"}`}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Role:   "validator",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Schema: []byte(`{"type":"object"}`)},
		Hooks: models.HookSet{
			OnComplete: []models.HookSpec{
				{Name: "notify", Action: models.HookPublishMessage, Params: map[string]any{
					"type":    "AGENT_OUTPUT",
					"payload": "{{result.summary}}",
				}},
			},
		},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	require.Len(t, sink.ops, 1)
	assert.Equal(t, models.HookPublishMessage, sink.ops[0].Kind)
}

func TestOnMessageRunsOnStartAndOnErrorHooks(t *testing.T) {
	fr := &testsupport.FakeRunner{Err: assert.AnError}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
		Hooks: models.HookSet{
			OnStart: []models.HookSpec{
				{Name: "announce", Action: models.HookPublishMessage, Params: map[string]any{
					"type":    "AGENT_OUTPUT",
					"payload": "starting",
				}},
			},
			OnError: []models.HookSpec{
				{Name: "alert", Action: models.HookStopCluster},
			},
		},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.Error(t, a.OnMessage(context.Background(), msg))
	require.Len(t, sink.ops, 2)
	assert.Equal(t, models.HookPublishMessage, sink.ops[0].Kind)
	assert.Equal(t, models.HookStopCluster, sink.ops[1].Kind)
}

func TestOnMessageHookErrorIsRecordedNotFatal(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: `{"summary":"ok"}`}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "triage",
		Role:   "validator",
		Prompt: "triage incoming issues",
		Triggers: []models.Trigger{
			{Topic: models.MessageUserInput, Action: models.ActionExecuteTask},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Schema: []byte(`{"type":"object"}`)},
		Hooks: models.HookSet{
			OnComplete: []models.HookSpec{
				{Name: "notify", Action: models.HookPublishMessage, Params: map[string]any{
					"type":    "AGENT_OUTPUT",
					"payload": "{{result.missing}}",
				}},
			},
		},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	assert.Empty(t, sink.ops)

	all, err := b.Ledger().All(context.Background())
	require.NoError(t, err)
	var sawHookError bool
	for _, m := range all {
		if m.Type == models.MessageHookError {
			sawHookError = true
		}
	}
	assert.True(t, sawHookError)
}

func TestOnMessagePublishMessageTriggerActionDispatchesImmediately(t *testing.T) {
	fr := &testsupport.FakeRunner{Result: runner.Result{Output: "x"}}
	sink := &recordingSink{}
	def := models.AgentDefinition{
		Name:   "notifier",
		Prompt: "forward alerts",
		Triggers: []models.Trigger{
			{
				Topic:  models.MessageUserInput,
				Action: models.ActionPublishMessage,
				Config: map[string]any{"type": "AGENT_OUTPUT", "payload": "forwarded"},
			},
		},
		Model:  models.ModelPolicy{Static: "small"},
		Output: models.OutputPolicy{Streaming: true},
	}
	a, b := newTestAgent(t, def, fr, sink)

	msg, err := b.Publish(context.Background(), models.MessageUserInput, "", map[string]any{}, nil)
	require.NoError(t, err)

	require.NoError(t, a.OnMessage(context.Background(), msg))
	require.Len(t, sink.ops, 1)
	assert.Equal(t, models.HookPublishMessage, sink.ops[0].Kind)
	assert.Equal(t, 0, fr.CallCount())
}

func TestResolveModelNoRuleMatchIsHardError(t *testing.T) {
	engine := trigger.NewEngine(time.Second)
	env := trigger.BuildEnv(models.Message{Type: models.MessageUserInput}, "triage", "cluster-1", 1)
	policy := models.ModelPolicy{Rules: []models.ModelRule{{Iterations: "5+", Model: "small"}}}

	_, err := ResolveModel(context.Background(), engine, "triage", policy, env, "", "")
	require.Error(t, err)
}

func TestResolveModelCeilingViolationIsHardError(t *testing.T) {
	engine := trigger.NewEngine(time.Second)
	env := trigger.BuildEnv(models.Message{Type: models.MessageUserInput}, "triage", "cluster-1", 1)
	policy := models.ModelPolicy{Static: "large"}

	_, err := ResolveModel(context.Background(), engine, "triage", policy, env, "medium", "")
	require.Error(t, err)
}
