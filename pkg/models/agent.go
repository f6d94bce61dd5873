package models

import (
	"encoding/json"
	"sync"
	"time"
)

// AgentState is a position in the fixed idle -> evaluating -> executing
// -> idle lifecycle. An agent is never in more than one state at once.
type AgentState string

const (
	AgentIdle       AgentState = "idle"
	AgentEvaluating AgentState = "evaluating"
	AgentExecuting  AgentState = "executing"
)

// SinceMode is how an agent's ContextBuilder scope is anchored.
type SinceMode string

const (
	SinceClusterStart SinceMode = "cluster_start"
	SinceLastTaskEnd  SinceMode = "last_task_end"
	SinceISOTime      SinceMode = "iso_time"
)

// ContextScope configures the slice of the ledger a context source
// pulls from. When Mode is SinceISOTime, At holds the cutoff.
type ContextScope struct {
	// Mode defaults to SinceClusterStart when left empty.
	Mode SinceMode `yaml:"since" validate:"omitempty,oneof=cluster_start last_task_end iso_time"`
	At   time.Time `yaml:"at,omitempty"`
}

// ContextSource is one entry of an agent's ordered context_strategy
// list: the ledger slice from Topic (optionally narrowed to Sender,
// scoped by Since, capped at the most recent Limit messages if
// positive) that the ContextBuilder concatenates into the agent's
// prompt. The same topic may appear more than once with a different
// scope or sender.
type ContextSource struct {
	Topic  MessageType  `yaml:"topic" validate:"required"`
	Sender string       `yaml:"sender,omitempty"`
	Since  ContextScope `yaml:"since,omitempty"`
	Limit  int          `yaml:"limit,omitempty"`
}

// OutputPolicy describes how an agent's output is parsed: either
// validated against a JSON Schema, or accepted as a free-form
// streaming transcript. Exactly one of Schema or Streaming applies.
type OutputPolicy struct {
	Schema    json.RawMessage `yaml:"schema,omitempty"`
	Streaming bool            `yaml:"streaming,omitempty"`
}

// TriggerAction is the closed set of effects a trigger may produce
// when it fires. execute_task is the only action gated on the agent
// being idle; the rest apply immediately.
type TriggerAction string

const (
	ActionExecuteTask    TriggerAction = "execute_task"
	ActionStopCluster    TriggerAction = "stop_cluster"
	ActionPublishMessage TriggerAction = "publish_message"
	ActionNoop           TriggerAction = "noop"
)

// Trigger is one entry of an agent's ordered trigger list. It fires
// against an incoming message when Topic matches, Logic (if set)
// evaluates true, and this exact (trigger, message) pair hasn't
// already fired. Republished messages are excluded by default, since
// re-evaluating a trigger against its own republished echo is what
// drives a conductor into a re-entry loop; a trigger that genuinely
// wants to see republished messages sets IncludeRepublished.
type Trigger struct {
	Topic              MessageType    `yaml:"topic" validate:"required"`
	Logic              string         `yaml:"logic,omitempty"`
	Action             TriggerAction  `yaml:"action" validate:"required,oneof=execute_task stop_cluster publish_message noop"`
	Config             map[string]any `yaml:"config,omitempty"`
	IncludeRepublished bool           `yaml:"include_republished,omitempty"`
}

// HookSet splits an agent's hooks by the lifecycle point that selects
// them: OnStart runs before the task is handed to the TaskRunner,
// OnComplete after a successful run, OnError after any failure
// (a runner error, a model policy violation, or a fatal schema
// failure). OnComplete specs, and OnError specs run after a fatal
// schema failure, may reference "{{result.path}}"; after a runner
// error or a model policy violation there is no result to reference.
type HookSet struct {
	OnStart    []HookSpec `yaml:"on_start,omitempty"`
	OnComplete []HookSpec `yaml:"on_complete,omitempty"`
	OnError    []HookSpec `yaml:"on_error,omitempty"`
}

// AgentDefinition is the static, config-sourced description of one
// agent within a cluster template: its role, ordered triggers, model
// policy, context strategy, output policy, and lifecycle hooks. It
// never changes once a cluster is started; see AgentRuntime for what
// does.
type AgentDefinition struct {
	Name string `yaml:"name" validate:"required"`
	// Role is a free-form tag; "validator" is the one value the
	// engine treats specially, making a schema failure fatal
	// (AGENT_ERROR) instead of a warning (AGENT_SCHEMA_WARNING).
	Role string `yaml:"role,omitempty"`
	// Prompt is the agent's static system prompt, prepended to every
	// built context before its ordered sources are concatenated.
	Prompt         string          `yaml:"prompt" validate:"required"`
	Triggers       []Trigger       `yaml:"triggers" validate:"required,min=1,dive"`
	Model          ModelPolicy     `yaml:"model" validate:"required"`
	ContextSources []ContextSource `yaml:"context_sources,omitempty"`
	Output         OutputPolicy    `yaml:"output"`
	Hooks          HookSet         `yaml:"hooks"`
	MaxIterations  int             `yaml:"max_iterations" validate:"min=0"`
	StaleAfter     time.Duration   `yaml:"stale_after,omitempty"`
	MaxRetries     int             `yaml:"max_retries" validate:"min=0"`
	// Cwd, when set, is this agent's own working directory override,
	// tried before the cluster's worktree path or configured isolation
	// working directory (see pkg/isolation).
	Cwd string `yaml:"cwd,omitempty"`
}

// ModelPolicy resolves either to a single static model name or to a
// set of rules matched in order by the agent's current iteration,
// with an optional ceiling and floor a selected model must lie within.
type ModelPolicy struct {
	Static  string      `yaml:"static,omitempty"`
	Rules   []ModelRule `yaml:"rules,omitempty"`
	Ceiling string      `yaml:"ceiling,omitempty"`
	Floor   string      `yaml:"floor,omitempty"`
}

// ModelRule maps an iteration pattern to a model name. Iterations is
// one of "N" (exact), "N-M" (inclusive range), "N+" (open-ended), or
// "all" (always matches); rules are matched in order, first wins.
type ModelRule struct {
	Iterations string `yaml:"iterations" validate:"required"`
	Model      string `yaml:"model" validate:"required"`
}

// HookAction is one of the closed set of operations a hook may apply.
type HookAction string

const (
	HookPublishMessage  HookAction = "publish_message"
	HookStopCluster     HookAction = "stop_cluster"
	HookSpawnSubCluster HookAction = "spawn_sub_cluster"
	HookNoop            HookAction = "noop"
)

// HookSpec binds a hook name to the action it applies and the
// (possibly placeholder-templated) parameters for that action.
type HookSpec struct {
	Name   string         `yaml:"name" validate:"required"`
	Action HookAction     `yaml:"action" validate:"required,oneof=publish_message stop_cluster spawn_sub_cluster noop"`
	Params map[string]any `yaml:"params,omitempty"`
}

// AgentRuntime is the mutable, in-memory state of one agent instance
// within a running cluster. All access goes through the methods
// below, which hold mu for the duration of the read or write.
type AgentRuntime struct {
	mu sync.RWMutex

	name             string
	clusterID        string
	state            AgentState
	iterationCount   int
	lastEvaluatedSeq int64
	lastTaskEndAt    time.Time
	cancel           func()
}

// NewAgentRuntime creates a fresh runtime record in the idle state.
func NewAgentRuntime(clusterID, name string) *AgentRuntime {
	return &AgentRuntime{
		clusterID: clusterID,
		name:      name,
		state:     AgentIdle,
	}
}

func (a *AgentRuntime) Name() string { return a.name }

func (a *AgentRuntime) State() AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *AgentRuntime) SetState(s AgentState) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = s
}

// TransitionTo moves the runtime from "from" to "to", returning false
// (and leaving state untouched) if the current state does not match.
func (a *AgentRuntime) TransitionTo(from, to AgentState) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != from {
		return false
	}
	a.state = to
	return true
}

func (a *AgentRuntime) IterationCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.iterationCount
}

func (a *AgentRuntime) IncrementIteration() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iterationCount++
	return a.iterationCount
}

func (a *AgentRuntime) ResetIterations() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.iterationCount = 0
}

func (a *AgentRuntime) LastEvaluatedSeq() int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastEvaluatedSeq
}

func (a *AgentRuntime) SetLastEvaluatedSeq(seq int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if seq > a.lastEvaluatedSeq {
		a.lastEvaluatedSeq = seq
	}
}

func (a *AgentRuntime) LastTaskEndAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.lastTaskEndAt
}

func (a *AgentRuntime) SetLastTaskEndAt(t time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTaskEndAt = t
}

// SetCancel stores the cancel function for the in-flight task, if any.
func (a *AgentRuntime) SetCancel(cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cancel = cancel
}

// Cancel invokes and clears the stored cancel function, if set.
func (a *AgentRuntime) Cancel() {
	a.mu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Snapshot is a point-in-time, safe-to-share copy of an AgentRuntime's
// fields, used when reporting cluster status to the control surface.
type Snapshot struct {
	Name             string     `json:"name"`
	ClusterID        string     `json:"cluster_id"`
	State            AgentState `json:"state"`
	IterationCount   int        `json:"iteration_count"`
	LastEvaluatedSeq int64      `json:"last_evaluated_seq"`
	LastTaskEndAt    time.Time  `json:"last_task_end_at,omitempty"`
}

// Snapshot returns a defensive copy of the runtime's current fields.
func (a *AgentRuntime) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		Name:             a.name,
		ClusterID:        a.clusterID,
		State:            a.state,
		IterationCount:   a.iterationCount,
		LastEvaluatedSeq: a.lastEvaluatedSeq,
		LastTaskEndAt:    a.lastTaskEndAt,
	}
}
