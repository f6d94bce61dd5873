// Package agent implements the per-agent lifecycle state machine:
// idle -> evaluating -> executing -> idle, driven by incoming ledger
// messages, gated by an ordered list of sandboxed triggers, and
// producing cluster operations for the orchestrator to apply.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshrun/meshrun/pkg/bus"
	"github.com/meshrun/meshrun/pkg/hooks"
	"github.com/meshrun/meshrun/pkg/isolation"
	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/promptctx"
	"github.com/meshrun/meshrun/pkg/runner"
	"github.com/meshrun/meshrun/pkg/trigger"
)

// OperationSink receives the cluster operations an agent's hooks
// produce; the orchestrator implements this so agents never need to
// know how to apply an operation, only how to produce one.
type OperationSink interface {
	Apply(ctx context.Context, clusterID, agentName string, op hooks.Operation) error
}

// Deps bundles the shared, cluster-scoped collaborators every agent in
// a cluster is constructed with.
type Deps struct {
	Bus           *bus.Bus
	Trigger       *trigger.Engine
	FireGuard     *trigger.FireGuard
	PromptBuilder *promptctx.Builder
	Runner        runner.Runner
	HookRunner    *hooks.Runner
	Sink          OperationSink
	Isolation     isolation.Config
	ModelCeiling  string
	ModelFloor    string
	Logger        *slog.Logger
}

// pendingFire is a deferred execute_task firing: its trigger matched
// while the agent was mid-execution, so it is queued and retried the
// moment the agent returns to idle rather than dropped.
type pendingFire struct {
	triggerIndex int
	msg          models.Message
}

// Agent is one running instance of an AgentDefinition within a
// cluster, holding its mutable runtime state.
type Agent struct {
	clusterID string
	def       models.AgentDefinition
	runtime   *models.AgentRuntime
	deps      Deps

	pendingMu sync.Mutex
	pending   []pendingFire
}

// New constructs an Agent in the idle state.
func New(clusterID string, def models.AgentDefinition, deps Deps) *Agent {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Agent{
		clusterID: clusterID,
		def:       def,
		runtime:   models.NewAgentRuntime(clusterID, def.Name),
		deps:      deps,
	}
}

func (a *Agent) Name() string                       { return a.def.Name }
func (a *Agent) Runtime() *models.AgentRuntime       { return a.runtime }
func (a *Agent) Definition() models.AgentDefinition  { return a.def }

// OnMessage scans the agent's ordered triggers against msg. Each
// trigger is independent: one may fire execute_task while another
// fires publish_message off the very same message, and a trigger that
// already fired for this message ID (tracked per (agent, trigger
// index, message ID) by FireGuard) never fires again for that ID; a
// republished copy has a new ID. Republished messages are excluded
// from firing by default — see Trigger.IncludeRepublished — since
// re-evaluating a trigger against its own echo is what drives a
// conductor into a re-entry loop.
func (a *Agent) OnMessage(ctx context.Context, msg models.Message) error {
	log := a.deps.Logger.With("cluster_id", a.clusterID, "agent", a.def.Name, "message_id", msg.ID)

	var firstErr error
	for i, trig := range a.def.Triggers {
		if trig.Topic != msg.Type {
			continue
		}
		if msg.Republished() && !trig.IncludeRepublished {
			continue
		}
		if a.deps.FireGuard.Seen(a.def.Name, i, msg.ID) {
			continue
		}

		env := trigger.BuildEnv(msg, a.def.Name, a.clusterID, a.runtime.IterationCount())
		fired := true
		if trig.Logic != "" {
			var err error
			fired, err = a.deps.Trigger.Evaluate(ctx, a.def.Name, trig.Logic, env)
			if err != nil {
				log.Error("trigger evaluation failed", "trigger_index", i, "error", err)
				if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageLogicError, a.def.Name, map[string]any{"trigger_index": i, "error": err.Error()}, nil); pubErr != nil {
					log.Error("failed to record LOGIC_ERROR", "error", pubErr)
				}
				if firstErr == nil {
					firstErr = err
				}
				continue
			}
		}
		if !fired {
			continue
		}

		if err := a.dispatchTrigger(ctx, i, trig, msg, env, log); err != nil {
			log.Error("trigger dispatch failed", "trigger_index", i, "action", trig.Action, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (a *Agent) dispatchTrigger(ctx context.Context, i int, trig models.Trigger, msg models.Message, env trigger.Env, log *slog.Logger) error {
	switch trig.Action {
	case models.ActionExecuteTask:
		return a.fireExecuteTask(ctx, i, trig, msg, env, log)

	case models.ActionStopCluster:
		a.deps.FireGuard.MarkSeen(a.def.Name, i, msg.ID)
		return a.applyHook(ctx, models.HookSpec{Name: fmt.Sprintf("trigger[%d]", i), Action: models.HookStopCluster}, nil, log)

	case models.ActionPublishMessage:
		a.deps.FireGuard.MarkSeen(a.def.Name, i, msg.ID)
		vars := a.baseVars()
		vars["message"] = messageVars(msg)
		return a.applyHook(ctx, models.HookSpec{Name: fmt.Sprintf("trigger[%d]", i), Action: models.HookPublishMessage, Params: trig.Config}, vars, log)

	case models.ActionNoop:
		a.deps.FireGuard.MarkSeen(a.def.Name, i, msg.ID)
		return nil

	default:
		return &LogicError{Agent: a.def.Name, Reason: fmt.Sprintf("trigger %d: unknown action %q", i, trig.Action)}
	}
}

// fireExecuteTask attempts to move the agent idle->evaluating->
// executing and run one task iteration. If the agent is busy, the
// firing is queued rather than marked seen, so it is retried (in
// order) the moment the agent returns to idle instead of being lost.
func (a *Agent) fireExecuteTask(ctx context.Context, i int, trig models.Trigger, msg models.Message, env trigger.Env, log *slog.Logger) error {
	if a.def.MaxIterations > 0 && a.runtime.IterationCount() >= a.def.MaxIterations {
		a.deps.FireGuard.MarkSeen(a.def.Name, i, msg.ID)
		log.Warn("agent reached max_iterations, ignoring further triggers", "max_iterations", a.def.MaxIterations)
		if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageAgentHalted, a.def.Name, map[string]any{"max_iterations": a.def.MaxIterations}, nil); pubErr != nil {
			log.Error("failed to record AGENT_HALTED", "error", pubErr)
		}
		return &CeilingReachedError{Agent: a.def.Name, Max: a.def.MaxIterations}
	}

	if !a.runtime.TransitionTo(models.AgentIdle, models.AgentEvaluating) {
		a.deferFire(i, msg)
		return nil
	}
	if !a.runtime.TransitionTo(models.AgentEvaluating, models.AgentExecuting) {
		a.runtime.SetState(models.AgentIdle)
		return &LogicError{Agent: a.def.Name, Reason: "expected to transition evaluating->executing"}
	}

	a.deps.FireGuard.MarkSeen(a.def.Name, i, msg.ID)

	defer func() {
		a.runtime.SetState(models.AgentIdle)
		a.drainPending(ctx, log)
	}()

	return a.execute(ctx, env, log)
}

func (a *Agent) deferFire(i int, msg models.Message) {
	a.pendingMu.Lock()
	defer a.pendingMu.Unlock()
	a.pending = append(a.pending, pendingFire{triggerIndex: i, msg: msg})
}

// drainPending retries the oldest queued firing, if any, now that the
// agent is idle again. fireExecuteTask's own deferred drain keeps
// chaining until the queue is empty.
func (a *Agent) drainPending(ctx context.Context, log *slog.Logger) {
	a.pendingMu.Lock()
	if len(a.pending) == 0 {
		a.pendingMu.Unlock()
		return
	}
	pf := a.pending[0]
	a.pending = a.pending[1:]
	a.pendingMu.Unlock()

	trig := a.def.Triggers[pf.triggerIndex]
	env := trigger.BuildEnv(pf.msg, a.def.Name, a.clusterID, a.runtime.IterationCount())
	if err := a.fireExecuteTask(ctx, pf.triggerIndex, trig, pf.msg, env, log); err != nil {
		log.Error("deferred trigger retry failed", "trigger_index", pf.triggerIndex, "error", err)
	}
}

func (a *Agent) baseVars() map[string]any {
	return map[string]any{
		"cluster": map[string]any{"id": a.clusterID},
		"agent":   map[string]any{"name": a.def.Name},
	}
}

func messageVars(msg models.Message) map[string]any {
	var payload any
	_ = json.Unmarshal(msg.Payload, &payload)
	return map[string]any{
		"type":       string(msg.Type),
		"from_agent": msg.FromAgent,
		"payload":    payload,
	}
}

func (a *Agent) applyHook(ctx context.Context, spec models.HookSpec, vars map[string]any, log *slog.Logger) error {
	if vars == nil {
		vars = a.baseVars()
	}
	op, err := a.deps.HookRunner.Apply(spec, vars)
	if err != nil {
		a.publishHookError(ctx, spec.Name, err, log)
		return err
	}
	if op.Kind == models.HookNoop {
		return nil
	}
	if err := a.deps.Sink.Apply(ctx, a.clusterID, a.def.Name, op); err != nil {
		a.publishHookError(ctx, spec.Name, err, log)
		return err
	}
	return nil
}

func (a *Agent) publishHookError(ctx context.Context, hook string, err error, log *slog.Logger) {
	if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageHookError, a.def.Name, map[string]any{"hook": hook, "error": err.Error()}, nil); pubErr != nil {
		log.Error("failed to record HOOK_ERROR", "error", pubErr)
	}
}

func (a *Agent) runHooks(ctx context.Context, specs []models.HookSpec, vars map[string]any, log *slog.Logger) {
	for _, spec := range specs {
		_ = a.applyHook(ctx, spec, vars, log)
	}
}

// resolveWorkDir applies the agent's own Cwd override (if set) ahead
// of the cluster's worktree path / configured isolation work dir /
// process cwd fallback chain.
func (a *Agent) resolveWorkDir() (string, error) {
	cfg := a.deps.Isolation
	if a.def.Cwd != "" {
		cfg.Explicit = a.def.Cwd
	}
	return isolation.Resolve(cfg)
}

func (a *Agent) execute(ctx context.Context, env trigger.Env, log *slog.Logger) error {
	iteration := a.runtime.IncrementIteration()
	env.Agent.IterationCount = iteration

	vars := a.baseVars()
	vars["agent"].(map[string]any)["iteration"] = iteration

	a.runHooks(ctx, a.def.Hooks.OnStart, vars, log)

	model, err := ResolveModel(ctx, a.deps.Trigger, a.def.Name, a.def.Model, env, a.deps.ModelCeiling, a.deps.ModelFloor)
	if err != nil {
		a.publishAgentError(ctx, err, log)
		a.runHooks(ctx, a.def.Hooks.OnError, vars, log)
		return err
	}

	workDir, err := a.resolveWorkDir()
	if err != nil {
		a.publishAgentError(ctx, err, log)
		a.runHooks(ctx, a.def.Hooks.OnError, vars, log)
		return err
	}

	prompt, _, err := a.deps.PromptBuilder.Build(ctx, a.def, a.runtime)
	if err != nil {
		a.publishAgentError(ctx, err, log)
		a.runHooks(ctx, a.def.Hooks.OnError, vars, log)
		return err
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if a.def.StaleAfter > 0 {
		execCtx, cancel = context.WithTimeout(ctx, a.def.StaleAfter)
	} else {
		execCtx, cancel = context.WithCancel(ctx)
	}
	a.runtime.SetCancel(cancel)
	defer cancel()

	if _, err := a.deps.Bus.Publish(ctx, models.MessageTaskStarted, a.def.Name, map[string]any{"model": model, "work_dir": workDir, "iteration": iteration}, nil); err != nil {
		return err
	}

	req := runner.Request{
		ClusterID: a.clusterID,
		AgentName: a.def.Name,
		Model:     model,
		Prompt:    prompt,
		WorkDir:   workDir,
		Schema:    a.def.Output.Schema,
	}

	result, runErr := a.runWithRetries(execCtx, req, log)

	a.runtime.SetLastTaskEndAt(time.Now().UTC())

	if runErr != nil {
		if execCtx.Err() != nil {
			runErr = &StaleError{Agent: a.def.Name}
			if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageAgentStale, a.def.Name, map[string]any{"iteration": iteration}, nil); pubErr != nil {
				log.Error("failed to record AGENT_STALE", "error", pubErr)
			}
		}
		if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageTaskCompleted, a.def.Name, map[string]any{"error": runErr.Error()}, nil); pubErr != nil {
			log.Error("failed to publish TASK_COMPLETED after runner error", "error", pubErr)
		}
		a.publishAgentError(ctx, runErr, log)
		a.runHooks(ctx, a.def.Hooks.OnError, vars, log)
		return runErr
	}

	if _, err := a.deps.Bus.Publish(ctx, models.MessageTaskCompleted, a.def.Name, map[string]any{"output": result.Output, "exit_code": result.ExitCode}, nil); err != nil {
		return err
	}

	decoded, perr := ParseOutput(a.def.Name, a.def.Role, a.def.Output, result.Output)
	if perr != nil {
		var outErr *OutputError
		if errors.As(perr, &outErr) && outErr.Warning {
			if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageAgentSchemaWarning, a.def.Name, map[string]any{"reason": outErr.Reason, "error": outErr.Err.Error()}, nil); pubErr != nil {
				log.Error("failed to record AGENT_SCHEMA_WARNING", "error", pubErr)
			}
		} else {
			log.Error("failed to parse agent output", "error", perr)
			a.publishAgentError(ctx, perr, log)
			vars["result"] = decoded
			a.runHooks(ctx, a.def.Hooks.OnError, vars, log)
			return perr
		}
	}

	vars["result"] = decoded
	a.runHooks(ctx, a.def.Hooks.OnComplete, vars, log)

	return nil
}

func (a *Agent) publishAgentError(ctx context.Context, err error, log *slog.Logger) {
	if _, pubErr := a.deps.Bus.Publish(ctx, models.MessageAgentError, a.def.Name, map[string]any{"error": err.Error()}, nil); pubErr != nil {
		log.Error("failed to record AGENT_ERROR", "error", pubErr)
	}
}

func (a *Agent) runWithRetries(ctx context.Context, req runner.Request, log *slog.Logger) (runner.Result, error) {
	var lastErr error
	attempts := a.def.MaxRetries + 1
	for i := 0; i < attempts; i++ {
		if i > 0 {
			log.Warn("retrying agent task", "attempt", i+1, "of", attempts)
		}
		result, err := a.deps.Runner.Run(ctx, req)
		if err == nil {
			return result, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return runner.Result{}, lastErr
		}
	}
	return runner.Result{}, lastErr
}
