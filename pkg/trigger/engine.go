// Package trigger evaluates the sandboxed boolean predicate that
// decides whether an agent wakes up in response to a new ledger
// message. Expressions run against a frozen, read-only environment
// built fresh for each evaluation and are never given access to
// anything outside that environment: no filesystem, no network, no
// mutation of engine state.
package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/meshrun/meshrun/pkg/models"
)

// Env is the frozen, read-only global environment a trigger expression
// evaluates against. It is rebuilt fresh for every evaluation; nothing
// in it is shared mutable state.
type Env struct {
	Message struct {
		Type      string         `expr:"type"`
		FromAgent string         `expr:"from_agent"`
		Payload   map[string]any `expr:"payload"`
		Republished bool         `expr:"republished"`
	} `expr:"message"`
	Agent struct {
		Name           string `expr:"name"`
		IterationCount int    `expr:"iteration_count"`
	} `expr:"agent"`
	Cluster struct {
		ID string `expr:"id"`
	} `expr:"cluster"`
}

// BuildEnv constructs the frozen environment for evaluating msg
// against agentName/clusterID/iteration.
func BuildEnv(msg models.Message, agentName, clusterID string, iteration int) Env {
	var env Env
	env.Message.Type = string(msg.Type)
	env.Message.FromAgent = msg.FromAgent
	env.Message.Republished = msg.Republished()
	if len(msg.Payload) > 0 {
		var payload map[string]any
		if err := json.Unmarshal(msg.Payload, &payload); err == nil {
			env.Message.Payload = payload
		}
	}
	env.Agent.Name = agentName
	env.Agent.IterationCount = iteration
	env.Cluster.ID = clusterID
	return env
}

// Engine compiles and evaluates trigger expressions, caching compiled
// programs per source string since the same trigger is evaluated once
// per incoming message for the lifetime of the agent.
type Engine struct {
	budget time.Duration

	mu      sync.Mutex
	cache   map[string]*vm.Program
}

// NewEngine creates an Engine enforcing the given wall-clock budget
// per evaluation (per spec: 1000ms by default).
func NewEngine(budget time.Duration) *Engine {
	return &Engine{
		budget: budget,
		cache:  make(map[string]*vm.Program),
	}
}

func (e *Engine) compile(source string) (*vm.Program, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if p, ok := e.cache[source]; ok {
		return p, nil
	}
	p, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, err
	}
	e.cache[source] = p
	return p, nil
}

// Evaluate compiles (if needed) and runs source against env, enforcing
// the engine's wall-clock budget. A timeout or a runtime panic inside
// the expression is surfaced as an error, never as a crash.
func (e *Engine) Evaluate(ctx context.Context, agent, source string, env Env) (bool, error) {
	program, err := e.compile(source)
	if err != nil {
		return false, &SandboxError{Agent: agent, Expr: source, Err: err}
	}

	type result struct {
		ok  bool
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("panic: %v", r)}
			}
		}()
		out, err := expr.Run(program, env)
		if err != nil {
			done <- result{err: err}
			return
		}
		b, _ := out.(bool)
		done <- result{ok: b}
	}()

	timer := time.NewTimer(e.budget)
	defer timer.Stop()

	select {
	case r := <-done:
		if r.err != nil {
			return false, &SandboxError{Agent: agent, Expr: source, Err: r.err}
		}
		return r.ok, nil
	case <-timer.C:
		return false, &TimeoutError{Agent: agent, Expr: source, BudgetMS: e.budget.Milliseconds()}
	case <-ctx.Done():
		return false, ctx.Err()
	}
}
