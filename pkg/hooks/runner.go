// Package hooks interprets an agent's output through its configured
// hooks and produces the closed set of cluster operations the
// orchestrator is allowed to apply: publish a message, stop the
// cluster, spawn a sub-cluster, or do nothing.
package hooks

import (
	"github.com/meshrun/meshrun/pkg/models"
)

// Operation is one cluster-level effect produced by a hook, for the
// orchestrator to apply. Exactly the fields relevant to Kind are set.
type Operation struct {
	Kind models.HookAction

	// publish_message
	MessageType models.MessageType
	Payload     any

	// spawn_sub_cluster
	Template string
	Params   map[string]any
}

// Runner applies a single hook against an agent's structured output.
type Runner struct{}

func NewRunner() *Runner {
	return &Runner{}
}

// Apply resolves spec's params against vars (the agent's decoded
// output plus static context such as cluster.id/agent.name) and
// returns the operation the orchestrator should perform. A resolution
// failure is returned as a *HookError, never a panic — callers record
// it as a HOOK_ERROR ledger message per SPEC_FULL.md §9.
func (r *Runner) Apply(spec models.HookSpec, vars map[string]any) (Operation, error) {
	switch spec.Action {
	case models.HookNoop:
		return Operation{Kind: models.HookNoop}, nil

	case models.HookStopCluster:
		return Operation{Kind: models.HookStopCluster}, nil

	case models.HookPublishMessage:
		resolved, err := resolveParams(spec.Params, vars)
		if err != nil {
			return Operation{}, &HookError{Hook: spec.Name, Action: string(spec.Action), Reason: err.Error()}
		}
		msgType, _ := resolved["type"].(string)
		if msgType == "" {
			return Operation{}, &HookError{Hook: spec.Name, Action: string(spec.Action), Reason: "resolved \"type\" is empty"}
		}
		return Operation{
			Kind:        models.HookPublishMessage,
			MessageType: models.MessageType(msgType),
			Payload:     resolved["payload"],
		}, nil

	case models.HookSpawnSubCluster:
		resolved, err := resolveParams(spec.Params, vars)
		if err != nil {
			return Operation{}, &HookError{Hook: spec.Name, Action: string(spec.Action), Reason: err.Error()}
		}
		tmpl, _ := resolved["template"].(string)
		if tmpl == "" {
			return Operation{}, &HookError{Hook: spec.Name, Action: string(spec.Action), Reason: "resolved \"template\" is empty"}
		}
		delete(resolved, "template")
		return Operation{Kind: models.HookSpawnSubCluster, Template: tmpl, Params: resolved}, nil

	default:
		return Operation{}, &HookError{Hook: spec.Name, Action: string(spec.Action), Reason: "unknown action"}
	}
}
