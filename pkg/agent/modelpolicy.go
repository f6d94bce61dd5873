package agent

import (
	"context"
	"fmt"

	"github.com/meshrun/meshrun/pkg/config"
	"github.com/meshrun/meshrun/pkg/models"
	"github.com/meshrun/meshrun/pkg/trigger"
)

// modelRank orders model names from least to most capable so a
// ceiling/floor can be checked against a rule's selection. Unranked
// names sort above every ranked one, since an operator-specified
// exotic model name should never be silently treated as "below floor".
var modelRank = map[string]int{
	"small":  0,
	"medium": 1,
	"large":  2,
}

func rank(name string) int {
	if r, ok := modelRank[name]; ok {
		return r
	}
	return len(modelRank)
}

// checkBounds reports a MODEL_CEILING_VIOLATION if model lies outside
// [floor, ceiling]. Per spec a ceiling/floor violation fails the task
// outright; it is never silently clamped to a different model.
func checkBounds(model, ceiling, floor string) error {
	if ceiling != "" && rank(model) > rank(ceiling) {
		return fmt.Errorf("MODEL_CEILING_VIOLATION: model %q exceeds ceiling %q", model, ceiling)
	}
	if floor != "" && rank(model) < rank(floor) {
		return fmt.Errorf("MODEL_CEILING_VIOLATION: model %q is below floor %q", model, floor)
	}
	return nil
}

// ResolveModel selects policy's model for the agent's current
// iteration (env.Agent.IterationCount, already incremented for the
// task about to run). A static model skips rule evaluation entirely;
// otherwise policy.Rules is matched in declared order by iteration
// pattern ("N", "N-M", "N+", or "all"), first match wins, and no match
// is a hard ModelPolicyError: NO_MODEL_RULE, never a silent built-in
// fallback. The selection is then checked against ceiling/floor.
func ResolveModel(ctx context.Context, engine *trigger.Engine, agentName string, policy models.ModelPolicy, env trigger.Env, ceiling, floor string) (string, error) {
	selected := policy.Static
	if selected == "" {
		matched := false
		for _, rule := range policy.Rules {
			ok, err := iterationMatches(rule.Iterations, env.Agent.IterationCount)
			if err != nil {
				return "", &config.ModelPolicyError{Agent: agentName, Reason: err.Error()}
			}
			if ok {
				selected = rule.Model
				matched = true
				break
			}
		}
		if !matched {
			return "", &config.ModelPolicyError{Agent: agentName, Reason: config.ErrNoModelRule}
		}
	}

	if err := checkBounds(selected, orDefault(policy.Ceiling, ceiling), orDefault(policy.Floor, floor)); err != nil {
		return "", &config.ModelPolicyError{Agent: agentName, Reason: err.Error()}
	}
	return selected, nil
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
