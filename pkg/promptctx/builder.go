// Package promptctx builds the prompt an agent hands to its
// TaskRunner, assembled from its static system prompt followed by the
// ordered, repeatable list of ledger sources its context strategy
// names.
package promptctx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/meshrun/meshrun/pkg/ledger"
	"github.com/meshrun/meshrun/pkg/models"
)

// Builder assembles prompts from one cluster's ledger.
type Builder struct {
	ledger *ledger.Ledger
}

func NewBuilder(l *ledger.Ledger) *Builder {
	return &Builder{ledger: l}
}

// resolveSince turns a ContextScope into the absolute cutoff time
// ledger.Filter expects; cluster_start has no cutoff at all.
func resolveSince(scope models.ContextScope, runtime *models.AgentRuntime) (time.Time, error) {
	switch scope.Mode {
	case models.SinceClusterStart, "":
		return time.Time{}, nil
	case models.SinceLastTaskEnd:
		return runtime.LastTaskEndAt(), nil
	case models.SinceISOTime:
		return scope.At, nil
	default:
		return time.Time{}, fmt.Errorf("promptctx: unknown since mode %q", scope.Mode)
	}
}

// sourceMessages resolves one context_sources entry against the
// ledger.
func (b *Builder) sourceMessages(ctx context.Context, src models.ContextSource, runtime *models.AgentRuntime) ([]models.Message, error) {
	since, err := resolveSince(src.Since, runtime)
	if err != nil {
		return nil, err
	}
	return b.ledger.Query(ctx, ledger.Filter{Topic: src.Topic, Sender: src.Sender, Since: since, Limit: src.Limit})
}

// Build renders def's full prompt: its static system prompt, then each
// of its ordered context_sources concatenated under a
// "Messages from topic: <T>" header, each message rendered as
// "<sender> (<timestamp>):" followed by its text or pretty-printed
// data. A source that resolves to nothing contributes no header at
// all, so an agent's first iteration (with an empty ledger) gets a
// prompt that is just its system prompt. The flattened slice of every
// message actually included is also returned, for callers that need
// to know what the agent's decision was based on.
func (b *Builder) Build(ctx context.Context, def models.AgentDefinition, runtime *models.AgentRuntime) (string, []models.Message, error) {
	var buf bytes.Buffer
	if def.Prompt != "" {
		buf.WriteString(def.Prompt)
		buf.WriteString("\n\n")
	}

	var included []models.Message
	for _, src := range def.ContextSources {
		msgs, err := b.sourceMessages(ctx, src, runtime)
		if err != nil {
			return "", nil, err
		}
		if len(msgs) == 0 {
			continue
		}
		fmt.Fprintf(&buf, "Messages from topic: %s\n\n", src.Topic)
		for _, m := range msgs {
			fmt.Fprintf(&buf, "%s (%s):\n%s\n\n", orSystem(m.FromAgent), m.CreatedAt.Format(time.RFC3339), renderPayload(m.Payload))
		}
		included = append(included, msgs...)
	}

	if len(def.Output.Schema) > 0 && !def.Output.Streaming {
		fmt.Fprintf(&buf, "OUTPUT FORMAT\n%s\n", string(def.Output.Schema))
	}

	return buf.String(), included, nil
}

func orSystem(agent string) string {
	if agent == "" {
		return "system"
	}
	return agent
}

func renderPayload(raw json.RawMessage) string {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return asString
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, raw, "", "  "); err != nil {
		return string(raw)
	}
	return pretty.String()
}
