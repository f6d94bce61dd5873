// Package template resolves a cluster template's base+params chain and
// interpolates "{{path.to.field}}" placeholders against a parameter set.
package template

import (
	"fmt"
	"strings"

	"github.com/meshrun/meshrun/pkg/config"
	"github.com/meshrun/meshrun/pkg/models"
)

// CyclicBaseError is returned when a template's base is itself.
// Resolution only ever walks one level: a base that has a base of its
// own is rejected by Resolve with a plain error, which also rules out
// any longer cycle.
type CyclicBaseError struct {
	Template string
}

func (e *CyclicBaseError) Error() string {
	return fmt.Sprintf("template: %q cannot be its own base", e.Template)
}

// Resolver resolves named cluster templates against a Settings lookup.
type Resolver struct {
	settings *config.Settings
}

func NewResolver(settings *config.Settings) *Resolver {
	return &Resolver{settings: settings}
}

// Resolve returns the fully materialized set of agent definitions for
// a template: its base template's agents (if any, one level only),
// overridden by its own agents, with {{param}} placeholders in both
// replaced from the merged param set (template params, then the
// caller-supplied overrides, which win).
func (r *Resolver) Resolve(templateID string, overrides map[string]any) (map[string]models.AgentDefinition, error) {
	tmpl, ok := r.settings.Template(templateID)
	if !ok {
		return nil, fmt.Errorf("template: %q not found", templateID)
	}

	agents := map[string]models.AgentDefinition{}

	if tmpl.Base != "" {
		if tmpl.Base == templateID {
			return nil, &CyclicBaseError{Template: templateID}
		}
		base, ok := r.settings.Template(tmpl.Base)
		if !ok {
			return nil, fmt.Errorf("template: %q base %q not found", templateID, tmpl.Base)
		}
		if base.Base != "" {
			return nil, fmt.Errorf("template: %q base %q is itself derived; only one level of inheritance is supported", templateID, tmpl.Base)
		}
		for name, def := range base.Agents {
			agents[name] = def
		}
	}

	for name, def := range tmpl.Agents {
		agents[name] = def
	}

	params := map[string]any{}
	for k, v := range tmpl.Params {
		params[k] = v
	}
	for k, v := range overrides {
		params[k] = v
	}

	resolved := make(map[string]models.AgentDefinition, len(agents))
	for name, def := range agents {
		d, err := substituteAgent(def, params)
		if err != nil {
			return nil, fmt.Errorf("template: agent %q: %w", name, err)
		}
		resolved[name] = d
	}
	return resolved, nil
}

// substituteAgent deep-substitutes {{param}} placeholders appearing in
// an agent definition's string fields against the param set. Unlike
// hook placeholder resolution (pkg/hooks), unresolved template params
// are left verbatim — params are optional shorthand, not a contract
// every field must satisfy.
func substituteAgent(def models.AgentDefinition, params map[string]any) (models.AgentDefinition, error) {
	def.Prompt = substituteString(def.Prompt, params)
	for i, trig := range def.Triggers {
		def.Triggers[i].Logic = substituteString(trig.Logic, params)
		def.Triggers[i].Config = substituteMap(trig.Config, params)
	}
	for i, src := range def.ContextSources {
		def.ContextSources[i].Sender = substituteString(src.Sender, params)
	}
	substituteHooks(def.Hooks.OnStart, params)
	substituteHooks(def.Hooks.OnComplete, params)
	substituteHooks(def.Hooks.OnError, params)
	return def, nil
}

func substituteHooks(specs []models.HookSpec, params map[string]any) {
	for i, h := range specs {
		specs[i].Params = substituteMap(h.Params, params)
	}
}

func substituteMap(m map[string]any, params map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = substituteValue(v, params)
	}
	return out
}

func substituteValue(v any, params map[string]any) any {
	switch t := v.(type) {
	case string:
		return substituteString(t, params)
	case map[string]any:
		return substituteMap(t, params)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = substituteValue(item, params)
		}
		return out
	}
	return v
}

func substituteString(s string, params map[string]any) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	var b strings.Builder
	for {
		start := strings.Index(s, "{{")
		if start == -1 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}}")
		if end == -1 {
			b.WriteString(s)
			break
		}
		end += start
		b.WriteString(s[:start])
		key := strings.TrimSpace(s[start+2 : end])
		if v, ok := params[key]; ok {
			fmt.Fprintf(&b, "%v", v)
		} else {
			b.WriteString(s[start : end+2])
		}
		s = s[end+2:]
	}
	return b.String()
}
