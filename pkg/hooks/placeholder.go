package hooks

import (
	"fmt"
	"strings"
)

// resolvePlaceholders deep-substitutes every "{{path.to.field}}" found
// in a string against vars, a nested map[string]any environment
// (typically the agent's decoded structured output under "result",
// plus static fields like "cluster.id" and "agent.name"). Any path
// that does not resolve to a concrete value is a hard error: unlike
// template params (pkg/template), hook placeholders are a contract the
// agent's output is expected to satisfy, so silently leaving them
// unresolved would hide a bug in the agent's schema.
func resolvePlaceholders(s string, vars map[string]any) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
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
			return "", fmt.Errorf("unterminated placeholder in %q", s)
		}
		end += start

		b.WriteString(s[:start])
		path := strings.TrimSpace(s[start+2 : end])
		val, err := lookupPath(vars, path)
		if err != nil {
			return "", err
		}
		fmt.Fprintf(&b, "%v", val)
		s = s[end+2:]
	}
	return b.String(), nil
}

// lookupPath walks a dot-separated path through nested
// map[string]any/[]any values, returning an error that names the
// first segment that could not be found.
func lookupPath(vars map[string]any, path string) (any, error) {
	segments := strings.Split(path, ".")
	var cur any = vars
	walked := make([]string, 0, len(segments))

	for _, seg := range segments {
		walked = append(walked, seg)
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("placeholder path %q: %q is not an object", path, strings.Join(walked[:len(walked)-1], "."))
		}
		v, ok := m[seg]
		if !ok {
			return nil, fmt.Errorf("placeholder path %q: unknown field %q", path, strings.Join(walked, "."))
		}
		cur = v
	}
	return cur, nil
}

// resolveParams applies resolvePlaceholders to every string value in
// params (recursively through nested maps), leaving non-string values
// untouched.
func resolveParams(params map[string]any, vars map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(params))
	for k, v := range params {
		rv, err := resolveValue(v, vars)
		if err != nil {
			return nil, fmt.Errorf("param %q: %w", k, err)
		}
		out[k] = rv
	}
	return out, nil
}

func resolveValue(v any, vars map[string]any) (any, error) {
	switch t := v.(type) {
	case string:
		return resolvePlaceholders(t, vars)
	case map[string]any:
		return resolveParams(t, vars)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			rv, err := resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = rv
		}
		return out, nil
	default:
		return v, nil
	}
}
