package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/meshrun/meshrun/pkg/models"
)

// OutputError reports that an agent's output did not satisfy its
// declared output policy: invalid JSON against a schema, or output
// that failed validation. Warning is true when the failure should be
// recorded as a non-fatal AGENT_SCHEMA_WARNING (every role except
// "validator") rather than a fatal AGENT_ERROR.
type OutputError struct {
	Agent   string
	Reason  string
	Err     error
	Warning bool
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("agent %q output: %s: %v", e.Agent, e.Reason, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

// isValidatorRole reports whether role requires strict schema
// compliance: a schema failure from a validator is always fatal.
func isValidatorRole(role string) bool {
	return strings.EqualFold(role, "validator")
}

// ParseOutput interprets a runner's raw output text per policy: a
// schema policy decodes the JSON, normalizes enum-valued fields
// against the schema (case-insensitive match, first pipe-joined
// candidate that matches), and validates the result; a streaming
// policy returns the raw text wrapped as {"text": ...} so hooks have a
// uniform "result" shape to address regardless of output policy. A
// validation failure is still returned alongside the best-effort
// decoded/normalized map, so a non-validator caller can fall back to
// treating the output as text instead of discarding it.
func ParseOutput(agentName, role string, policy models.OutputPolicy, raw string) (map[string]any, error) {
	if policy.Streaming || len(policy.Schema) == 0 {
		return map[string]any{"text": raw}, nil
	}

	warning := !isValidatorRole(role)

	var decoded map[string]any
	if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
		return map[string]any{"text": raw}, &OutputError{Agent: agentName, Reason: "output is not valid JSON", Err: err, Warning: warning}
	}

	normalized := normalizeAgainstSchema(policy.Schema, decoded)

	var schema jsonschema.Schema
	if err := json.Unmarshal(policy.Schema, &schema); err != nil {
		return normalized, &OutputError{Agent: agentName, Reason: "output schema is not valid JSON Schema", Err: err, Warning: warning}
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return normalized, &OutputError{Agent: agentName, Reason: "output schema failed to resolve", Err: err, Warning: warning}
	}
	if err := resolved.Validate(normalized); err != nil {
		return normalized, &OutputError{Agent: agentName, Reason: "output failed schema validation", Err: err, Warning: warning}
	}

	return normalized, nil
}

// normalizeAgainstSchema walks decoded alongside its JSON Schema,
// normalizing every string value a schema node declares an enum for.
// It operates on the generic JSON tree rather than the typed
// jsonschema.Schema so a malformed schema never blocks normalization
// of the parts that are well formed; Validate still catches anything
// normalization couldn't fix.
func normalizeAgainstSchema(rawSchema json.RawMessage, decoded map[string]any) map[string]any {
	var schemaNode map[string]any
	if err := json.Unmarshal(rawSchema, &schemaNode); err != nil {
		return decoded
	}
	out, ok := normalizeNode(schemaNode, decoded).(map[string]any)
	if !ok {
		return decoded
	}
	return out
}

func normalizeNode(schema map[string]any, data any) any {
	if schema == nil {
		return data
	}
	if enumRaw, ok := schema["enum"]; ok {
		if s, ok := data.(string); ok {
			return normalizeEnumValue(s, enumRaw)
		}
	}
	switch v := data.(type) {
	case map[string]any:
		props, _ := schema["properties"].(map[string]any)
		out := make(map[string]any, len(v))
		for k, child := range v {
			var childSchema map[string]any
			if props != nil {
				childSchema, _ = props[k].(map[string]any)
			}
			out[k] = normalizeNode(childSchema, child)
		}
		return out
	case []any:
		items, _ := schema["items"].(map[string]any)
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = normalizeNode(items, item)
		}
		return out
	default:
		return data
	}
}

// normalizeEnumValue matches s — possibly a "|"-joined list of
// candidate values, as a model sometimes emits for an ambiguous
// choice — case-insensitively against enumRaw's declared values,
// returning the first declared value any candidate matches. Already-
// canonical input is returned unchanged, making this idempotent; input
// matching nothing is also returned unchanged so schema validation
// surfaces the real error.
func normalizeEnumValue(s string, enumRaw any) string {
	enumVals, ok := enumRaw.([]any)
	if !ok {
		return s
	}
	for _, candidate := range strings.Split(s, "|") {
		candidate = strings.TrimSpace(candidate)
		for _, ev := range enumVals {
			evs, ok := ev.(string)
			if ok && strings.EqualFold(candidate, evs) {
				return evs
			}
		}
	}
	return s
}
