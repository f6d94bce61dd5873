package config

import "fmt"

// ValidationError reports a single field-level configuration problem.
// Multiple validation failures are collected into a ValidationErrors.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("config: field %q (value %v): %s", e.Field, e.Value, e.Message)
	}
	return fmt.Sprintf("config: field %q: %s", e.Field, e.Message)
}

// ValidationErrors collects every ValidationError found in one pass so
// callers see all problems at once instead of fixing them one at a time.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("config: %d validation errors (first: %s)", len(e.Errors), e.Errors[0].Error())
}

func (e *ValidationErrors) Add(field string, value any, format string, args ...any) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Value: value, Message: fmt.Sprintf(format, args...)})
}

func (e *ValidationErrors) HasErrors() bool { return len(e.Errors) > 0 }

// LoadError wraps a failure to read or parse a settings document,
// preserving the path that failed and the underlying cause.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config: failed to load %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ModelPolicyError reports that an agent's model policy could not be
// resolved to a concrete model name.
type ModelPolicyError struct {
	Agent  string
	Reason string
}

func (e *ModelPolicyError) Error() string {
	return fmt.Sprintf("config: agent %q model policy error: %s", e.Agent, e.Reason)
}

// ErrNoModelRule is wrapped into ModelPolicyError when no rule, static
// model, or default applies — this is a hard failure, never a silent
// fallback to a built-in model.
const ErrNoModelRule = "NO_MODEL_RULE: no matching model rule and no default configured"
