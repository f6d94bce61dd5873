package trigger

import "fmt"

// SandboxError reports that a trigger expression failed to compile or
// raised a runtime error while evaluating.
type SandboxError struct {
	Agent string
	Expr  string
	Err   error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("trigger: agent %q expression %q: %v", e.Agent, e.Expr, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// TimeoutError reports that a trigger expression exceeded its
// wall-clock evaluation budget.
type TimeoutError struct {
	Agent   string
	Expr    string
	BudgetMS int64
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("trigger: agent %q expression %q exceeded %dms budget", e.Agent, e.Expr, e.BudgetMS)
}
