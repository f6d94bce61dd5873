package agent

import "fmt"

// LogicError reports an invariant violation in the agent lifecycle
// itself — e.g. an attempt to execute an agent that isn't idle — as
// opposed to a failure in something the agent called out to.
type LogicError struct {
	Agent  string
	Reason string
}

func (e *LogicError) Error() string {
	return fmt.Sprintf("agent %q: %s", e.Agent, e.Reason)
}

// StaleError reports that an agent has been executing for longer than
// its configured StaleAfter duration without completing.
type StaleError struct {
	Agent string
}

func (e *StaleError) Error() string {
	return fmt.Sprintf("agent %q: execution exceeded stale threshold", e.Agent)
}

// CeilingReachedError reports that an agent has reached its configured
// MaxIterations and will not execute again until reset.
type CeilingReachedError struct {
	Agent string
	Max   int
}

func (e *CeilingReachedError) Error() string {
	return fmt.Sprintf("agent %q: reached max_iterations (%d)", e.Agent, e.Max)
}
