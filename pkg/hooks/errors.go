package hooks

import "fmt"

// HookError reports that a hook failed to apply: an unknown
// placeholder path, a runner that rejected the resulting operation, or
// an action whose required parameters were missing despite passing
// config validation (e.g. a template param substitution left one
// empty). Per SPEC_FULL.md §9 this is recorded as a HOOK_ERROR ledger
// message, not a crash.
type HookError struct {
	Hook   string
	Action string
	Reason string
}

func (e *HookError) Error() string {
	return fmt.Sprintf("hook %q (%s): %s", e.Hook, e.Action, e.Reason)
}
