package runner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubprocessRunnerCapturesStdout(t *testing.T) {
	r := NewSubprocessRunner("/bin/cat")
	result, err := r.Run(context.Background(), Request{AgentName: "triage", Prompt: "hello from the ledger"})
	require.NoError(t, err)
	assert.Equal(t, "hello from the ledger", result.Output)
	assert.Equal(t, 0, result.ExitCode)
}

func TestSubprocessRunnerWrapsFailureAsRunnerError(t *testing.T) {
	r := NewSubprocessRunner("/bin/sh", "-c", "exit 7")
	_, err := r.Run(context.Background(), Request{AgentName: "triage", Prompt: "x"})
	require.Error(t, err)
	var runnerErr *RunnerError
	require.ErrorAs(t, err, &runnerErr)
	assert.Equal(t, "triage", runnerErr.Agent)
}
