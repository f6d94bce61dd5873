package runner

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// SubprocessRunner is the default Runner: it invokes a configured
// command, writes the prompt to its stdin, and captures stdout as the
// iteration's output. The command is expected to be a thin CLI wrapper
// around whatever AI assistant the deployment uses; this repository
// does not assume anything about it beyond "reads a prompt on stdin,
// writes its result on stdout".
type SubprocessRunner struct {
	// Command and BaseArgs are combined with per-request flags
	// (--model, --schema) to build the subprocess invocation; the
	// request's WorkDir becomes the subprocess's working directory.
	Command  string
	BaseArgs []string
}

func NewSubprocessRunner(command string, baseArgs ...string) *SubprocessRunner {
	return &SubprocessRunner{Command: command, BaseArgs: baseArgs}
}

func (r *SubprocessRunner) Run(ctx context.Context, req Request) (Result, error) {
	args := append([]string{}, r.BaseArgs...)
	if req.Model != "" {
		args = append(args, "--model", req.Model)
	}
	if len(req.Schema) > 0 {
		args = append(args, "--schema", string(req.Schema))
	}

	cmd := exec.CommandContext(ctx, r.Command, args...)
	if req.WorkDir != "" {
		cmd.Dir = req.WorkDir
	}
	cmd.Stdin = strings.NewReader(req.Prompt)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	if err != nil {
		return Result{Output: stdout.String(), ExitCode: exitCode}, &RunnerError{
			Agent:  req.AgentName,
			Reason: "subprocess failed: " + stderr.String(),
			Err:    err,
		}
	}

	return Result{Output: stdout.String(), ExitCode: exitCode}, nil
}
