package planner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
)

// Runner executes installer commands.
type Runner interface {
	Run(ctx context.Context, dir string, argv []string) (*Output, error)
}

// Output is the captured result of one command.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// ExecRunner runs commands as subprocesses.
type ExecRunner struct {
	// Stdout and Stderr receive a live copy of the output; nil discards it.
	Stdout io.Writer
	Stderr io.Writer
}

// Run executes argv in dir. A non-zero exit is reported through
// Output.ExitCode, not as an error.
func (r *ExecRunner) Run(ctx context.Context, dir string, argv []string) (*Output, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}
	bin, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("installer %s not found on PATH: %w", argv[0], err)
	}

	cmd := exec.CommandContext(ctx, bin, argv[1:]...)
	cmd.Dir = dir

	stdout, stderr := r.Stdout, r.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = io.MultiWriter(stdout, &stdoutBuf)
	cmd.Stderr = io.MultiWriter(stderr, &stderrBuf)

	err = cmd.Run()

	output := &Output{
		Stdout: stdoutBuf.String(),
		Stderr: stderrBuf.String(),
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			output.ExitCode = exitErr.ExitCode()
			return output, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return output, fmt.Errorf("running %s: %w", argv[0], ctxErr)
		}
		return output, fmt.Errorf("running %s: %w", argv[0], err)
	}
	return output, nil
}
