package tools

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandRunner runs one process and reports stdout, stderr and its exit
// code. Snapshot code reaches git only through it.
type CommandRunner interface {
	Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, int32, error)
}

// GitEnv keeps git from prompting for credentials or localizing messages.
var GitEnv = []string{"GIT_TERMINAL_PROMPT=0", "LC_ALL=C"}

// ExecRunner runs local processes. Env is appended to the inherited
// environment.
type ExecRunner struct {
	Env []string
}

// Git returns the runner used for repository reads.
func Git() ExecRunner {
	return ExecRunner{Env: GitEnv}
}

func (r ExecRunner) Run(ctx context.Context, dir string, name string, args ...string) ([]byte, []byte, int32, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if len(r.Env) > 0 {
		cmd.Env = append(os.Environ(), r.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), exitCode(err), err
}

// exitCode maps a run error to a shell-style status; 127 means the binary
// was not found.
func exitCode(err error) int32 {
	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return 0
	case errors.As(err, &exitErr):
		return int32(exitErr.ExitCode())
	case errors.Is(err, exec.ErrNotFound):
		return 127
	default:
		return 1
	}
}
