package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"
	"time"
)

// ExecParams describes one shell command execution.
type ExecParams struct {
	Command string
	WorkDir string
	Env     map[string]string

	// Capture collects stdout and stderr instead of forwarding them to the
	// manager's terminal streams.
	Capture bool
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// ExitError reports a command that exited non-zero.
type ExitError struct {
	Command  string
	ExitCode int
	Stderr   string
}

func (e *ExitError) Error() string {
	if e.Stderr == "" {
		return fmt.Sprintf("command %q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("command %q exited with code %d: %s", e.Command, e.ExitCode, e.Stderr)
}

// Exec runs params.Command through the shell and waits for it. A non-zero
// exit is reported as an *ExitError alongside the result.
func (m *Manager) Exec(ctx context.Context, params *ExecParams) (*ExecResult, error) {
	if params.Command == "" {
		return nil, fmt.Errorf("command is required")
	}

	cmd := exec.CommandContext(ctx, m.shell, "-c", params.Command)
	cmd.Dir = params.WorkDir
	cmd.Env = mergeEnv(os.Environ(), withPWD(params.Env, params.WorkDir))

	var stdout, stderr bytes.Buffer
	if params.Capture {
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	} else {
		cmd.Stdin = m.stdin
		cmd.Stdout = m.stdout
		cmd.Stderr = m.stderr
	}

	start := time.Now()
	err := cmd.Run()
	result := &ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to execute command: %w", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("command %q interrupted: %w", params.Command, ctxErr)
		}
		result.ExitCode = exitErr.ExitCode()
		return result, &ExitError{
			Command:  params.Command,
			ExitCode: result.ExitCode,
			Stderr:   strings.TrimSpace(result.Stderr),
		}
	}

	return result, nil
}

// mergeEnv overlays env onto base, which holds KEY=VALUE entries. Keys of
// env are applied in sorted order.
func mergeEnv(base []string, env map[string]string) []string {
	out := make([]string, 0, len(base)+len(env))
	for _, kv := range base {
		key, _, _ := strings.Cut(kv, "=")
		if _, overridden := env[key]; overridden {
			continue
		}
		out = append(out, kv)
	}

	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// withPWD returns env with PWD pointing at dir, so shells do not inherit
// the caller's working directory name.
func withPWD(env map[string]string, dir string) map[string]string {
	if dir == "" {
		return env
	}
	out := make(map[string]string, len(env)+1)
	for k, v := range env {
		out[k] = v
	}
	out["PWD"] = dir
	return out
}

func orDefault(w io.Writer, def io.Writer) io.Writer {
	if w == nil {
		return def
	}
	return w
}
