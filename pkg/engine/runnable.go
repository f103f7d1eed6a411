package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/modctl/modctl/pkg/telemetry"
)

// RunnableKind discriminates the Runnable variants.
type RunnableKind string

const (
	// RunnableCommand is a shell-style command string.
	RunnableCommand RunnableKind = "command"

	// RunnableCallback is an in-process function.
	RunnableCallback RunnableKind = "callback"

	// RunnableSequence is an ordered list of runnables.
	RunnableSequence RunnableKind = "sequence"
)

// CallbackFunc is an in-process runnable. It receives the module it runs for
// and returns an output, used when the callback backs a value provider.
type CallbackFunc func(ctx context.Context, module *Module) (string, error)

// Runnable is a unit of executable work: exactly one of the variant fields
// is meaningful, selected by Kind.
type Runnable struct {
	Kind RunnableKind `json:"kind"`

	// Command is set for RunnableCommand.
	Command string `json:"command,omitempty"`

	// Callback is set for RunnableCallback. Label describes it in logs.
	Callback CallbackFunc `json:"-"`
	Label    string       `json:"label,omitempty"`

	// Steps is set for RunnableSequence.
	Steps []Runnable `json:"steps,omitempty"`
}

// Command returns a command runnable.
func Command(cmd string) Runnable {
	return Runnable{Kind: RunnableCommand, Command: cmd}
}

// Callback returns an in-process runnable.
func Callback(label string, fn CallbackFunc) Runnable {
	return Runnable{Kind: RunnableCallback, Callback: fn, Label: label}
}

// Sequence returns a runnable executing steps strictly in order.
func Sequence(steps ...Runnable) Runnable {
	return Runnable{Kind: RunnableSequence, Steps: steps}
}

// IsZero reports whether the runnable does nothing.
func (r Runnable) IsZero() bool {
	switch r.Kind {
	case RunnableCommand:
		return strings.TrimSpace(r.Command) == ""
	case RunnableCallback:
		return r.Callback == nil
	case RunnableSequence:
		for _, s := range r.Steps {
			if !s.IsZero() {
				return false
			}
		}
		return true
	default:
		return true
	}
}

// String renders the runnable for logs and dry-run output.
func (r Runnable) String() string {
	switch r.Kind {
	case RunnableCommand:
		return r.Command
	case RunnableCallback:
		if r.Label != "" {
			return "callback:" + r.Label
		}
		return "callback"
	case RunnableSequence:
		parts := make([]string, 0, len(r.Steps))
		for _, s := range r.Steps {
			parts = append(parts, s.String())
		}
		return "[" + strings.Join(parts, "; ") + "]"
	default:
		return fmt.Sprintf("<%s>", r.Kind)
	}
}

// RunnableExecutor executes runnables uniformly. Commands are delegated to
// the process manager, callbacks run in-process, sequences run each element
// to completion before the next and stop at the first failure.
type RunnableExecutor struct {
	procs ProcessManager
}

// NewRunnableExecutor creates an executor delegating commands to procs.
func NewRunnableExecutor(procs ProcessManager) *RunnableExecutor {
	return &RunnableExecutor{procs: procs}
}

// Run executes r interactively: commands inherit the terminal.
func (x *RunnableExecutor) Run(ctx context.Context, ec *ExecutionContext, module *Module, r Runnable, env map[string]string) error {
	s := telemetry.StartRunnable(ctx, module.Name, string(r.Kind), r.String())
	_, err := x.exec(s.Ctx, ec, module, r, env, false)
	s.End(err)
	return err
}

// Capture executes r and returns its output. Outputs of sequence elements
// are concatenated in order; the result is trimmed of surrounding space.
func (x *RunnableExecutor) Capture(ctx context.Context, ec *ExecutionContext, module *Module, r Runnable, env map[string]string) (string, error) {
	s := telemetry.StartRunnable(ctx, module.Name, string(r.Kind), r.String())
	out, err := x.exec(s.Ctx, ec, module, r, env, true)
	s.End(err)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

func (x *RunnableExecutor) exec(ctx context.Context, ec *ExecutionContext, module *Module, r Runnable, env map[string]string, capture bool) (string, error) {
	switch r.Kind {
	case RunnableCommand:
		if capture {
			out, err := x.procs.Run(ctx, ec, module, r.Command, env)
			if err != nil {
				return "", runnableFailed(module, r, err)
			}
			return out, nil
		}
		if err := x.procs.RunInteractive(ctx, ec, module, r.Command, env); err != nil {
			return "", runnableFailed(module, r, err)
		}
		return "", nil

	case RunnableCallback:
		if r.Callback == nil {
			return "", NewEngineError(ErrCodeInternal, "callback runnable has no function", nil).
				WithTarget(module.Name)
		}
		out, err := r.Callback(ctx, module)
		if err != nil {
			return "", runnableFailed(module, r, err)
		}
		return out, nil

	case RunnableSequence:
		var sb strings.Builder
		for i, step := range r.Steps {
			if err := ctx.Err(); err != nil {
				return "", err
			}
			out, err := x.exec(ctx, ec, module, step, env, capture)
			if err != nil {
				return "", fmt.Errorf("step %d: %w", i+1, err)
			}
			sb.WriteString(out)
		}
		return sb.String(), nil

	default:
		return "", &UnhandledStateError{Change: "runnable.kind", Value: string(r.Kind)}
	}
}

func runnableFailed(module *Module, r Runnable, err error) error {
	return NewEngineError(ErrCodeRunnableFailed, fmt.Sprintf("runnable %q failed", r.String()), err).
		WithTarget(module.Name)
}

// moduleEnv returns the environment a module's runnables run with.
func moduleEnv(module *Module, extra ...map[string]string) map[string]string {
	env := make(map[string]string, len(module.Spec.Env))
	for k, v := range module.Spec.Env {
		env[k] = v
	}
	for _, m := range extra {
		for k, v := range m {
			env[k] = v
		}
	}
	return env
}
