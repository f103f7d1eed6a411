package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/modctl/modctl/pkg/engine"
	"github.com/modctl/modctl/pkg/telemetry"
)

// OutputGlobal is the global a script runnable assigns its result to.
const OutputGlobal = "output"

// StarlarkEvaluator executes Starlark scripts for in-process runnables.
type StarlarkEvaluator struct {
	timeout time.Duration
}

// StarlarkResult is the outcome of one script execution.
type StarlarkResult struct {
	// Output holds the exported globals of the script.
	Output map[string]interface{} `json:"output,omitempty"`

	// ExecutionTime is how long the script took to execute.
	ExecutionTime time.Duration `json:"execution_time"`

	// Error is any error that occurred.
	Error string `json:"error,omitempty"`
}

// NewStarlarkEvaluator creates a new Starlark evaluator.
func NewStarlarkEvaluator(timeout time.Duration) *StarlarkEvaluator {
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &StarlarkEvaluator{
		timeout: timeout,
	}
}

// Callback returns a runnable that evaluates script with the module in
// scope and yields the string form of its output global.
func (se *StarlarkEvaluator) Callback(label, script string) engine.Runnable {
	if label == "" {
		label = "script"
	}
	return engine.Callback(label, func(ctx context.Context, module *engine.Module) (string, error) {
		return se.RunCallback(ctx, script, module)
	})
}

// RunCallback evaluates script for module. Predeclared are "module" (a
// struct with name, dir and env), getenv(name, default="") and
// read_file(path), which reads relative to the module directory.
func (se *StarlarkEvaluator) RunCallback(ctx context.Context, script string, module *engine.Module) (string, error) {
	env := starlark.NewDict(len(module.Spec.Env))
	for _, k := range sortedKeys(module.Spec.Env) {
		if err := env.SetKey(starlark.String(k), starlark.String(module.Spec.Env[k])); err != nil {
			return "", err
		}
	}

	predeclared := starlark.StringDict{
		"module": starlarkstruct.FromStringDict(starlarkstruct.Default, starlark.StringDict{
			"name": starlark.String(module.Name),
			"dir":  starlark.String(module.Dir),
			"env":  env,
		}),
		"getenv":    starlark.NewBuiltin("getenv", builtinGetenv),
		"read_file": starlark.NewBuiltin("read_file", readFileBuiltin(module.Dir)),
	}

	result, err := se.evaluate(ctx, module.Name+".star", script, predeclared)
	if err != nil {
		return "", err
	}

	out, ok := result.Output[OutputGlobal]
	if !ok || out == nil {
		return "", nil
	}
	if s, ok := out.(string); ok {
		return s, nil
	}
	return fmt.Sprint(out), nil
}

// evaluate runs script with predeclared in scope and collects its exported
// globals. The script is cancelled once the evaluator timeout elapses.
func (se *StarlarkEvaluator) evaluate(ctx context.Context, filename, script string, predeclared starlark.StringDict) (*StarlarkResult, error) {
	startTime := time.Now()
	logger := telemetry.FromContext(ctx)

	evalCtx, cancel := context.WithTimeout(ctx, se.timeout)
	defer cancel()

	thread := &starlark.Thread{
		Name: "modctl",
		Print: func(_ *starlark.Thread, msg string) {
			logger.WithField("script", filename).Debug(msg)
		},
	}
	predeclared["struct"] = starlark.NewBuiltin("struct", starlarkstruct.Make)

	type outcome struct {
		globals starlark.StringDict
		err     error
	}
	done := make(chan outcome, 1)

	go func() {
		globals, err := starlark.ExecFile(thread, filename, script, predeclared)
		done <- outcome{globals, err}
	}()

	var res outcome
	select {
	case <-evalCtx.Done():
		thread.Cancel(evalCtx.Err().Error())
		<-done
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         fmt.Sprintf("execution timeout after %v", se.timeout),
		}, fmt.Errorf("starlark execution of %s: %w", filename, evalCtx.Err())
	case res = <-done:
	}

	if res.err != nil {
		msg := res.err.Error()
		if evalErr, ok := res.err.(*starlark.EvalError); ok {
			msg = evalErr.Backtrace()
		}
		return &StarlarkResult{
			ExecutionTime: time.Since(startTime),
			Error:         msg,
		}, fmt.Errorf("starlark execution failed: %w", res.err)
	}

	output := make(map[string]interface{})
	for name, val := range res.globals {
		// Underscore globals are private to the script.
		if strings.HasPrefix(name, "_") {
			continue
		}
		switch val.(type) {
		case *starlark.Function, *starlark.Builtin:
			continue
		}
		goVal, err := fromStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert output %s: %w", name, err)
		}
		output[name] = goVal
	}

	return &StarlarkResult{
		Output:        output,
		ExecutionTime: time.Since(startTime),
	}, nil
}

// builtinGetenv implements getenv(name, default="").
func builtinGetenv(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var name, def string
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "name", &name, "default?", &def); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv(name); ok {
		return starlark.String(v), nil
	}
	return starlark.String(def), nil
}

// readFileBuiltin implements read_file(path) relative to dir.
func readFileBuiltin(dir string) func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
	return func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		var path string
		if err := starlark.UnpackArgs(b.Name(), args, kwargs, "path", &path); err != nil {
			return nil, err
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", b.Name(), err)
		}
		return starlark.String(data), nil
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (interface{}, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case starlark.Tuple:
		return fromIterable(val, val.Len())
	case *starlark.List:
		return fromIterable(val, val.Len())
	case *starlark.Dict:
		dict := make(map[string]interface{})
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	case *starlarkstruct.Struct:
		dict := make(map[string]interface{})
		for _, name := range val.AttrNames() {
			attr, err := val.Attr(name)
			if err != nil {
				continue
			}
			value, err := fromStarlarkValue(attr)
			if err != nil {
				return nil, err
			}
			dict[name] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}

func fromIterable(it starlark.Indexable, n int) ([]interface{}, error) {
	list := make([]interface{}, n)
	for i := 0; i < n; i++ {
		item, err := fromStarlarkValue(it.Index(i))
		if err != nil {
			return nil, err
		}
		list[i] = item
	}
	return list, nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
