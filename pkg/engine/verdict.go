package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/inspector/pkg/sections"
	"go.starlark.net/starlark"
)

// StarlarkVerdict decides host success with a Starlark predicate. The
// script sees exit_code, stdout, stderr and checks (a list of dicts with
// code and result) and must assign a bool to success.
//
//	success = exit_code == 0 and not [c for c in checks if c["result"] == "취약"]
type StarlarkVerdict struct {
	script  string
	timeout time.Duration
}

// NewStarlarkVerdict checks that script runs and assigns success.
func NewStarlarkVerdict(script string, timeout time.Duration) (*StarlarkVerdict, error) {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	v := &StarlarkVerdict{script: script, timeout: timeout}

	if _, err := v.evaluate(&RemoteResult{}, nil, nil); err != nil {
		return nil, fmt.Errorf("invalid verdict script: %w", err)
	}
	return v, nil
}

// Success implements Verdict.
func (v *StarlarkVerdict) Success(ctx context.Context, result *RemoteResult, checks []sections.CheckResult) (bool, error) {
	evalCtx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	thread := &starlark.Thread{Name: "verdict"}
	type outcome struct {
		ok  bool
		err error
	}
	done := make(chan outcome, 1)

	go func() {
		ok, err := v.evaluate(result, checks, thread)
		done <- outcome{ok, err}
	}()

	select {
	case <-evalCtx.Done():
		thread.Cancel("verdict timeout")
		return false, fmt.Errorf("verdict timed out after %v", v.timeout)
	case out := <-done:
		return out.ok, out.err
	}
}

func (v *StarlarkVerdict) evaluate(result *RemoteResult, checks []sections.CheckResult, thread *starlark.Thread) (bool, error) {
	if thread == nil {
		thread = &starlark.Thread{Name: "verdict"}
	}
	thread.Print = func(_ *starlark.Thread, _ string) {}

	checkList := make([]starlark.Value, 0, len(checks))
	for _, c := range checks {
		d := starlark.NewDict(2)
		_ = d.SetKey(starlark.String("code"), starlark.String(c.Code))
		_ = d.SetKey(starlark.String("result"), starlark.String(c.Result))
		checkList = append(checkList, d)
	}

	predeclared := starlark.StringDict{
		"exit_code": starlark.MakeInt(result.ExitCode),
		"stdout":    starlark.String(result.Stdout),
		"stderr":    starlark.String(result.Stderr),
		"checks":    starlark.NewList(checkList),
	}

	globals, err := starlark.ExecFile(thread, "verdict.star", v.script, predeclared)
	if err != nil {
		return false, fmt.Errorf("starlark execution failed: %w", err)
	}

	val, ok := globals["success"]
	if !ok {
		return false, fmt.Errorf("verdict script does not assign success")
	}
	b, ok := val.(starlark.Bool)
	if !ok {
		return false, fmt.Errorf("success must be a bool, got %s", val.Type())
	}
	return bool(b), nil
}
