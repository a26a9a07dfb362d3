package engine

import (
	"context"
	"testing"
	"time"

	"github.com/openfroyo/inspector/pkg/sections"
)

func TestNewStarlarkVerdict_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		script string
	}{
		{name: "syntax error", script: "success = ("},
		{name: "no success", script: "x = 1"},
		{name: "not a bool", script: "success = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewStarlarkVerdict(tt.script, time.Second); err == nil {
				t.Error("Expected an error")
			}
		})
	}
}

func TestStarlarkVerdict_Success(t *testing.T) {
	v, err := NewStarlarkVerdict(`success = exit_code == 0 and "FATAL" not in stderr and len(checks) > 0`, time.Second)
	if err != nil {
		t.Fatalf("failed to create verdict: %v", err)
	}

	checks := []sections.CheckResult{{Code: "U-01", Result: "양호"}}
	tests := []struct {
		name     string
		result   *RemoteResult
		checks   []sections.CheckResult
		expected bool
	}{
		{name: "clean run", result: &RemoteResult{}, checks: checks, expected: true},
		{name: "non-zero exit", result: &RemoteResult{ExitCode: 2}, checks: checks, expected: false},
		{name: "fatal stderr", result: &RemoteResult{Stderr: "FATAL: disk"}, checks: checks, expected: false},
		{name: "no checks", result: &RemoteResult{}, expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ok, err := v.Success(context.Background(), tt.result, tt.checks)
			if err != nil {
				t.Fatalf("failed to evaluate verdict: %v", err)
			}
			if ok != tt.expected {
				t.Errorf("Expected %v, got %v", tt.expected, ok)
			}
		})
	}
}

func TestStarlarkVerdict_Timeout(t *testing.T) {
	// Only the busy branch loops; the dry run with exit code 0 returns.
	script := `
def spin():
    n = 0
    for i in range(100000000):
        n += i
    return n > 0

success = spin() if exit_code != 0 else True
`
	v, err := NewStarlarkVerdict(script, 20*time.Millisecond)
	if err != nil {
		t.Fatalf("failed to create verdict: %v", err)
	}

	if _, err := v.Success(context.Background(), &RemoteResult{ExitCode: 1}, nil); err == nil {
		t.Error("Expected a timeout error")
	}
}

func TestExitCodeVerdict(t *testing.T) {
	v := ExitCodeVerdict{}
	if ok, _ := v.Success(context.Background(), &RemoteResult{ExitCode: 0}, nil); !ok {
		t.Error("Expected exit code 0 to succeed")
	}
	if ok, _ := v.Success(context.Background(), &RemoteResult{ExitCode: 1}, nil); ok {
		t.Error("Expected exit code 1 to fail")
	}
}
