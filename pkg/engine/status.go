package engine

import (
	"fmt"
)

// ExecutionStatus is the lifecycle state of an execution.
type ExecutionStatus string

const (
	// StatusPreparing is the state between Start returning and dispatch beginning.
	StatusPreparing ExecutionStatus = "preparing"

	// StatusRunning indicates hosts are being dispatched.
	StatusRunning ExecutionStatus = "running"

	// StatusCompleted indicates every host succeeded.
	StatusCompleted ExecutionStatus = "completed"

	// StatusFailed indicates at least one host failed or the execution
	// could not be orchestrated.
	StatusFailed ExecutionStatus = "failed"
)

// IsTerminal returns true if the status represents a final state.
func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Validate checks if the status is valid.
func (s ExecutionStatus) Validate() error {
	switch s {
	case StatusPreparing, StatusRunning, StatusCompleted, StatusFailed:
		return nil
	default:
		return fmt.Errorf("invalid execution status: %s", s)
	}
}

// rank orders statuses so that transitions only move forward.
func (s ExecutionStatus) rank() int {
	switch s {
	case StatusPreparing:
		return 0
	case StatusRunning:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// CanTransitionTo reports whether s may move to next.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	return next.rank() > s.rank() && s.rank() >= 0
}
