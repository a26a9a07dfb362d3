package engine

import (
	"errors"
	"fmt"
	"testing"
)

func TestEngineError_Codes(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
	}{
		{"not found", NewNotFoundError("host", "h1"), ErrCodeNotFound},
		{"validation", NewValidationError("bad input"), ErrCodeValidation},
		{"conflict", NewConflictError("duplicate", nil), ErrCodeAlreadyExists},
		{"denied", NewPolicyDeniedError("s1", "rm -rf"), ErrCodePolicyDenied},
		{"wrapped", fmt.Errorf("lookup: %w", NewNotFoundError("script", "s1")), ErrCodeNotFound},
		{"plain", errors.New("disk full"), ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorCode(tt.err); got != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, got)
			}
		})
	}
}

func TestEngineError_Message(t *testing.T) {
	if got := NewNotFoundError("host", "h1").Error(); got != "host not found: h1" {
		t.Errorf("Unexpected message: %q", got)
	}

	cause := errors.New("UNIQUE constraint failed")
	conflict := NewConflictError("host already registered", cause).WithResource("10.0.0.1")
	if got := conflict.Error(); got != "host already registered: 10.0.0.1: UNIQUE constraint failed" {
		t.Errorf("Unexpected message: %q", got)
	}
	if !errors.Is(conflict, cause) {
		t.Error("Expected the cause to be unwrapped")
	}

	detailed := NewValidationError("unsupported file").WithDetail("filename", "a.exe")
	if got := detailed.Error(); got != "unsupported file filename=a.exe" {
		t.Errorf("Unexpected message: %q", got)
	}
}

func TestEngineError_Is(t *testing.T) {
	if !errors.Is(NewNotFoundError("a", "1"), &EngineError{Code: ErrCodeNotFound}) {
		t.Error("Expected errors with the same code to match")
	}
	if errors.Is(NewNotFoundError("a", "1"), &EngineError{Code: ErrCodeValidation}) {
		t.Error("Expected errors with different codes not to match")
	}
	if !IsDenied(NewPolicyDeniedError("s1", "reason")) {
		t.Error("Expected IsDenied to be true")
	}
}
