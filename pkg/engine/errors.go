package engine

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Error codes carried by EngineError. The API maps them onto HTTP statuses.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeAlreadyExists = "ALREADY_EXISTS"
	ErrCodePolicyDenied  = "POLICY_DENIED"
	ErrCodeInternal      = "INTERNAL_ERROR"
)

// EngineError is an error about a host, script or execution that callers
// can act on by code.
// nolint:revive // the package name alone would read as a generic error
type EngineError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Resource string `json:"resource,omitempty"`

	// Details holds request values that explain the failure, such as the
	// rejected filename.
	Details map[string]interface{} `json:"details,omitempty"`

	Err error `json:"-"`
}

func (e *EngineError) Error() string {
	var b strings.Builder
	b.WriteString(e.Message)
	if e.Resource != "" {
		b.WriteString(": ")
		b.WriteString(e.Resource)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Details[k])
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is matches any EngineError with the same code, so errors.Is can test
// against a bare &EngineError{Code: ErrCodeNotFound}.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	return ok && e.Code == t.Code
}

// NewNotFoundError reports a missing host, script or execution.
func NewNotFoundError(kind, id string) *EngineError {
	return &EngineError{Code: ErrCodeNotFound, Message: kind + " not found", Resource: id}
}

// NewValidationError reports a malformed request.
func NewValidationError(message string) *EngineError {
	return &EngineError{Code: ErrCodeValidation, Message: message}
}

// NewConflictError reports a duplicate, such as a second host with the same
// address.
func NewConflictError(message string, err error) *EngineError {
	return &EngineError{Code: ErrCodeAlreadyExists, Message: message, Err: err}
}

// NewPolicyDeniedError reports a script blocked by the policy gate.
func NewPolicyDeniedError(scriptID, reason string) *EngineError {
	e := &EngineError{Code: ErrCodePolicyDenied, Message: "blocked by policy", Resource: scriptID}
	return e.WithDetail("reason", reason)
}

func (e *EngineError) WithResource(id string) *EngineError {
	e.Resource = id
	return e
}

func (e *EngineError) WithDetail(key string, value interface{}) *EngineError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ErrorCode returns the code of the first EngineError in err's chain, or
// ErrCodeInternal for anything else.
func ErrorCode(err error) string {
	var e *EngineError
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return ErrCodeInternal
}

func IsNotFound(err error) bool   { return ErrorCode(err) == ErrCodeNotFound }
func IsValidation(err error) bool { return ErrorCode(err) == ErrCodeValidation }
func IsConflict(err error) bool   { return ErrorCode(err) == ErrCodeAlreadyExists }
func IsDenied(err error) bool     { return ErrorCode(err) == ErrCodePolicyDenied }
