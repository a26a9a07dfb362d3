package engine

import (
	"context"

	"github.com/openfroyo/inspector/pkg/sections"
)

// Transport runs a script body on one remote host. Run must honor ctx,
// although the orchestrator does not rely on it to enforce the host
// timeout.
type Transport interface {
	Run(ctx context.Context, req RemoteRequest) (*RemoteResult, error)
}

// ScriptSource resolves catalog entries.
type ScriptSource interface {
	// Lookup returns the metadata of a script or a NOT_FOUND error.
	Lookup(ctx context.Context, id string) (*ScriptMeta, error)

	// Content returns the stored script text.
	Content(ctx context.Context, id string) (string, error)
}

// HostSource resolves registered hosts.
type HostSource interface {
	// Target returns a host or a NOT_FOUND error.
	Target(ctx context.Context, id string) (*Target, error)
}

// Enforcer decides whether an execution may be dispatched.
type Enforcer interface {
	Check(ctx context.Context, script ScriptMeta, body string, hosts []HostRef) (allowed bool, reason string, err error)
}

// Verdict decides whether a host run succeeded.
type Verdict interface {
	Success(ctx context.Context, result *RemoteResult, checks []sections.CheckResult) (bool, error)
}

// ExitCodeVerdict treats exit code zero as success.
type ExitCodeVerdict struct{}

// Success implements Verdict.
func (ExitCodeVerdict) Success(_ context.Context, result *RemoteResult, _ []sections.CheckResult) (bool, error) {
	return result.ExitCode == 0, nil
}
