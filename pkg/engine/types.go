package engine

import (
	"maps"
	"slices"
	"time"

	"github.com/openfroyo/inspector/pkg/sections"
)

// ScriptType is the kind of artifact an execution runs.
type ScriptType string

const (
	ScriptTypeShell    ScriptType = "shell"
	ScriptTypePlaybook ScriptType = "playbook"
)

// Supported reports whether the orchestrator can run t.
func (t ScriptType) Supported() bool {
	return t == ScriptTypeShell || t == ScriptTypePlaybook
}

// ScriptMeta is what the orchestrator needs to know about a catalog entry.
type ScriptMeta struct {
	ID       string     `json:"id"`
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Type     ScriptType `json:"type"`
}

// Target is a resolved host together with its login name.
type Target struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	IP       string `json:"ip"`
	Username string `json:"username"`
	OS       string `json:"os,omitempty"`
}

// Ref returns the identification kept on an execution record.
func (t Target) Ref() HostRef {
	return HostRef{ID: t.ID, Name: t.Name, IP: t.IP}
}

// HostRef identifies a host on an execution record.
type HostRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	IP   string `json:"ip"`
}

// Credential is supplied per execution and never stored.
type Credential struct {
	Password string `json:"-"`
	KeyPath  string `json:"-"`
}

// StartRequest asks the orchestrator to run a script on a set of hosts.
type StartRequest struct {
	ScriptID   string     `json:"script_id" validate:"required"`
	HostIDs    []string   `json:"host_ids" validate:"required,min=1,dive,required"`
	SectionIDs []string   `json:"section_ids,omitempty"`
	Credential Credential `json:"-"`
	Actor      string     `json:"-"`
}

// RemoteRequest is one transport invocation.
type RemoteRequest struct {
	Target     Target
	Credential Credential
	Body       string
	Type       ScriptType
	Timeout    time.Duration
}

// RemoteResult is the raw outcome of a transport invocation.
type RemoteResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Output joins stdout and stderr the way host results report them.
func (r *RemoteResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// TimeoutExitCode is reported for hosts that did not finish in time.
const TimeoutExitCode = 124

// HostResult is the outcome of running an execution on one host. It is
// written once.
type HostResult struct {
	HostID      string                 `json:"host_id"`
	Hostname    string                 `json:"hostname"`
	IP          string                 `json:"ip"`
	Success     bool                   `json:"success"`
	Output      string                 `json:"output"`
	ExitCode    int                    `json:"exit_code"`
	CompletedAt time.Time              `json:"completed_at"`
	Duration    float64                `json:"duration"` // seconds
	Checks      []sections.CheckResult `json:"checks"`
}

// ExecutionRecord is the live status of an execution.
type ExecutionRecord struct {
	ID             string                 `json:"id"`
	ScriptID       string                 `json:"script_id"`
	ScriptName     string                 `json:"script_name"`
	ScriptFilename string                 `json:"script_filename"`
	SectionIDs     []string               `json:"section_ids"`
	Hosts          []HostRef              `json:"hosts"`
	Status         ExecutionStatus        `json:"status"`
	StartedAt      time.Time              `json:"started_at"`
	EndedAt        *time.Time             `json:"ended_at,omitempty"`
	Results        map[string]*HostResult `json:"results"`
	TotalHosts     int                    `json:"total_hosts"`
	CompletedCount int                    `json:"completed_count"`
	FailedCount    int                    `json:"failed_count"`
	Error          string                 `json:"error,omitempty"`
}

// Clone returns a deep copy of the record.
func (r *ExecutionRecord) Clone() *ExecutionRecord {
	out := *r
	out.SectionIDs = slices.Clone(r.SectionIDs)
	out.Hosts = slices.Clone(r.Hosts)
	if r.EndedAt != nil {
		ended := *r.EndedAt
		out.EndedAt = &ended
	}
	out.Results = make(map[string]*HostResult, len(r.Results))
	for id, res := range maps.All(r.Results) {
		cp := *res
		cp.Checks = slices.Clone(res.Checks)
		out.Results[id] = &cp
	}
	return &out
}

// Pending returns the hosts that have no result yet.
func (r *ExecutionRecord) Pending() []HostRef {
	var out []HostRef
	for _, h := range r.Hosts {
		if _, ok := r.Results[h.ID]; !ok {
			out = append(out, h)
		}
	}
	return out
}
