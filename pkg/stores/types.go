package stores

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when a unique constraint is violated.
	ErrAlreadyExists = errors.New("already exists")
)

// ScriptType distinguishes shell scripts from playbooks.
type ScriptType string

const (
	ScriptTypeShell    ScriptType = "shell"
	ScriptTypePlaybook ScriptType = "playbook"
)

// Host is a registered inspection target.
type Host struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	IP        string    `json:"ip"`
	OS        string    `json:"os"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Script is a catalog entry. The content lives on disk at Path.
type Script struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Filename    string     `json:"filename"`
	Path        string     `json:"-"`
	Type        ScriptType `json:"type"`
	Tasks       int        `json:"tasks"`
	Sections    string     `json:"-"` // JSON array of sections
	CreatedAt   time.Time  `json:"created_at"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	LastStatus  *string    `json:"last_status,omitempty"`
}

// AuditEntry represents an audit trail entry
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "host.registered", "execution.completed"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // host/script/execution ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Host operations
	CreateHost(ctx context.Context, host *Host) error
	GetHost(ctx context.Context, id string) (*Host, error)
	ListHosts(ctx context.Context) ([]*Host, error)
	UpdateHost(ctx context.Context, host *Host) error
	DeleteHost(ctx context.Context, id string) error

	// Script operations
	CreateScript(ctx context.Context, script *Script) error
	GetScript(ctx context.Context, id string) (*Script, error)
	ListScripts(ctx context.Context) ([]*Script, error)
	UpdateScriptRun(ctx context.Context, id, status string, at time.Time) error
	DeleteScript(ctx context.Context, id string) error

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, limit, offset int) ([]*AuditEntry, error)
	PruneAuditEntries(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
