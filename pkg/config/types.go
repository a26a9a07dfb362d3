package config

import (
	"time"

	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/telemetry"
)

// Config is the configuration of the inspection service and CLI.
type Config struct {
	Server      ServerConfig        `yaml:"server" json:"server"`
	Database    DatabaseConfig      `yaml:"database" json:"database"`
	Scripts     ScriptsConfig       `yaml:"scripts" json:"scripts"`
	Sections    sections.Convention `yaml:"sections" json:"sections"`
	Execution   ExecutionConfig     `yaml:"execution" json:"execution"`
	Transport   TransportConfig     `yaml:"transport" json:"transport"`
	Rules       RulesConfig         `yaml:"rules" json:"rules"`
	Enforcement EnforcementConfig   `yaml:"enforcement" json:"enforcement"`
	Audit       AuditConfig         `yaml:"audit" json:"audit"`
	Consul      ConsulConfig        `yaml:"consul" json:"consul"`
	Telemetry   telemetry.Config    `yaml:"telemetry" json:"telemetry"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `yaml:"address" json:"address" validate:"required,hostname_port"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout" validate:"gt=0"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes" json:"max_upload_bytes" validate:"gt=0"`
}

// DatabaseConfig configures the SQLite store for hosts, scripts and audit
// entries.
type DatabaseConfig struct {
	Path            string        `yaml:"path" json:"path" validate:"required"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns" validate:"gte=0"`
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime" validate:"gte=0"`
}

// ScriptsConfig configures the script catalog directory.
type ScriptsConfig struct {
	Dir string `yaml:"dir" json:"dir" validate:"required"`

	// ScanOnStart imports script files found in Dir that are not yet in
	// the catalog.
	ScanOnStart bool `yaml:"scan_on_start" json:"scan_on_start"`
}

// ExecutionConfig configures the orchestrator.
type ExecutionConfig struct {
	HostTimeout time.Duration `yaml:"host_timeout" json:"host_timeout" validate:"gt=0"`

	// VerdictScript is an optional Starlark file deciding host success.
	VerdictScript  string        `yaml:"verdict_script" json:"verdict_script"`
	VerdictTimeout time.Duration `yaml:"verdict_timeout" json:"verdict_timeout" validate:"gte=0"`
}

// TransportConfig selects and configures how scripts reach hosts.
type TransportConfig struct {
	Kind    string          `yaml:"kind" json:"kind" validate:"required,oneof=ssh ansible local"`
	SSH     SSHConfig       `yaml:"ssh" json:"ssh"`
	Ansible AnsibleConfig   `yaml:"ansible" json:"ansible"`
	Local   LocalExecConfig `yaml:"local" json:"local"`
}

// SSHConfig configures the native SSH transport.
type SSHConfig struct {
	Port                  int           `yaml:"port" json:"port" validate:"gte=1,lte=65535"`
	PrivateKeyPath        string        `yaml:"private_key_path" json:"private_key_path"`
	KnownHostsPath        string        `yaml:"known_hosts_path" json:"known_hosts_path"`
	StrictHostKeyChecking bool          `yaml:"strict_host_key_checking" json:"strict_host_key_checking"`
	ConnectionTimeout     time.Duration `yaml:"connection_timeout" json:"connection_timeout" validate:"gt=0"`
	RemoteDir             string        `yaml:"remote_dir" json:"remote_dir" validate:"required"`
	UseSudo               bool          `yaml:"use_sudo" json:"use_sudo"`
}

// AnsibleConfig configures the ansible CLI transport.
type AnsibleConfig struct {
	Binary         string   `yaml:"binary" json:"binary" validate:"required"`
	PlaybookBinary string   `yaml:"playbook_binary" json:"playbook_binary" validate:"required"`
	ExtraArgs      []string `yaml:"extra_args" json:"extra_args"`
}

// LocalExecConfig configures the local transport used for development.
type LocalExecConfig struct {
	Shell string `yaml:"shell" json:"shell" validate:"required"`
}

// RulesConfig configures the playbook security rule files.
type RulesConfig struct {
	Paths []string `yaml:"paths" json:"paths"`
	Watch bool     `yaml:"watch" json:"watch"`
}

// EnforcementConfig configures the policy gate that can block risky
// playbooks before they run.
type EnforcementConfig struct {
	Enabled     bool     `yaml:"enabled" json:"enabled"`
	PolicyPaths []string `yaml:"policy_paths" json:"policy_paths"`
}

// AuditConfig configures the short-lived audit trail.
type AuditConfig struct {
	Retention     time.Duration `yaml:"retention" json:"retention" validate:"gt=0"`
	PruneInterval time.Duration `yaml:"prune_interval" json:"prune_interval" validate:"gt=0"`
}

// ConsulConfig configures service registration.
type ConsulConfig struct {
	Enabled       bool     `yaml:"enabled" json:"enabled"`
	Address       string   `yaml:"address" json:"address"`
	ServiceName   string   `yaml:"service_name" json:"service_name"`
	ServiceID     string   `yaml:"service_id" json:"service_id"`
	AdvertiseHost string   `yaml:"advertise_host" json:"advertise_host"`
	Tags          []string `yaml:"tags" json:"tags"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Address:         "0.0.0.0:8000",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
		},
		Database: DatabaseConfig{
			Path:            "inspector.db",
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: time.Hour,
		},
		Scripts: ScriptsConfig{
			Dir:         "scripts",
			ScanOnStart: true,
		},
		Sections: sections.DefaultConvention(),
		Execution: ExecutionConfig{
			HostTimeout:    5 * time.Minute,
			VerdictTimeout: 5 * time.Second,
		},
		Transport: TransportConfig{
			Kind: "ssh",
			SSH: SSHConfig{
				Port:              22,
				ConnectionTimeout: 30 * time.Second,
				RemoteDir:         "/tmp",
				UseSudo:           true,
			},
			Ansible: AnsibleConfig{
				Binary:         "ansible",
				PlaybookBinary: "ansible-playbook",
			},
			Local: LocalExecConfig{
				Shell: "/bin/bash",
			},
		},
		Audit: AuditConfig{
			Retention:     7 * 24 * time.Hour,
			PruneInterval: time.Hour,
		},
		Consul: ConsulConfig{
			ServiceName: "inspector",
			Tags:        []string{"inspector", "http"},
		},
		Telemetry: *telemetry.DefaultConfig(),
	}
}
