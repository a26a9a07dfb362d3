package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"golang.org/x/crypto/ssh"
)

func TestConfigFor(t *testing.T) {
	settings := config.SSHConfig{
		Port:              2222,
		PrivateKeyPath:    "/etc/inspector/id_ed25519",
		KnownHostsPath:    "/etc/inspector/known_hosts",
		ConnectionTimeout: 10 * time.Second,
		RemoteDir:         "/var/tmp",
		UseSudo:           true,
	}
	target := engine.Target{ID: "h1", IP: "10.0.0.7", Username: "ops"}

	tests := []struct {
		name     string
		cred     engine.Credential
		password string
		key      string
	}{
		{name: "password only", cred: engine.Credential{Password: "pw"}, password: "pw"},
		{name: "password and key", cred: engine.Credential{Password: "pw", KeyPath: "/home/ops/key"}, password: "pw", key: "/home/ops/key"},
		{name: "credential key", cred: engine.Credential{KeyPath: "/home/ops/key"}, key: "/home/ops/key"},
		{name: "configured key", key: "/etc/inspector/id_ed25519"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := ConfigFor(settings, target, tt.cred)

			if cfg.Address() != "10.0.0.7:2222" {
				t.Errorf("Expected address 10.0.0.7:2222, got %s", cfg.Address())
			}
			if cfg.User != "ops" || cfg.RemoteDir != "/var/tmp" || !cfg.UseSudo {
				t.Errorf("Expected settings to be applied, got %+v", cfg)
			}
			if cfg.Password != tt.password {
				t.Errorf("Expected password %q, got %q", tt.password, cfg.Password)
			}
			if cfg.KeyPath != tt.key {
				t.Errorf("Expected key %q, got %q", tt.key, cfg.KeyPath)
			}
		})
	}
}

func TestConfigFor_Defaults(t *testing.T) {
	t.Setenv("HOME", "/home/inspector")

	cfg := ConfigFor(config.SSHConfig{}, engine.Target{IP: "fe80::1", Username: "root"}, engine.Credential{})

	if cfg.Address() != "[fe80::1]:22" {
		t.Errorf("Expected address [fe80::1]:22, got %s", cfg.Address())
	}
	if cfg.ConnectTimeout != defaultConnectTimeout {
		t.Errorf("Expected timeout %v, got %v", defaultConnectTimeout, cfg.ConnectTimeout)
	}
	if cfg.RemoteDir != "/tmp" {
		t.Errorf("Expected remote dir /tmp, got %s", cfg.RemoteDir)
	}
	if cfg.KnownHostsPath != "/home/inspector/.ssh/known_hosts" {
		t.Errorf("Unexpected known_hosts path: %s", cfg.KnownHostsPath)
	}
}

func TestConfigValidate(t *testing.T) {
	keyPath := writeTestKey(t)

	valid := func() *Config {
		return &Config{
			Host:           "example.com",
			Port:           22,
			User:           "ops",
			Password:       "pw",
			ConnectTimeout: time.Second,
			RemoteDir:      "/tmp",
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "password", mutate: func(c *Config) {}},
		{name: "key", mutate: func(c *Config) { c.Password, c.KeyPath = "", keyPath }},
		{name: "missing host", mutate: func(c *Config) { c.Host = "" }, wantErr: "host is required"},
		{name: "missing user", mutate: func(c *Config) { c.User = "" }, wantErr: "user is required"},
		{name: "bad port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: "invalid port 70000"},
		{name: "zero timeout", mutate: func(c *Config) { c.ConnectTimeout = 0 }, wantErr: "connect timeout"},
		{name: "relative remote dir", mutate: func(c *Config) { c.RemoteDir = "tmp" }, wantErr: "must be absolute"},
		{name: "missing key file", mutate: func(c *Config) { c.KeyPath = filepath.Join(t.TempDir(), "nope") }, wantErr: "not readable"},
		{name: "no credentials", mutate: func(c *Config) { c.Password = "" }, wantErr: "no private key found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HOME", t.TempDir())

			cfg := valid()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfigValidate_DefaultKey(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	sshDir := filepath.Join(home, ".ssh")
	if err := os.MkdirAll(sshDir, 0o700); err != nil {
		t.Fatalf("failed to create .ssh: %v", err)
	}
	if err := os.WriteFile(filepath.Join(sshDir, "id_rsa"), []byte("key"), 0o600); err != nil {
		t.Fatalf("failed to write key: %v", err)
	}

	cfg := &Config{Host: "h", Port: 22, User: "u", ConnectTimeout: time.Second, RemoteDir: "/tmp"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("failed to validate: %v", err)
	}
	if cfg.KeyPath != filepath.Join(sshDir, "id_rsa") {
		t.Errorf("Expected the default key to be picked, got %q", cfg.KeyPath)
	}
}

func TestClientConfig(t *testing.T) {
	keyPath := writeTestKey(t)

	tests := []struct {
		name      string
		cfg       Config
		wantAuth  int
		wantError bool
	}{
		{name: "password", cfg: Config{Password: "pw"}, wantAuth: 2},
		{name: "key", cfg: Config{KeyPath: keyPath}, wantAuth: 1},
		{name: "key and password", cfg: Config{KeyPath: keyPath, Password: "pw"}, wantAuth: 3},
		{name: "unreadable key", cfg: Config{KeyPath: filepath.Join(t.TempDir(), "missing")}, wantError: true},
		{name: "nothing", cfg: Config{}, wantError: true},
		{
			name:      "strict without known_hosts",
			cfg:       Config{Password: "pw", StrictHostKeyChecking: true, KnownHostsPath: filepath.Join(t.TempDir(), "known_hosts")},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.cfg.User = "ops"
			tt.cfg.ConnectTimeout = 3 * time.Second

			clientConfig, err := tt.cfg.clientConfig()
			if tt.wantError {
				if err == nil {
					t.Error("Expected an error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to build client config: %v", err)
			}
			if len(clientConfig.Auth) != tt.wantAuth {
				t.Errorf("Expected %d auth methods, got %d", tt.wantAuth, len(clientConfig.Auth))
			}
			if clientConfig.User != "ops" || clientConfig.Timeout != 3*time.Second {
				t.Errorf("Unexpected client config: %+v", clientConfig)
			}
		})
	}
}

// writeTestKey writes a fresh ED25519 private key and returns its path.
func writeTestKey(t *testing.T) string {
	t.Helper()

	_, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("failed to generate test key: %v", err)
	}

	block, err := ssh.MarshalPrivateKey(privKey, "")
	if err != nil {
		t.Fatalf("failed to marshal key: %v", err)
	}

	keyPath := filepath.Join(t.TempDir(), "test_key")
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(block), 0o600); err != nil {
		t.Fatalf("failed to write test key: %v", err)
	}
	return keyPath
}
