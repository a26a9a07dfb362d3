package ssh

import (
	"cmp"
	"errors"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultPort           = 22
	defaultConnectTimeout = 30 * time.Second
	defaultRemoteDir      = "/tmp"
)

// Config describes how to reach and log in to one host.
type Config struct {
	Host string
	Port int
	User string

	// Password authenticates the login and is fed to sudo.
	Password      string
	KeyPath       string
	KeyPassphrase string

	KnownHostsPath        string
	StrictHostKeyChecking bool
	ConnectTimeout        time.Duration

	// RemoteDir receives the script for the duration of a run.
	RemoteDir string
	UseSudo   bool
}

// ConfigFor builds the connection settings for a target. A password in
// the credential is used on its own; otherwise the credential's key, then
// the configured key, authenticates the login.
func ConfigFor(settings config.SSHConfig, target engine.Target, cred engine.Credential) *Config {
	cfg := &Config{
		Host:                  target.IP,
		Port:                  cmp.Or(settings.Port, defaultPort),
		User:                  target.Username,
		Password:              cred.Password,
		KnownHostsPath:        settings.KnownHostsPath,
		StrictHostKeyChecking: settings.StrictHostKeyChecking,
		ConnectTimeout:        cmp.Or(settings.ConnectionTimeout, defaultConnectTimeout),
		RemoteDir:             cmp.Or(settings.RemoteDir, defaultRemoteDir),
		UseSudo:               settings.UseSudo,
	}

	if cred.Password == "" {
		cfg.KeyPath = cmp.Or(cred.KeyPath, settings.PrivateKeyPath)
	} else {
		cfg.KeyPath = cred.KeyPath
	}

	if cfg.KnownHostsPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			cfg.KnownHostsPath = filepath.Join(home, ".ssh", "known_hosts")
		}
	}

	return cfg
}

// Validate reports every problem with the settings at once. With neither
// a password nor a key it falls back to the login user's default key.
func (c *Config) Validate() error {
	var problems []string

	if c.Host == "" {
		problems = append(problems, "host is required")
	}
	if c.User == "" {
		problems = append(problems, "user is required")
	}
	if c.Port < 1 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("invalid port %d", c.Port))
	}
	if c.ConnectTimeout <= 0 {
		problems = append(problems, "connect timeout must be positive")
	}
	if !path.IsAbs(c.RemoteDir) {
		problems = append(problems, fmt.Sprintf("remote directory %q must be absolute", c.RemoteDir))
	}

	if c.Password == "" && c.KeyPath == "" {
		c.KeyPath = defaultKey()
		if c.KeyPath == "" {
			problems = append(problems, "no password given and no private key found")
		}
	}
	if c.KeyPath != "" {
		if _, err := os.Stat(c.KeyPath); err != nil {
			problems = append(problems, fmt.Sprintf("private key %s is not readable", c.KeyPath))
		}
	}

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Address returns host:port, bracketing IPv6 literals.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

func (c *Config) clientConfig() (*ssh.ClientConfig, error) {
	auth, err := c.authMethods()
	if err != nil {
		return nil, err
	}

	hostKeys := ssh.InsecureIgnoreHostKey()
	if c.StrictHostKeyChecking {
		hostKeys, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            auth,
		HostKeyCallback: hostKeys,
		Timeout:         c.ConnectTimeout,
	}, nil
}

// authMethods offers the key first, then the password both as a plain
// password and as keyboard-interactive answers.
func (c *Config) authMethods() ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if c.KeyPath != "" {
		signer, err := loadSigner(c.KeyPath, c.KeyPassphrase)
		if err != nil {
			return nil, err
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if c.Password != "" {
		methods = append(methods,
			ssh.Password(c.Password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			}),
		)
	}

	if len(methods) == 0 {
		return nil, errors.New("no authentication method available")
	}
	return methods, nil
}

func loadSigner(keyPath, passphrase string) (ssh.Signer, error) {
	pemBytes, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pemBytes, []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pemBytes)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %s: %w", keyPath, err)
	}
	return signer, nil
}

// defaultKey returns the first of the usual key files in ~/.ssh.
func defaultKey() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	for _, name := range []string{"id_ed25519", "id_ecdsa", "id_rsa"} {
		p := filepath.Join(home, ".ssh", name)
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}
