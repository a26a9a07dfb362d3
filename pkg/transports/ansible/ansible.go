// Package ansible runs scripts and playbooks through the ansible CLI. Each
// run gets a throwaway single-host inventory.
package ansible

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/rs/zerolog"
)

// scriptHeader replaces the shebang and result-file preamble of uploaded
// scripts.
const scriptHeader = "#!/bin/bash\nset -e\n"

var checkResultField = regexp.MustCompile(`"check_result\.stdout":\s*"((?:[^"\\]|\\.)*)"`)

// Command is one CLI invocation.
type Command struct {
	Name string
	Args []string
}

// Runner executes a command and returns its output and exit code. A
// non-zero exit is not an error.
type Runner func(ctx context.Context, cmd Command) (stdout, stderr string, exitCode int, err error)

// Transport implements engine.Transport on top of the ansible CLI.
type Transport struct {
	settings config.AnsibleConfig
	run      Runner
	logger   zerolog.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(t *Transport) { t.run = r }
}

// NewTransport creates an ansible transport.
func NewTransport(settings config.AnsibleConfig, logger zerolog.Logger, opts ...Option) *Transport {
	if settings.Binary == "" {
		settings.Binary = "ansible"
	}
	if settings.PlaybookBinary == "" {
		settings.PlaybookBinary = "ansible-playbook"
	}

	t := &Transport{
		settings: settings,
		run:      execRunner,
		logger:   logger.With().Str("component", "ansible").Logger(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Run implements engine.Transport.
func (t *Transport) Run(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResult, error) {
	workDir, err := os.MkdirTemp("", "inspector-ansible-")
	if err != nil {
		return nil, fmt.Errorf("failed to create work dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	inventory := filepath.Join(workDir, "hosts")
	if err := os.WriteFile(inventory, []byte(Inventory(req.Target, req.Credential)), 0600); err != nil {
		return nil, fmt.Errorf("failed to write inventory: %w", err)
	}

	var cmd Command
	switch req.Type {
	case engine.ScriptTypeShell:
		script := filepath.Join(workDir, "script.sh")
		if err := os.WriteFile(script, []byte(PrepareScript(req.Body)), 0700); err != nil {
			return nil, fmt.Errorf("failed to write script: %w", err)
		}
		cmd = Command{
			Name: t.settings.Binary,
			Args: append([]string{"all", "-i", inventory, "-m", "script", "-a", script, "-o"}, t.settings.ExtraArgs...),
		}

	case engine.ScriptTypePlaybook:
		playbook := filepath.Join(workDir, "playbook.yml")
		if err := os.WriteFile(playbook, []byte(req.Body), 0600); err != nil {
			return nil, fmt.Errorf("failed to write playbook: %w", err)
		}
		cmd = Command{
			Name: t.settings.PlaybookBinary,
			Args: append([]string{"-i", inventory, playbook}, t.settings.ExtraArgs...),
		}

	default:
		return nil, fmt.Errorf("ansible transport cannot run %s scripts", req.Type)
	}

	t.logger.Debug().
		Str("host", req.Target.IP).
		Str("binary", cmd.Name).
		Str("type", string(req.Type)).
		Msg("Running ansible")

	stdout, stderr, code, err := t.run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s: %w", cmd.Name, err)
	}

	return &engine.RemoteResult{
		Stdout:   ExtractCheckResult(stdout),
		Stderr:   stderr,
		ExitCode: code,
	}, nil
}

// PrepareScript strips the script's own preamble and prepends a bash
// header that stops on the first error.
func PrepareScript(body string) string {
	return scriptHeader + sections.CleanScript(sections.NormalizeLineEndings(body))
}

// Inventory renders a one-host INI inventory. A password is used for both
// login and become; otherwise the credential's key file is used.
func Inventory(target engine.Target, cred engine.Credential) string {
	vars := []string{
		"ansible_user=" + iniQuote(target.Username),
		"ansible_become=yes",
		"ansible_become_method=sudo",
	}
	if cred.Password != "" {
		vars = append(vars,
			"ansible_password="+iniQuote(cred.Password),
			"ansible_become_password="+iniQuote(cred.Password),
		)
	}
	if cred.KeyPath != "" {
		vars = append(vars, "ansible_ssh_private_key_file="+iniQuote(cred.KeyPath))
	}
	vars = append(vars, "ansible_ssh_common_args='-o StrictHostKeyChecking=no'")

	return "[target]\n" + target.IP + " " + strings.Join(vars, " ") + "\n"
}

// ExtractCheckResult returns the unescaped "check_result.stdout" value from
// ansible output, or the output unchanged when the field is absent.
func ExtractCheckResult(output string) string {
	m := checkResultField.FindStringSubmatch(output)
	if m == nil {
		return output
	}
	if s, err := strconv.Unquote(`"` + m[1] + `"`); err == nil {
		return s
	}
	return m[1]
}

func iniQuote(v string) string {
	if v == "" || strings.ContainsAny(v, " \t'\"#;=") {
		return "'" + strings.ReplaceAll(v, "'", `'"'"'`) + "'"
	}
	return v
}

func execRunner(ctx context.Context, cmd Command) (string, string, int, error) {
	c := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	c.WaitDelay = 2 * time.Second
	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	err := c.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stdout.String(), stderr.String(), -1, ctxErr
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return stdout.String(), stderr.String(), 0, nil
	case errors.As(err, &exitErr):
		return stdout.String(), stderr.String(), exitErr.ExitCode(), nil
	default:
		return stdout.String(), stderr.String(), -1, err
	}
}
