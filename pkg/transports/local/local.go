// Package local runs shell scripts on the machine hosting the service.
// It backs the "local" transport kind used in development and tests.
package local

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
)

// waitDelay bounds how long Run waits for orphaned children holding the
// output pipes after the shell is killed.
const waitDelay = 2 * time.Second

// Transport implements engine.Transport by piping the script into a local
// shell. The target is exposed through HOST_ID, HOSTNAME, HOST_IP and
// USERNAME.
type Transport struct {
	shell string
}

// NewTransport creates a local transport.
func NewTransport(settings config.LocalExecConfig) *Transport {
	shell := settings.Shell
	if shell == "" {
		shell = "/bin/bash"
	}
	return &Transport{shell: shell}
}

// Run implements engine.Transport.
func (t *Transport) Run(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResult, error) {
	if req.Type != engine.ScriptTypeShell {
		return nil, fmt.Errorf("local transport cannot run %s scripts", req.Type)
	}

	cmd := exec.CommandContext(ctx, t.shell, "-s")
	cmd.Stdin = strings.NewReader(req.Body)
	cmd.WaitDelay = waitDelay
	cmd.Env = append(os.Environ(),
		"HOST_ID="+req.Target.ID,
		"HOSTNAME="+req.Target.Name,
		"HOST_IP="+req.Target.IP,
		"USERNAME="+req.Target.Username,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}

	res := &engine.RemoteResult{Stdout: stdout.String(), Stderr: stderr.String()}
	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
	default:
		return nil, fmt.Errorf("failed to start %s: %w", t.shell, err)
	}
	return res, nil
}
