// Package ssh runs inspection scripts on remote hosts over SSH. Scripts are
// uploaded with SFTP, run with bash (optionally through sudo) and removed
// afterwards.
package ssh

import (
	"context"
	"fmt"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/rs/zerolog/log"
)

// Transport implements engine.Transport with one SSH connection per run.
type Transport struct {
	settings config.SSHConfig
}

// NewTransport creates an SSH transport.
func NewTransport(settings config.SSHConfig) *Transport {
	return &Transport{settings: settings}
}

// Run implements engine.Transport. Only shell scripts are supported;
// playbooks need the ansible transport.
func (t *Transport) Run(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResult, error) {
	if req.Type != engine.ScriptTypeShell {
		return nil, fmt.Errorf("ssh transport cannot run %s scripts", req.Type)
	}

	cfg := ConfigFor(t.settings, req.Target, req.Credential)
	client, err := Dial(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Debug().Err(err).Str("host", cfg.Host).Msg("Failed to close SSH connection")
		}
	}()

	res, err := client.RunScript(ctx, req.Body)
	if err != nil {
		return nil, err
	}

	return &engine.RemoteResult{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	}, nil
}
