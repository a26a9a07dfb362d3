// Package transports selects how scripts reach hosts. Shell scripts go
// through the configured transport kind; playbooks always go through
// ansible-playbook.
package transports

import (
	"context"
	"fmt"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/transports/ansible"
	"github.com/openfroyo/inspector/pkg/transports/local"
	"github.com/openfroyo/inspector/pkg/transports/ssh"
	"github.com/rs/zerolog"
)

// Router dispatches a request to the transport registered for its script
// type.
type Router struct {
	routes map[engine.ScriptType]engine.Transport
}

// NewRouter creates a router from explicit routes.
func NewRouter(shell, playbook engine.Transport) *Router {
	return &Router{routes: map[engine.ScriptType]engine.Transport{
		engine.ScriptTypeShell:    shell,
		engine.ScriptTypePlaybook: playbook,
	}}
}

// New builds the router for the configured transport kind.
func New(cfg config.TransportConfig, logger zerolog.Logger) (*Router, error) {
	playbooks := ansible.NewTransport(cfg.Ansible, logger)

	switch cfg.Kind {
	case "", "ssh":
		return NewRouter(ssh.NewTransport(cfg.SSH), playbooks), nil
	case "ansible":
		return NewRouter(playbooks, playbooks), nil
	case "local":
		return NewRouter(local.NewTransport(cfg.Local), playbooks), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

// Run implements engine.Transport.
func (r *Router) Run(ctx context.Context, req engine.RemoteRequest) (*engine.RemoteResult, error) {
	t, ok := r.routes[req.Type]
	if !ok || t == nil {
		return nil, fmt.Errorf("no transport for %s scripts", req.Type)
	}
	return t.Run(ctx, req)
}
