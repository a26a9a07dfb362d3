package transports

import (
	"context"
	"testing"

	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/rs/zerolog"
)

type namedTransport string

func (n namedTransport) Run(context.Context, engine.RemoteRequest) (*engine.RemoteResult, error) {
	return &engine.RemoteResult{Stdout: string(n)}, nil
}

func TestRouter_Run(t *testing.T) {
	router := NewRouter(namedTransport("shell"), namedTransport("playbook"))

	tests := []struct {
		typ      engine.ScriptType
		expected string
		wantErr  bool
	}{
		{typ: engine.ScriptTypeShell, expected: "shell"},
		{typ: engine.ScriptTypePlaybook, expected: "playbook"},
		{typ: "binary", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.typ), func(t *testing.T) {
			res, err := router.Run(context.Background(), engine.RemoteRequest{Type: tt.typ})
			if tt.wantErr {
				if err == nil {
					t.Error("Expected an error")
				}
				return
			}
			if err != nil {
				t.Fatalf("failed to run: %v", err)
			}
			if res.Stdout != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, res.Stdout)
			}
		})
	}
}

func TestNew(t *testing.T) {
	for _, kind := range []string{"", "ssh", "ansible", "local"} {
		if _, err := New(config.TransportConfig{Kind: kind}, zerolog.Nop()); err != nil {
			t.Errorf("Expected kind %q to be accepted, got %v", kind, err)
		}
	}

	if _, err := New(config.TransportConfig{Kind: "winrm"}, zerolog.Nop()); err == nil {
		t.Error("Expected an unknown kind to be rejected")
	}
}
