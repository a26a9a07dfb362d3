package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/openfroyo/inspector/pkg/telemetry"
)

func newTestRegistry(t *testing.T) (*HostRegistry, *[]telemetry.Event) {
	t.Helper()

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}
	var received []telemetry.Event
	events.Subscribe(func(e telemetry.Event) { received = append(received, e) }, nil)

	return NewHostRegistry(setupTestStore(t), events, nil), &received
}

func TestHostRegistry_Register(t *testing.T) {
	registry, events := newTestRegistry(t)
	ctx := context.Background()

	host, err := registry.Register(ctx, HostInput{Name: " web-1 ", Username: "root", IP: "10.0.0.1"}, "tester")
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}
	if host.ID == "" || host.Name != "web-1" || !host.Active {
		t.Errorf("Unexpected host: %+v", host)
	}

	if _, err := registry.Register(ctx, HostInput{Name: "web-2", Username: "root", IP: "10.0.0.1"}, "tester"); !IsConflict(err) {
		t.Errorf("Expected a conflict for a duplicate ip, got %v", err)
	}
	if _, err := registry.Register(ctx, HostInput{Name: "web-3", IP: "10.0.0.3"}, "tester"); !IsValidation(err) {
		t.Errorf("Expected a validation error without username, got %v", err)
	}

	if len(*events) != 1 || (*events)[0].Type != telemetry.EventTypeHostRegistered {
		t.Errorf("Expected one host.registered event, got %+v", *events)
	}
	if (*events)[0].Actor != "tester" {
		t.Errorf("Expected actor tester, got %s", (*events)[0].Actor)
	}
}

func TestHostRegistry_GetAndDelete(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	host, err := registry.Register(ctx, HostInput{Name: "db", Username: "admin", IP: "10.0.0.9"}, "")
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}

	target, err := registry.Target(ctx, host.ID)
	if err != nil {
		t.Fatalf("failed to resolve target: %v", err)
	}
	if target.Username != "admin" || target.IP != "10.0.0.9" {
		t.Errorf("Unexpected target: %+v", target)
	}

	if err := registry.Delete(ctx, host.ID, ""); err != nil {
		t.Fatalf("failed to delete host: %v", err)
	}
	if _, err := registry.Get(ctx, host.ID); !IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND after delete, got %v", err)
	}
	if err := registry.Delete(ctx, host.ID, ""); !IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND on second delete, got %v", err)
	}
}

func TestHostRegistry_SetActive(t *testing.T) {
	registry, _ := newTestRegistry(t)
	ctx := context.Background()

	host, _ := registry.Register(ctx, HostInput{Name: "a", Username: "root", IP: "10.0.0.2"}, "")
	updated, err := registry.SetActive(ctx, host.ID, false)
	if err != nil {
		t.Fatalf("failed to deactivate host: %v", err)
	}
	if updated.Active {
		t.Error("Expected host to be inactive")
	}

	if _, err := registry.SetActive(ctx, "missing", true); !IsNotFound(err) {
		t.Errorf("Expected NOT_FOUND, got %v", err)
	}
}

func TestHostRegistry_DetectOS(t *testing.T) {
	tests := []struct {
		name     string
		handler  func(context.Context, RemoteRequest) (*RemoteResult, error)
		expected string
	}{
		{
			name: "os-release",
			handler: func(context.Context, RemoteRequest) (*RemoteResult, error) {
				return &RemoteResult{Stdout: "NAME=\"Ubuntu\"\nVERSION_ID=\"22.04\"\n"}, nil
			},
			expected: "Ubuntu 22.04",
		},
		{
			name: "transport error",
			handler: func(context.Context, RemoteRequest) (*RemoteResult, error) {
				return nil, errors.New("auth failed")
			},
			expected: UnknownOS,
		},
		{
			name: "non-zero exit",
			handler: func(context.Context, RemoteRequest) (*RemoteResult, error) {
				return &RemoteResult{ExitCode: 1}, nil
			},
			expected: UnknownOS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry, _ := newTestRegistry(t)
			ctx := context.Background()

			host, _ := registry.Register(ctx, HostInput{Name: "a", Username: "root", IP: "10.0.0.5"}, "")
			transport := &mockTransport{handler: tt.handler}

			updated, err := registry.DetectOS(ctx, host.ID, transport, Credential{}, time.Second)
			if err != nil {
				t.Fatalf("failed to detect os: %v", err)
			}
			if updated.OS != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, updated.OS)
			}
			if bodies := transport.bodies(); len(bodies) != 1 || bodies[0] != OSProbe {
				t.Errorf("Expected the probe to be sent, got %v", bodies)
			}
		})
	}
}

func TestParseOSRelease(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "name and version", input: "NAME=\"Rocky Linux\"\nVERSION_ID=\"9.3\"\nID=rocky\n", expected: "Rocky Linux 9.3"},
		{name: "name only", input: "NAME=Arch Linux\n", expected: "Arch Linux"},
		{name: "pretty name", input: "PRETTY_NAME='Debian GNU/Linux 12'\n", expected: "Debian GNU/Linux 12"},
		{name: "uname", input: "Linux 6.1.0-18-amd64\n", expected: "Linux 6.1.0-18-amd64"},
		{name: "unrelated keys", input: "ID=foo\n", expected: ""},
		{name: "empty", input: "\n\n", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseOSRelease(tt.input); got != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, got)
			}
		})
	}
}
