package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
)

// UnknownOS is recorded when detection fails.
const UnknownOS = "Unknown"

// OSProbe is the script run on a host to detect its operating system.
const OSProbe = "cat /etc/os-release 2>/dev/null || uname -sr"

// HostInput describes a host to register.
type HostInput struct {
	Name     string `json:"name" validate:"required,max=255"`
	Username string `json:"username" validate:"required,max=64"`
	IP       string `json:"ip" validate:"required,ip|hostname"`
	OS       string `json:"os,omitempty"`
}

// HostRegistry manages the host inventory.
type HostRegistry struct {
	store   stores.Store
	events  *telemetry.EventPublisher
	metrics *telemetry.Metrics
}

// NewHostRegistry creates a new host registry. events and metrics may be
// nil.
func NewHostRegistry(store stores.Store, events *telemetry.EventPublisher, metrics *telemetry.Metrics) *HostRegistry {
	return &HostRegistry{
		store:   store,
		events:  events,
		metrics: metrics,
	}
}

// Register adds a new host. The IP address must not be registered yet.
func (r *HostRegistry) Register(ctx context.Context, in HostInput, actor string) (*stores.Host, error) {
	if strings.TrimSpace(in.Name) == "" || strings.TrimSpace(in.Username) == "" || strings.TrimSpace(in.IP) == "" {
		return nil, NewValidationError("name, username and ip are required")
	}

	now := time.Now()
	host := &stores.Host{
		ID:        uuid.New().String(),
		Name:      strings.TrimSpace(in.Name),
		Username:  strings.TrimSpace(in.Username),
		IP:        strings.TrimSpace(in.IP),
		OS:        in.OS,
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := r.store.CreateHost(ctx, host); err != nil {
		if errors.Is(err, stores.ErrAlreadyExists) {
			return nil, NewConflictError("host already registered", err).WithResource(host.IP)
		}
		return nil, fmt.Errorf("failed to register host: %w", err)
	}

	_ = r.events.PublishResourceChange(telemetry.EventTypeHostRegistered, telemetry.ResourceHost, host.ID, actor,
		map[string]interface{}{"name": host.Name, "ip": host.IP})
	r.refreshGauge(ctx)

	return host, nil
}

// Get retrieves a host by ID.
func (r *HostRegistry) Get(ctx context.Context, id string) (*stores.Host, error) {
	host, err := r.store.GetHost(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return nil, NewNotFoundError("host", id)
	}
	return host, err
}

// List lists all registered hosts.
func (r *HostRegistry) List(ctx context.Context) ([]*stores.Host, error) {
	return r.store.ListHosts(ctx)
}

// Delete removes a host from the registry.
func (r *HostRegistry) Delete(ctx context.Context, id, actor string) error {
	err := r.store.DeleteHost(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return NewNotFoundError("host", id)
	}
	if err != nil {
		return err
	}

	_ = r.events.PublishResourceChange(telemetry.EventTypeHostDeleted, telemetry.ResourceHost, id, actor, nil)
	r.refreshGauge(ctx)
	return nil
}

// SetActive enables or disables a host.
func (r *HostRegistry) SetActive(ctx context.Context, id string, active bool) (*stores.Host, error) {
	return r.modify(ctx, id, func(h *stores.Host) { h.Active = active })
}

// SetOS records the detected operating system of a host.
func (r *HostRegistry) SetOS(ctx context.Context, id, os string) (*stores.Host, error) {
	return r.modify(ctx, id, func(h *stores.Host) { h.OS = os })
}

// Target implements HostSource.
func (r *HostRegistry) Target(ctx context.Context, id string) (*Target, error) {
	host, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Target{
		ID:       host.ID,
		Name:     host.Name,
		IP:       host.IP,
		Username: host.Username,
		OS:       host.OS,
	}, nil
}

// DetectOS runs OSProbe on the host through transport and stores the
// result. Unknown is stored when the probe fails.
func (r *HostRegistry) DetectOS(ctx context.Context, id string, transport Transport, cred Credential, timeout time.Duration) (*stores.Host, error) {
	target, err := r.Target(ctx, id)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	os := UnknownOS
	res, err := transport.Run(ctx, RemoteRequest{
		Target:     *target,
		Credential: cred,
		Body:       OSProbe,
		Type:       ScriptTypeShell,
		Timeout:    timeout,
	})
	if err == nil && res.ExitCode == 0 {
		if detected := ParseOSRelease(res.Stdout); detected != "" {
			os = detected
		}
	}

	return r.SetOS(context.WithoutCancel(ctx), id, os)
}

// ParseOSRelease extracts "NAME VERSION_ID" from os-release content. Any
// other non-empty output (such as uname) is returned as its first line.
func ParseOSRelease(output string) string {
	fields := make(map[string]string)
	var first string

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}

	if name := fields["NAME"]; name != "" {
		return strings.TrimSpace(name + " " + fields["VERSION_ID"])
	}
	if pretty := fields["PRETTY_NAME"]; pretty != "" {
		return pretty
	}
	if len(fields) > 0 {
		return ""
	}
	return first
}

func (r *HostRegistry) modify(ctx context.Context, id string, fn func(h *stores.Host)) (*stores.Host, error) {
	host, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fn(host)
	host.UpdatedAt = time.Now()

	if err := r.store.UpdateHost(ctx, host); err != nil {
		if errors.Is(err, stores.ErrNotFound) {
			return nil, NewNotFoundError("host", id)
		}
		return nil, err
	}
	return host, nil
}

func (r *HostRegistry) refreshGauge(ctx context.Context) {
	if r.metrics == nil {
		return
	}
	if hosts, err := r.store.ListHosts(ctx); err == nil {
		r.metrics.SetRegisteredHosts(len(hosts))
	}
}
