// Package discovery registers the inspector API with Consul so other
// services can find it.
package discovery

import (
	"fmt"
	"net"
	"strconv"

	consul "github.com/hashicorp/consul/api"
	"github.com/openfroyo/inspector/pkg/config"
	"github.com/rs/zerolog"
)

// HealthPath is the endpoint Consul polls.
const HealthPath = "/api/health"

// Registrar registers and deregisters one service instance.
type Registrar struct {
	client  *consul.Client
	cfg     config.ConsulConfig
	address string
	port    int
	logger  zerolog.Logger
}

// NewRegistrar creates a registrar for an API listening on listenAddr.
func NewRegistrar(cfg config.ConsulConfig, listenAddr string, logger zerolog.Logger) (*Registrar, error) {
	host, portStr, err := net.SplitHostPort(listenAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen address %q: %w", listenAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid listen port %q: %w", portStr, err)
	}

	clientCfg := consul.DefaultConfig()
	if cfg.Address != "" {
		clientCfg.Address = cfg.Address
	}
	client, err := consul.NewClient(clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	address := cfg.AdvertiseHost
	if address == "" {
		address = host
	}
	if address == "" || address == "0.0.0.0" || address == "::" {
		address = localIP()
	}

	if cfg.ServiceID == "" {
		cfg.ServiceID = fmt.Sprintf("%s-%s-%d", cfg.ServiceName, address, port)
	}

	return &Registrar{
		client:  client,
		cfg:     cfg,
		address: address,
		port:    port,
		logger:  logger.With().Str("component", "discovery").Logger(),
	}, nil
}

// ServiceID returns the id the instance is registered under.
func (r *Registrar) ServiceID() string {
	return r.cfg.ServiceID
}

// Registration builds the agent registration with an HTTP health check.
func (r *Registrar) Registration() *consul.AgentServiceRegistration {
	return &consul.AgentServiceRegistration{
		ID:      r.cfg.ServiceID,
		Name:    r.cfg.ServiceName,
		Port:    r.port,
		Address: r.address,
		Tags:    r.cfg.Tags,
		Check: &consul.AgentServiceCheck{
			HTTP:                           fmt.Sprintf("http://%s%s", net.JoinHostPort(r.address, strconv.Itoa(r.port)), HealthPath),
			Interval:                       "10s",
			Timeout:                        "5s",
			DeregisterCriticalServiceAfter: "1m",
		},
	}
}

// Register adds the service to the local Consul agent.
func (r *Registrar) Register() error {
	if err := r.client.Agent().ServiceRegister(r.Registration()); err != nil {
		return fmt.Errorf("failed to register service: %w", err)
	}
	r.logger.Info().
		Str("service_id", r.cfg.ServiceID).
		Str("address", r.address).
		Int("port", r.port).
		Msg("Registered with consul")
	return nil
}

// Deregister removes the service. Errors are logged, not returned, since
// it runs during shutdown.
func (r *Registrar) Deregister() {
	if err := r.client.Agent().ServiceDeregister(r.cfg.ServiceID); err != nil {
		r.logger.Warn().Err(err).Str("service_id", r.cfg.ServiceID).Msg("Failed to deregister from consul")
		return
	}
	r.logger.Info().Str("service_id", r.cfg.ServiceID).Msg("Deregistered from consul")
}

func localIP() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return "127.0.0.1"
	}
	for _, addr := range addrs {
		if ipnet, ok := addr.(*net.IPNet); ok && !ipnet.IP.IsLoopback() && ipnet.IP.To4() != nil {
			return ipnet.IP.String()
		}
	}
	return "127.0.0.1"
}
