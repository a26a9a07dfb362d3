package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file settings.
const (
	EnvListenAddress = "INSPECTOR_LISTEN"
	EnvDatabasePath  = "INSPECTOR_DB_PATH"
	EnvScriptsDir    = "INSPECTOR_SCRIPTS_DIR"
	EnvTransport     = "INSPECTOR_TRANSPORT"
	EnvLogLevel      = "INSPECTOR_LOG_LEVEL"
	EnvConsulAddress = "CONSUL_HTTP_ADDR"

	// EnvEnvironment selects the telemetry defaults (production,
	// development) before the file is read.
	EnvEnvironment = "INSPECTOR_ENV"
)

// Load reads a YAML configuration file over the defaults, applies
// environment overrides and validates the result. An empty path loads the
// defaults only.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if env := os.Getenv(EnvEnvironment); env != "" {
		cfg.Telemetry = *telemetry.EnvironmentConfig(env)
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := Parse(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	ApplyEnv(cfg, os.LookupEnv)

	if err := cfg.Validate(context.Background()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML into cfg, keeping values the document does not set.
// Unknown keys are rejected.
func Parse(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// ApplyEnv applies environment overrides using lookup.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvListenAddress); ok && v != "" {
		cfg.Server.Address = v
	}
	if v, ok := lookup(EnvDatabasePath); ok && v != "" {
		cfg.Database.Path = v
	}
	if v, ok := lookup(EnvScriptsDir); ok && v != "" {
		cfg.Scripts.Dir = v
	}
	if v, ok := lookup(EnvTransport); ok && v != "" {
		cfg.Transport.Kind = v
	}
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		cfg.Telemetry.Logging.Level = v
	}
	if v, ok := lookup(EnvConsulAddress); ok && v != "" {
		cfg.Consul.Address = v
	}
}

// Validate checks struct constraints, the service CUE schema, the
// telemetry settings and the section convention.
func (c *Config) Validate(ctx context.Context) error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", formatValidationErrors(err))
	}

	if err := defaultRegistry().ValidateAgainstSchema(ctx, SchemaService, c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	if err := c.Sections.Validate(); err != nil {
		return fmt.Errorf("invalid sections configuration: %w", err)
	}

	return nil
}

func formatValidationErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s=%s", fe.Namespace(), fe.Tag(), fe.Param()))
		} else {
			msgs = append(msgs, fmt.Sprintf("%s: failed %s", fe.Namespace(), fe.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
