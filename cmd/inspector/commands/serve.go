package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/openfroyo/inspector/pkg/api"
	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/discovery"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/playbook"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/openfroyo/inspector/pkg/transports"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const detectTimeout = 30 * time.Second

func newServeCommand(version string) *cobra.Command {
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the inspection API server",
		Long: `Start the HTTP API that manages hosts and scripts, runs executions
and serves reports. Executions still running at shutdown are waited for
until the shutdown timeout expires.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if address != "" {
				cfg.Server.Address = address
			}
			if cfg.Telemetry.ServiceVersion == "" {
				cfg.Telemetry.ServiceVersion = version
			}
			return runServer(cmd.Context(), cfg, version)
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "listen address (overrides config)")
	return cmd
}

func runServer(ctx context.Context, cfg *config.Config, version string) error {
	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	// main's LOG_LEVEL default would otherwise cap the configured level.
	zerolog.SetGlobalLevel(telemetry.ParseLevel(cfg.Telemetry.Logging.Level))
	log.Logger = tel.Logger.Zerolog()
	logger := tel.Logger.Component("server")

	store, err := stores.NewSQLiteStore(stores.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}

	parser, err := sections.NewParser(cfg.Sections)
	if err != nil {
		return err
	}

	validator, err := setupValidator(ctx, cfg.Rules, tel.Logger.Component("rules"))
	if err != nil {
		return err
	}

	hosts := engine.NewHostRegistry(store, tel.Events, tel.Metrics)

	catalog, err := engine.NewScriptCatalog(store, cfg.Scripts.Dir, parser, tel.Events, tel.Metrics, tel.Logger.Component("catalog"))
	if err != nil {
		return err
	}
	if cfg.Scripts.ScanOnStart {
		imported, err := catalog.Scan(ctx)
		if err != nil {
			return fmt.Errorf("failed to scan %s: %w", cfg.Scripts.Dir, err)
		}
		logger.Info().Int("imported", imported).Str("dir", cfg.Scripts.Dir).Msg("Scanned script directory")
	}
	catalog.TrackRuns(tel.Events)

	audit := engine.NewAuditLog(store, cfg.Audit.Retention, tel.Logger.Component("audit"))
	audit.Attach(tel.Events)
	go audit.RunPruner(ctx, cfg.Audit.PruneInterval)

	transport, err := transports.New(cfg.Transport, tel.Logger.Component("transport"))
	if err != nil {
		return err
	}

	opts := engine.Options{
		HostTimeout: cfg.Execution.HostTimeout,
		Convention:  cfg.Sections,
		Tracer:      tel.Tracer,
		Metrics:     tel.Metrics,
		Events:      tel.Events,
		Logger:      tel.Logger.Component("orchestrator"),
	}

	if cfg.Execution.VerdictScript != "" {
		src, err := os.ReadFile(cfg.Execution.VerdictScript)
		if err != nil {
			return fmt.Errorf("failed to read verdict script: %w", err)
		}
		verdict, err := engine.NewStarlarkVerdict(string(src), cfg.Execution.VerdictTimeout)
		if err != nil {
			return err
		}
		opts.Verdict = verdict
	}

	if cfg.Enforcement.Enabled {
		gate, err := playbook.NewGate(ctx, tel.Logger.Component("gate"))
		if err != nil {
			return err
		}
		if err := gate.LoadPolicies(ctx, cfg.Enforcement.PolicyPaths); err != nil {
			return err
		}
		opts.Enforcer = engine.NewPolicyEnforcer(validator, gate, tel.Metrics)
	}

	orchestrator, err := engine.NewOrchestrator(catalog, hosts, transport, engine.NewExecutionStore(), opts)
	if err != nil {
		return err
	}

	srv, err := api.NewServer(api.Dependencies{
		Store:        store,
		Hosts:        hosts,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Audit:        audit,
		Validator:    validator,
		Parser:       parser,
		Transport:    transport,
		Metrics:      tel.Metrics,
		Logger:       tel.Logger.Component("api"),
	}, api.Options{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		DetectTimeout:  detectTimeout,
		Version:        version,
	})
	if err != nil {
		return err
	}
	httpServer := srv.HTTPServer(cfg.Server)

	var metricsServer *http.Server
	if cfg.Telemetry.Metrics.ListenAddress != cfg.Server.Address {
		metricsServer = tel.Metrics.StartMetricsServer()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("address", cfg.Server.Address).Str("transport", cfg.Transport.Kind).Msg("API server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var registrar *discovery.Registrar
	if cfg.Consul.Enabled {
		registrar, err = discovery.NewRegistrar(cfg.Consul, cfg.Server.Address, tel.Logger.Component("consul"))
		if err != nil {
			logger.Warn().Err(err).Msg("Consul registration disabled")
		} else if err := registrar.Register(); err != nil {
			logger.Warn().Err(err).Msg("Failed to register with consul")
			registrar = nil
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutting down")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("API server stopped")
	}

	return shutdown(cfg.Server.ShutdownTimeout, logger, serveErr, func(ctx context.Context) error {
		if registrar != nil {
			registrar.Deregister()
		}
		if err := httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shut down API server: %w", err)
		}
		if metricsServer != nil {
			_ = metricsServer.Shutdown(ctx)
		}
		if err := orchestrator.Drain(ctx); err != nil {
			return fmt.Errorf("executions still running: %w", err)
		}
		return tel.Shutdown(ctx)
	})
}

func shutdown(timeout time.Duration, logger zerolog.Logger, serveErr error, fn func(context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := fn(ctx); err != nil {
		logger.Error().Err(err).Msg("Unclean shutdown")
		if serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

// setupValidator builds the playbook validator from the configured rule
// files and, when asked, reloads them on change for the process lifetime.
func setupValidator(ctx context.Context, cfg config.RulesConfig, logger zerolog.Logger) (*playbook.Validator, error) {
	validator := playbook.NewDefaultValidator()
	if len(cfg.Paths) == 0 {
		return validator, nil
	}

	loader := playbook.NewRuleLoader(logger)
	rules, err := loader.Load(ctx, cfg.Paths)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	if err := validator.SetRules(rules); err != nil {
		return nil, err
	}

	if cfg.Watch {
		go func() {
			err := loader.Watch(ctx, cfg.Paths, func(rs playbook.RuleSet) error {
				logger.Info().Msg("Reloading playbook rules")
				return validator.SetRules(rs)
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("Rule watcher stopped")
			}
		}()
	}

	return validator, nil
}
