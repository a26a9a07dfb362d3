// Package api exposes hosts, the script catalog, executions and the pure
// section and validation operations over HTTP.
package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/openfroyo/inspector/pkg/config"
	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/playbook"
	"github.com/openfroyo/inspector/pkg/sections"
	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/rs/zerolog"
)

// ActorHeader names the caller recorded in the audit trail.
const ActorHeader = "X-Inspector-Actor"

// Dependencies are the components the API serves.
type Dependencies struct {
	Store        stores.Store
	Hosts        *engine.HostRegistry
	Catalog      *engine.ScriptCatalog
	Orchestrator *engine.Orchestrator
	Audit        *engine.AuditLog
	Validator    *playbook.Validator
	Parser       *sections.Parser
	Transport    engine.Transport
	Metrics      *telemetry.Metrics
	Logger       zerolog.Logger
}

// Options tune request handling.
type Options struct {
	MaxUploadBytes int64
	DetectTimeout  time.Duration
	Version        string
}

// Server handles the inspector HTTP API.
type Server struct {
	deps     Dependencies
	opts     Options
	validate *validator.Validate
	logger   zerolog.Logger
	mux      *http.ServeMux
	started  time.Time
	node     func() NodeInfo
}

// NewServer creates the API server and registers its routes.
func NewServer(deps Dependencies, opts Options) (*Server, error) {
	if deps.Store == nil || deps.Hosts == nil || deps.Catalog == nil || deps.Orchestrator == nil {
		return nil, fmt.Errorf("store, hosts, catalog and orchestrator are required")
	}
	if deps.Validator == nil {
		deps.Validator = playbook.NewDefaultValidator()
	}
	if deps.Parser == nil {
		deps.Parser = sections.MustNewParser(sections.DefaultConvention())
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 10 << 20
	}
	if opts.DetectTimeout <= 0 {
		opts.DetectTimeout = 30 * time.Second
	}

	s := &Server{
		deps:     deps,
		opts:     opts,
		validate: validator.New(),
		logger:   deps.Logger.With().Str("component", "api").Logger(),
		mux:      http.NewServeMux(),
		started:  time.Now(),
		node:     collectNodeInfo,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/health", s.handleHealth)

	s.mux.HandleFunc("GET /api/hosts", s.handleListHosts)
	s.mux.HandleFunc("POST /api/hosts", s.handleRegisterHost)
	s.mux.HandleFunc("GET /api/hosts/{id}", s.handleGetHost)
	s.mux.HandleFunc("DELETE /api/hosts/{id}", s.handleDeleteHost)
	s.mux.HandleFunc("POST /api/hosts/{id}/detect", s.handleDetectOS)

	s.mux.HandleFunc("GET /api/scripts", s.handleListScripts)
	s.mux.HandleFunc("POST /api/scripts", s.handleUploadScript)
	s.mux.HandleFunc("GET /api/scripts/{id}", s.handleGetScript)
	s.mux.HandleFunc("DELETE /api/scripts/{id}", s.handleDeleteScript)
	s.mux.HandleFunc("GET /api/scripts/{id}/script", s.handleScriptContent)
	s.mux.HandleFunc("GET /api/scripts/{id}/script/download", s.handleScriptDownload)
	s.mux.HandleFunc("POST /api/scripts/{id}/executions", s.handleStartExecution)

	s.mux.HandleFunc("GET /api/executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("GET /api/executions/{id}/report.csv", s.handleExecutionReport)

	s.mux.HandleFunc("POST /api/validate", s.handleValidate)
	s.mux.HandleFunc("POST /api/sections/parse", s.handleParseSections)
	s.mux.HandleFunc("POST /api/sections/reconstruct", s.handleReconstruct)

	s.mux.HandleFunc("GET /api/audit", s.handleAudit)

	if s.deps.Metrics != nil {
		s.mux.Handle("GET /metrics", s.deps.Metrics.Handler())
	}
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

	s.mux.ServeHTTP(rec, r)

	s.logger.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Handled request")
}

// HTTPServer wraps the API in an http.Server configured from cfg.
func (s *Server) HTTPServer(cfg config.ServerConfig) *http.Server {
	return &http.Server{
		Addr:              cfg.Address,
		Handler:           s,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
