package telemetry

import (
	"bytes"
	"context"
	"io"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"production", func(c *Config) { *c = *ProductionConfig() }, false},
		{"missing service name", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"no buffer", func(c *Config) { c.Events.BufferSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEnvironmentConfig(t *testing.T) {
	tests := []struct {
		environment string
		wantLevel   string
		wantTracing bool
	}{
		{"production", "info", true},
		{"development", "debug", false},
		{"staging", "info", false},
	}

	for _, tt := range tests {
		t.Run(tt.environment, func(t *testing.T) {
			cfg := EnvironmentConfig(tt.environment)
			if cfg.Environment != tt.environment {
				t.Errorf("Expected environment %s, got %s", tt.environment, cfg.Environment)
			}
			if cfg.Logging.Level != tt.wantLevel {
				t.Errorf("Expected level %s, got %s", tt.wantLevel, cfg.Logging.Level)
			}
			if cfg.Tracing.Enabled != tt.wantTracing {
				t.Errorf("Expected tracing %v, got %v", tt.wantTracing, cfg.Tracing.Enabled)
			}
		})
	}
}

func TestLogger_WritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inspector.log")

	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json", Output: path})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}

	orch := logger.Component("orchestrator")
	orch.Info().Str("execution_id", "exec-1").Msg("execution started")
	orch.Debug().Msg("filtered out")
	if err := logger.Close(); err != nil {
		t.Fatalf("failed to close logger: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	out := string(data)
	for _, want := range []string{`"component":"orchestrator"`, `"execution_id":"exec-1"`, `"message":"execution started"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
	if strings.Contains(out, "filtered out") {
		t.Error("Did not expect debug message at info level")
	}
}

func TestLogger_Context(t *testing.T) {
	var buf bytes.Buffer
	logger := &Logger{zlog: zerolog.New(&buf)}
	ctx := logger.WithContext(context.Background())

	FromContext(ctx).Info().Msg("from context")
	if !strings.Contains(buf.String(), "from context") {
		t.Errorf("Expected the context logger to write, got %q", buf.String())
	}

	if FromContext(context.Background()).GetLevel() != zerolog.Disabled {
		t.Error("Expected a disabled logger without one in the context")
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]zerolog.Level{
		"debug": zerolog.DebugLevel,
		"warn":  zerolog.WarnLevel,
		"":      zerolog.InfoLevel,
		"loud":  zerolog.InfoLevel,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, expected %s", in, got, want)
		}
	}
}

func TestMetrics_Handler(t *testing.T) {
	cfg := DefaultConfig().Metrics
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordExecutionStarted()
	m.RecordHostRun(true, time.Second)
	m.RecordHostRun(false, 2*time.Second)
	m.RecordExecutionFinished("failed", 3*time.Second)
	m.RecordValidation(false, map[string]int{"dangerous_commands": 2})
	m.SetRegisteredHosts(4)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	for _, want := range []string{
		"inspector_executions_started_total",
		`inspector_host_runs_total{result="failure"}`,
		`inspector_playbook_security_violations_total{family="dangerous_commands"}`,
		"inspector_registered_hosts 4",
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("Expected metrics output to contain %s", want)
		}
	}
}

func TestMetrics_DisabledIsNoop(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("failed to create metrics: %v", err)
	}

	m.RecordExecutionStarted()
	m.RecordExecutionFinished("completed", time.Second)
	m.RecordHostRun(true, time.Second)
	m.RecordValidation(true, nil)
	m.RecordError("NOT_FOUND")

	if m.Registry() != nil {
		t.Error("Expected no registry when disabled")
	}
	if srv := m.StartMetricsServer(); srv != nil {
		t.Error("Expected no server when disabled")
	}
}

func TestEventPublisher_Sync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeHostFailed))

	_ = ep.PublishHostResult("exec-1", "host-a", true, 0, time.Second)
	_ = ep.PublishHostResult("exec-1", "host-b", false, 2, time.Second)

	if len(got) != 1 {
		t.Fatalf("Expected 1 event, got %d", len(got))
	}
	if got[0].HostID != "host-b" || got[0].Level != EventLevelWarning {
		t.Errorf("Unexpected event: %+v", got[0])
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be set")
	}
}

func TestEventPublisher_AsyncOrderAndShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{
		Enabled:       true,
		BufferSize:    100,
		MaxBatchSize:  10,
		FlushInterval: 10 * time.Millisecond,
		EnableAsync:   true,
	})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	var (
		mu  sync.Mutex
		ids []string
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		ids = append(ids, e.ExecutionID)
		mu.Unlock()
	}, nil)

	for _, id := range []string{"a", "b", "c", "d"} {
		if err := ep.PublishExecutionStarted(id, "script", 1, ""); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("failed to shut down: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if strings.Join(ids, "") != "abcd" {
		t.Errorf("Expected events in publish order, got %v", ids)
	}

	if err := ep.PublishExecutionStarted("e", "script", 1, ""); err == nil {
		t.Error("Expected error publishing after shutdown")
	}
}

func TestEventPublisher_NilAndDisabled(t *testing.T) {
	var nilPublisher *EventPublisher
	if err := nilPublisher.Publish(Event{Type: "x"}); err != nil {
		t.Errorf("Expected nil publisher to discard, got %v", err)
	}

	ep, _ := NewEventPublisher(EventsConfig{Enabled: false})
	if err := ep.PublishExecutionFinished("id", "s", "completed", 1, 0, time.Second, ""); err != nil {
		t.Errorf("Expected disabled publisher to discard, got %v", err)
	}
}

func TestTracer_Disabled(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "inspector", "test", "test")
	if err != nil {
		t.Fatalf("failed to create tracer: %v", err)
	}

	ctx, span := tr.StartExecutionSpan(context.Background(), "exec-1", "script-1", 2)
	_, hostSpan := tr.StartHostSpan(ctx, "host-1", "10.0.0.1")
	RecordHostOutcome(hostSpan, 0, 3, true)
	hostSpan.End()
	span.End()

	if TraceID(context.Background()) != "" {
		t.Error("Expected empty trace id without a span")
	}
	if TraceID(ctx) == "" {
		t.Error("Expected unsampled spans to still carry a trace id")
	}

	var nilTracer *Tracer
	if _, noop := nilTracer.StartHostSpan(context.Background(), "h", "10.0.0.1"); noop.IsRecording() {
		t.Error("Expected a nil tracer to start non-recording spans")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("failed to shut down tracer: %v", err)
	}
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "t.log")

	tel, err := NewTelemetry(cfg)
	if err != nil {
		t.Fatalf("failed to create telemetry: %v", err)
	}

	if tel.Logger == nil || tel.Metrics == nil || tel.Events == nil {
		t.Fatal("Expected logger, metrics and events to be set")
	}

	if err := tel.Shutdown(context.Background()); err != nil {
		t.Errorf("failed to shut down: %v", err)
	}

	if NewNop().Metrics.Registry() != nil {
		t.Error("Expected nop telemetry to disable metrics")
	}
}
