package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/openfroyo/inspector/pkg/engine"
	"github.com/openfroyo/inspector/pkg/playbook"
	"github.com/openfroyo/inspector/pkg/stores"
	"github.com/openfroyo/inspector/pkg/telemetry"
	"github.com/rs/zerolog"
)

const checkScript = `#!/bin/bash
resultfile="result.csv"

u_01() {
  echo "※ U-01 결과 : 양호"
}
u_01

u_02() {
  echo "※ U-02 결과 : 취약"
}
u_02
`

// scriptedTransport answers the OS probe and runs inspection scripts by
// echoing the check lines they contain.
type scriptedTransport struct {
	mu    sync.Mutex
	calls int
}

func (s *scriptedTransport) Run(_ context.Context, req engine.RemoteRequest) (*engine.RemoteResult, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if req.Body == engine.OSProbe {
		return &engine.RemoteResult{Stdout: "NAME=\"Rocky Linux\"\nVERSION_ID=\"9.3\"\n"}, nil
	}
	if req.Target.IP == "10.0.0.99" {
		return nil, errors.New("connection refused")
	}

	var out []string
	for _, line := range strings.Split(req.Body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, `echo "※`) {
			out = append(out, strings.Trim(strings.TrimPrefix(line, "echo "), `"`))
		}
	}
	return &engine.RemoteResult{Stdout: strings.Join(out, "\n")}, nil
}

type testEnv struct {
	server       *httptest.Server
	client       *Client
	orchestrator *engine.Orchestrator
	audit        *engine.AuditLog
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	events, err := telemetry.NewEventPublisher(telemetry.EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("failed to create publisher: %v", err)
	}

	audit := engine.NewAuditLog(store, time.Hour, zerolog.Nop())
	audit.Attach(events)

	hosts := engine.NewHostRegistry(store, events, nil)
	catalog, err := engine.NewScriptCatalog(store, t.TempDir(), nil, events, nil, zerolog.Nop())
	if err != nil {
		t.Fatalf("failed to create catalog: %v", err)
	}
	catalog.TrackRuns(events)

	transport := &scriptedTransport{}
	orchestrator, err := engine.NewOrchestrator(catalog, hosts, transport, nil, engine.Options{
		HostTimeout:  5 * time.Second,
		PollInterval: 10 * time.Millisecond,
		Events:       events,
		Logger:       zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("failed to create orchestrator: %v", err)
	}
	t.Cleanup(func() { _ = orchestrator.Drain(context.Background()) })

	srv, err := NewServer(Dependencies{
		Store:        store,
		Hosts:        hosts,
		Catalog:      catalog,
		Orchestrator: orchestrator,
		Audit:        audit,
		Validator:    playbook.NewDefaultValidator(),
		Transport:    transport,
		Logger:       zerolog.Nop(),
	}, Options{MaxUploadBytes: 1 << 20, Version: "test"})
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	srv.node = func() NodeInfo { return NodeInfo{OS: "linux"} }

	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	return &testEnv{
		server:       ts,
		client:       NewClient(ts.URL, "tester"),
		orchestrator: orchestrator,
		audit:        audit,
	}
}

func statusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

func (e *testEnv) postJSON(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("failed to post %s: %v", path, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/api/health")
	if err != nil {
		t.Fatalf("failed to get health: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if health.Status != "healthy" || health.Database != "connected" || health.Version != "test" {
		t.Errorf("Unexpected health: %+v", health)
	}
	if health.Counts["hosts"] != 0 || health.Counts["scripts"] != 0 {
		t.Errorf("Expected empty counts, got %v", health.Counts)
	}
	if health.Node.OS != "linux" {
		t.Errorf("Expected node info, got %+v", health.Node)
	}
}

func TestHosts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	host, err := env.client.RegisterHost(ctx, RegisterHostRequest{
		HostInput: engine.HostInput{Name: "web-01", Username: "ops", IP: "10.0.0.1"},
		DetectOS:  true,
	})
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}
	if host.OS != "Rocky Linux 9.3" {
		t.Errorf("Expected detected OS, got %q", host.OS)
	}

	_, err = env.client.RegisterHost(ctx, RegisterHostRequest{
		HostInput: engine.HostInput{Name: "dup", Username: "ops", IP: "10.0.0.1"},
	})
	if statusOf(err) != http.StatusConflict {
		t.Errorf("Expected 409 for a duplicate ip, got %v", err)
	}

	_, err = env.client.RegisterHost(ctx, RegisterHostRequest{
		HostInput: engine.HostInput{Name: "bad", IP: "10.0.0.2"},
	})
	if statusOf(err) != http.StatusBadRequest {
		t.Errorf("Expected 400 for a missing username, got %v", err)
	}

	hosts, err := env.client.ListHosts(ctx)
	if err != nil {
		t.Fatalf("failed to list hosts: %v", err)
	}
	if len(hosts) != 1 {
		t.Errorf("Expected 1 host, got %d", len(hosts))
	}

	detected, err := env.client.DetectOS(ctx, host.ID, CredentialRequest{Password: "pw"})
	if err != nil {
		t.Fatalf("failed to detect os: %v", err)
	}
	if detected.OS != "Rocky Linux 9.3" {
		t.Errorf("Expected Rocky Linux 9.3, got %q", detected.OS)
	}

	if err := env.client.DeleteHost(ctx, host.ID); err != nil {
		t.Fatalf("failed to delete host: %v", err)
	}
	if err := env.client.DeleteHost(ctx, host.ID); statusOf(err) != http.StatusNotFound {
		t.Errorf("Expected 404 for a deleted host, got %v", err)
	}

	resp, err := http.Get(env.server.URL + "/api/hosts/missing")
	if err != nil {
		t.Fatalf("failed to get host: %v", err)
	}
	defer resp.Body.Close()

	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error: %v", err)
	}
	if resp.StatusCode != http.StatusNotFound || body.Code != engine.ErrCodeNotFound {
		t.Errorf("Expected 404 NOT_FOUND, got %d %s", resp.StatusCode, body.Code)
	}
}

func TestScripts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	view, err := env.client.UploadScript(ctx, "linux", "baseline", "check.sh", []byte(checkScript))
	if err != nil {
		t.Fatalf("failed to upload script: %v", err)
	}
	if view.Type != stores.ScriptTypeShell || len(view.Sections) == 0 {
		t.Errorf("Expected a parsed shell script, got %+v", view)
	}

	fetched, err := env.client.GetScript(ctx, view.ID)
	if err != nil {
		t.Fatalf("failed to get script: %v", err)
	}
	if fetched.Description != "baseline" || len(fetched.Sections) != len(view.Sections) {
		t.Errorf("Unexpected script: %+v", fetched)
	}

	resp, err := http.Get(env.server.URL + "/api/scripts/" + view.ID + "/script?section_ids=section_3")
	if err != nil {
		t.Fatalf("failed to get script content: %v", err)
	}
	var content ScriptContent
	if err := json.NewDecoder(resp.Body).Decode(&content); err != nil {
		t.Fatalf("failed to decode content: %v", err)
	}
	resp.Body.Close()
	if content.Filename != "linux_sections.sh" || !strings.Contains(content.Content, "u_02() {") || strings.Contains(content.Content, "u_01") {
		t.Errorf("Unexpected content: %+v", content)
	}

	resp, err = http.Get(env.server.URL + "/api/scripts/" + view.ID + "/script/download")
	if err != nil {
		t.Fatalf("failed to download script: %v", err)
	}
	data, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(data) != checkScript {
		t.Errorf("Expected the full script, got:\n%s", data)
	}
	if cd := resp.Header.Get("Content-Disposition"); cd != `attachment; filename=linux.sh` {
		t.Errorf("Unexpected Content-Disposition: %s", cd)
	}

	if err := env.client.DeleteScript(ctx, view.ID); err != nil {
		t.Fatalf("failed to delete script: %v", err)
	}
	if _, err := env.client.GetScript(ctx, view.ID); statusOf(err) != http.StatusNotFound {
		t.Errorf("Expected 404 after delete, got %v", err)
	}
}

func TestUploadScript_Rejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.client.UploadScript(ctx, "bin", "", "tool.exe", []byte("MZ")); statusOf(err) != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unsupported extension, got %v", err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	_ = mw.WriteField("name", "nofile")
	_ = mw.Close()

	resp, err := http.Post(env.server.URL+"/api/scripts", mw.FormDataContentType(), &body)
	if err != nil {
		t.Fatalf("failed to post upload: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 without a file, got %d", resp.StatusCode)
	}
}

func TestExecutions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	script, err := env.client.UploadScript(ctx, "linux", "", "check.sh", []byte(checkScript))
	if err != nil {
		t.Fatalf("failed to upload script: %v", err)
	}
	good, err := env.client.RegisterHost(ctx, RegisterHostRequest{HostInput: engine.HostInput{Name: "good", Username: "ops", IP: "10.0.0.1"}})
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}
	bad, err := env.client.RegisterHost(ctx, RegisterHostRequest{HostInput: engine.HostInput{Name: "bad", Username: "ops", IP: "10.0.0.99"}})
	if err != nil {
		t.Fatalf("failed to register host: %v", err)
	}

	started, err := env.client.StartExecution(ctx, script.ID, StartExecutionRequest{
		HostIDs:           []string{good.ID, bad.ID},
		CredentialRequest: CredentialRequest{Password: "pw"},
	})
	if err != nil {
		t.Fatalf("failed to start execution: %v", err)
	}
	if started.TotalHosts != 2 {
		t.Errorf("Expected 2 hosts, got %d", started.TotalHosts)
	}

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := env.orchestrator.Wait(waitCtx, started.ID); err != nil {
		t.Fatalf("failed to wait for execution: %v", err)
	}

	rec, err := env.client.GetExecution(ctx, started.ID)
	if err != nil {
		t.Fatalf("failed to get execution: %v", err)
	}
	if rec.CompletedCount != 1 || rec.FailedCount != 1 {
		t.Errorf("Expected 1 completed and 1 failed, got %d/%d", rec.CompletedCount, rec.FailedCount)
	}
	if !rec.Status.IsTerminal() {
		t.Errorf("Expected a terminal status, got %s", rec.Status)
	}

	execs, err := env.client.ListExecutions(ctx)
	if err != nil {
		t.Fatalf("failed to list executions: %v", err)
	}
	if len(execs) != 1 {
		t.Errorf("Expected 1 execution, got %d", len(execs))
	}

	report, err := env.client.Report(ctx, started.ID)
	if err != nil {
		t.Fatalf("failed to fetch report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(report)), "\n")
	if len(lines) != 3 {
		t.Fatalf("Expected a header and 2 rows, got %d lines:\n%s", len(lines), report)
	}
	if lines[0] != "host_id,hostname,ip,항목코드,결과" {
		t.Errorf("Unexpected header: %s", lines[0])
	}
	if lines[1] != good.ID+",good,10.0.0.1,U-01,양호" {
		t.Errorf("Unexpected row: %s", lines[1])
	}

	if _, err := env.client.GetExecution(ctx, "missing"); statusOf(err) != http.StatusNotFound {
		t.Errorf("Expected 404 for an unknown execution, got %v", err)
	}
}

func TestStartExecution_BadRequests(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "empty hosts", path: "/api/scripts/s1/executions", body: `{"host_ids":[]}`, status: http.StatusBadRequest},
		{name: "malformed", path: "/api/scripts/s1/executions", body: `{"host_ids":`, status: http.StatusBadRequest},
		{name: "unknown field", path: "/api/scripts/s1/executions", body: `{"hosts":["a"]}`, status: http.StatusBadRequest},
		{name: "unknown script", path: "/api/scripts/s1/executions", body: `{"host_ids":["a"]}`, status: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.postJSON(t, tt.path, tt.body)
			if resp.StatusCode != tt.status {
				t.Errorf("Expected status %d, got %d", tt.status, resp.StatusCode)
			}
		})
	}
}

func TestValidateAndSections(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/api/validate", `{"content":"- hosts: all\n  tasks: [\n"}`)
	var report playbook.Report
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		t.Fatalf("failed to decode report: %v", err)
	}
	if report.Valid || report.SyntaxValid || report.SyntaxError == "" {
		t.Errorf("Expected a syntax failure, got %+v", report)
	}

	body, _ := json.Marshal(ParseRequest{Content: checkScript})
	resp = env.postJSON(t, "/api/sections/parse", string(body))
	var parsed ParseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		t.Fatalf("failed to decode sections: %v", err)
	}
	if parsed.Count != len(parsed.Sections) || parsed.Count < 2 {
		t.Errorf("Expected sections, got %+v", parsed)
	}

	body, _ = json.Marshal(ReconstructRequest{Content: checkScript, SectionIDs: []string{"section_2"}})
	resp = env.postJSON(t, "/api/sections/reconstruct", string(body))
	var rebuilt ReconstructResponse
	if err := json.NewDecoder(resp.Body).Decode(&rebuilt); err != nil {
		t.Fatalf("failed to decode reconstruction: %v", err)
	}
	if !strings.Contains(rebuilt.Content, "u_01() {") || strings.Contains(rebuilt.Content, "u_02") {
		t.Errorf("Expected only u_01, got:\n%s", rebuilt.Content)
	}
}

func TestAudit(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.client.RegisterHost(ctx, RegisterHostRequest{HostInput: engine.HostInput{Name: "a", Username: "ops", IP: "10.0.0.1"}}); err != nil {
		t.Fatalf("failed to register host: %v", err)
	}

	resp, err := http.Get(env.server.URL + "/api/audit?action=" + telemetry.EventTypeHostRegistered)
	if err != nil {
		t.Fatalf("failed to get audit: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Entries []*stores.AuditEntry `json:"entries"`
		Count   int                  `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode audit: %v", err)
	}
	if body.Count != 1 || body.Entries[0].Actor != "tester" {
		t.Errorf("Expected one entry by tester, got %+v", body)
	}

	resp2, err := http.Get(env.server.URL + "/api/audit?offset=-1")
	if err != nil {
		t.Fatalf("failed to get audit: %v", err)
	}
	resp2.Body.Close()
	if resp2.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for a negative offset, got %d", resp2.StatusCode)
	}
}
