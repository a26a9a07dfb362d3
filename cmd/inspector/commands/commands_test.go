package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testScript = `#!/bin/bash
resultfile="result.csv"

u_01() {
  echo A
}
u_01

u_02() {
  echo B
}
u_02
`

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("1.2.3", "abc123", "2026-01-01")
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestVersionCommand(t *testing.T) {
	out, err := runCommand(t, "version")
	if err != nil {
		t.Fatalf("failed to run version: %v", err)
	}
	if !strings.HasPrefix(out, "inspector 1.2.3 (commit: abc123") {
		t.Errorf("Unexpected version output: %q", out)
	}

	out, err = runCommand(t, "version", "--json")
	if err != nil {
		t.Fatalf("failed to run version --json: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("failed to decode version output: %v", err)
	}
	if info["version"] != "1.2.3" {
		t.Errorf("Expected version 1.2.3, got %q", info["version"])
	}
}

func TestSectionsCommands(t *testing.T) {
	path := writeFile(t, "check.sh", testScript)

	out, err := runCommand(t, "sections", "parse", path, "--json")
	if err != nil {
		t.Fatalf("failed to parse sections: %v", err)
	}
	var secs []struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal([]byte(out), &secs); err != nil {
		t.Fatalf("failed to decode sections: %v", err)
	}
	if len(secs) != 3 {
		t.Fatalf("Expected 3 sections, got %d", len(secs))
	}
	if secs[2].Name != "u_02" {
		t.Errorf("Expected last section u_02, got %s", secs[2].Name)
	}

	out, err = runCommand(t, "sections", "reconstruct", path, "section_3")
	if err != nil {
		t.Fatalf("failed to reconstruct: %v", err)
	}
	if !strings.Contains(out, "echo B") {
		t.Errorf("Expected u_02 body in output, got:\n%s", out)
	}
	if strings.Contains(out, "echo A") {
		t.Errorf("Expected u_01 to be left out, got:\n%s", out)
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name: "clean playbook",
			content: `- name: inspect
  hosts: all
  tasks:
    - name: collect uptime
      command: uptime
`,
		},
		{
			name: "dangerous command",
			content: `- hosts: all
  tasks:
    - name: clean
      command: rm -rf /tmp/x
`,
			wantErr: true,
		},
		{
			name:    "broken yaml",
			content: "not: valid: yaml: [",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, "site.yml", tt.content)

			out, err := runCommand(t, "validate", path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v\n%s", tt.wantErr, err, out)
			}
			if !strings.Contains(out, "syntax:") {
				t.Errorf("Expected a report, got %q", out)
			}
		})
	}
}

func TestHostsListCommand(t *testing.T) {
	var actor string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/hosts" {
			http.NotFound(w, r)
			return
		}
		actor = r.Header.Get("X-Inspector-Actor")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hosts":[{"id":"h1","name":"web-01","username":"ops","ip":"10.0.0.11","os":"Rocky Linux 9.3","active":true}]}`))
	}))
	defer ts.Close()

	out, err := runCommand(t, "hosts", "list", "--server", ts.URL, "--actor", "alice")
	if err != nil {
		t.Fatalf("failed to list hosts: %v", err)
	}
	if !strings.Contains(out, "web-01") || !strings.Contains(out, "10.0.0.11") {
		t.Errorf("Expected host row in output, got:\n%s", out)
	}
	if actor != "alice" {
		t.Errorf("Expected actor alice, got %q", actor)
	}
}

func TestExecStartRequiresHosts(t *testing.T) {
	if _, err := runCommand(t, "exec", "start", "script-1", "--server", "http://127.0.0.1:1"); err == nil {
		t.Fatal("Expected an error without --host")
	}
}
