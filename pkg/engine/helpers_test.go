package engine

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/openfroyo/inspector/pkg/stores"
)

// mockTransport runs a handler per request and records what it was asked.
type mockTransport struct {
	mu       sync.Mutex
	requests []RemoteRequest
	handler  func(ctx context.Context, req RemoteRequest) (*RemoteResult, error)
}

func (m *mockTransport) Run(ctx context.Context, req RemoteRequest) (*RemoteResult, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.handler == nil {
		return &RemoteResult{Stdout: "ok"}, nil
	}
	return m.handler(ctx, req)
}

func (m *mockTransport) bodies() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, len(m.requests))
	for i, r := range m.requests {
		out[i] = r.Body
	}
	return out
}

// mockScripts serves scripts from memory.
type mockScripts struct {
	scripts    map[string]ScriptMeta
	content    map[string]string
	contentErr error
}

func newMockScripts() *mockScripts {
	return &mockScripts{
		scripts: make(map[string]ScriptMeta),
		content: make(map[string]string),
	}
}

func (m *mockScripts) add(id string, typ ScriptType, content string) {
	m.scripts[id] = ScriptMeta{ID: id, Name: id, Filename: id + ".sh", Type: typ}
	m.content[id] = content
}

func (m *mockScripts) Lookup(_ context.Context, id string) (*ScriptMeta, error) {
	meta, ok := m.scripts[id]
	if !ok {
		return nil, NewNotFoundError("script", id)
	}
	return &meta, nil
}

func (m *mockScripts) Content(_ context.Context, id string) (string, error) {
	if m.contentErr != nil {
		return "", m.contentErr
	}
	return m.content[id], nil
}

// mockHosts resolves hosts from memory.
type mockHosts map[string]Target

func (m mockHosts) Target(_ context.Context, id string) (*Target, error) {
	t, ok := m[id]
	if !ok {
		return nil, NewNotFoundError("host", id)
	}
	return &t, nil
}

func testHosts(ids ...string) mockHosts {
	hosts := make(mockHosts)
	for i, id := range ids {
		hosts[id] = Target{
			ID:       id,
			Name:     "host-" + id,
			IP:       "10.0.0." + string(rune('1'+i)),
			Username: "root",
		}
	}
	return hosts
}

// mockEnforcer returns a fixed decision.
type mockEnforcer struct {
	allowed bool
	reason  string
	err     error
}

func (m *mockEnforcer) Check(context.Context, ScriptMeta, string, []HostRef) (bool, string, error) {
	return m.allowed, m.reason, m.err
}

func setupTestStore(t *testing.T) *stores.SQLiteStore {
	t.Helper()

	store, err := stores.NewSQLiteStore(stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("failed to initialize store: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate store: %v", err)
	}

	t.Cleanup(func() { _ = store.Close() })
	return store
}

func containsAll(s string, parts ...string) bool {
	for _, p := range parts {
		if !strings.Contains(s, p) {
			return false
		}
	}
	return true
}
