// ABOUTME: Tests for catalog aggregation, namespaced routing, and failure flattening.
// ABOUTME: Registers fake-backed connections directly to avoid spawning processes.

package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	return NewManager(ManagerConfig{
		Logger:      testLogger(),
		CallTimeout: 2 * time.Second,
	})
}

// registerFake attaches a handshaken fake-backed connection under the given
// server name, the way Initialize would for a real process.
func registerFake(t *testing.T, m *Manager, name string, tools []MCPToolInfo) *fakeServer {
	t.Helper()

	srv, conn := newFakeServer(tools)
	conn.Name = name
	conn.logger = testLogger()
	conn.onToolsChanged = func(*Connection) { m.rebuildCatalog() }
	require.NoError(t, conn.handshake(context.Background()))

	m.mu.Lock()
	m.conns[name] = conn
	m.order = append(m.order, name)
	m.mu.Unlock()
	m.rebuildCatalog()

	t.Cleanup(func() {
		conn.Stop()
		srv.close()
	})
	return srv
}

func TestToolDefinitionsAreNamespaced(t *testing.T) {
	m := newTestManager(t)
	schema := json.RawMessage(`{"type":"object","properties":{"q":{"type":"string"}}}`)
	registerFake(t, m, "alpha", []MCPToolInfo{
		{Name: "search", Description: "Searches things", InputSchema: schema},
	})
	registerFake(t, m, "beta", []MCPToolInfo{
		{Name: "search", Description: "Different search"},
	})

	defs := m.ToolDefinitions()
	require.Len(t, defs, 2)

	assert.Equal(t, "mcp_alpha_search", defs[0].Name)
	assert.Equal(t, "[alpha] Searches things", defs[0].Description)
	assert.Equal(t, "mcp_beta_search", defs[1].Name)

	// Schemas pass through untouched.
	assert.JSONEq(t, string(schema), string(defs[0].Parameters))
}

func TestExecuteToolRoutesToOwningServer(t *testing.T) {
	m := newTestManager(t)
	alphaSrv := registerFake(t, m, "alpha", []MCPToolInfo{{Name: "greet"}})
	betaSrv := registerFake(t, m, "beta", []MCPToolInfo{{Name: "greet"}})

	alphaSrv.onTool("greet", func(req jsonrpcMessage) *jsonrpcMessage {
		return textResult(*req.ID, "hello from alpha", false)
	})
	betaSrv.onTool("greet", func(req jsonrpcMessage) *jsonrpcMessage {
		return textResult(*req.ID, "hello from beta", false)
	})

	assert.Equal(t, "hello from alpha", m.ExecuteTool(context.Background(), "mcp_alpha_greet", nil))
	assert.Equal(t, "hello from beta", m.ExecuteTool(context.Background(), "mcp_beta_greet", nil))
}

func TestExecuteToolSplitsAtFirstUnderscore(t *testing.T) {
	m := newTestManager(t)
	srv := registerFake(t, m, "github", []MCPToolInfo{{Name: "search_issues"}})

	var gotTool string
	srv.onTool("search_issues", func(req jsonrpcMessage) *jsonrpcMessage {
		var params callToolParams
		_ = json.Unmarshal(req.Params, &params)
		gotTool = params.Name
		return textResult(*req.ID, "ok", false)
	})

	out := m.ExecuteTool(context.Background(), "mcp_github_search_issues", nil)
	assert.Equal(t, "ok", out)
	assert.Equal(t, "search_issues", gotTool)
}

func TestExecuteToolNeverReturnsRawErrors(t *testing.T) {
	m := newTestManager(t)
	registerFake(t, m, "alpha", []MCPToolInfo{{Name: "greet"}})

	cases := []struct {
		name     string
		toolName string
	}{
		{"no prefix", "weather_lookup"},
		{"prefix only", "mcp_"},
		{"missing tool part", "mcp_alpha"},
		{"empty server part", "mcp__greet"},
		{"unknown server", "mcp_nope_greet"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			out := m.ExecuteTool(context.Background(), tc.toolName, nil)
			assert.True(t, strings.HasPrefix(out, "Error: "), "got %q", out)
		})
	}
}

func TestExecuteToolFlattensTransportFailure(t *testing.T) {
	m := newTestManager(t)
	srv := registerFake(t, m, "alpha", []MCPToolInfo{{Name: "stall"}})
	srv.onTool("stall", func(jsonrpcMessage) *jsonrpcMessage { return nil })

	m.mu.RLock()
	m.conns["alpha"].callTimeout = 50 * time.Millisecond
	m.mu.RUnlock()

	out := m.ExecuteTool(context.Background(), "mcp_alpha_stall", nil)
	assert.True(t, strings.HasPrefix(out, "Error: "), "got %q", out)
	assert.Contains(t, out, "mcp_alpha_stall")
}

func TestIsKnownTool(t *testing.T) {
	m := newTestManager(t)

	assert.True(t, m.IsKnownTool("mcp_alpha_greet"))
	assert.True(t, m.IsKnownTool("mcp_anything"))
	assert.False(t, m.IsKnownTool("weather_lookup"))
	assert.False(t, m.IsKnownTool(""))
}

func TestInitializeRejectsBadNames(t *testing.T) {
	m := newTestManager(t)

	err := m.Initialize(context.Background(), []ProviderConfig{
		{Name: "bad_name", Command: "node"},
		{Name: "", Command: "node"},
	})
	require.NoError(t, err)

	status := m.Status()
	assert.Equal(t, 0, status.Connections)
}

func TestInitializeSkipsDisallowedCommands(t *testing.T) {
	m := newTestManager(t)

	err := m.Initialize(context.Background(), []ProviderConfig{
		{Name: "sneaky", Command: "curl"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, m.Status().Connections)
}

func TestInitializeToleratesSpawnFailure(t *testing.T) {
	m := NewManager(ManagerConfig{
		Gate:        NewSecurityGate([]string{"definitely-not-installed-anywhere"}),
		Logger:      testLogger(),
		CallTimeout: time.Second,
	})

	// Allow-listed but not installed: the spawn fails and the server is skipped.
	err := m.Initialize(context.Background(), []ProviderConfig{
		{Name: "ghost", Command: "definitely-not-installed-anywhere"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, m.Status().Connections)
	assert.Empty(t, m.ToolDefinitions())
}

func TestConcurrentRefreshKeepsRegistrationConsistent(t *testing.T) {
	m := NewManager(ManagerConfig{
		Gate:        NewSecurityGate([]string{"cat"}),
		Logger:      testLogger(),
		CallTimeout: 2 * time.Second,
	})
	t.Cleanup(m.Close)

	// cat echoes each request line back with its id intact, which is enough
	// to complete the handshake with an empty tool set.
	providers := []ProviderConfig{{Name: "echo", Command: "cat"}}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, m.Refresh(context.Background(), providers))
		}()
	}
	wg.Wait()

	m.mu.RLock()
	conns, order := len(m.conns), len(m.order)
	m.mu.RUnlock()
	assert.Equal(t, 1, conns)
	assert.Equal(t, 1, order)

	servers := m.Servers()
	require.Len(t, servers, 1)
	assert.Equal(t, "echo", servers[0].Name)
}

func TestInitializeSkipsAlreadyRegisteredNames(t *testing.T) {
	m := NewManager(ManagerConfig{
		Gate:        NewSecurityGate([]string{"cat"}),
		Logger:      testLogger(),
		CallTimeout: 2 * time.Second,
	})
	t.Cleanup(m.Close)

	registerFake(t, m, "echo", []MCPToolInfo{{Name: "ping"}})

	err := m.Initialize(context.Background(), []ProviderConfig{{Name: "echo", Command: "cat"}})
	require.NoError(t, err)

	// The existing connection keeps its slot and the extra one is stopped.
	m.mu.RLock()
	conns, order := len(m.conns), len(m.order)
	m.mu.RUnlock()
	assert.Equal(t, 1, conns)
	assert.Equal(t, 1, order)

	defs := m.ToolDefinitions()
	require.Len(t, defs, 1)
	assert.Equal(t, "mcp_echo_ping", defs[0].Name)
}

func TestCloseEmptiesCatalogAndFailsCalls(t *testing.T) {
	m := newTestManager(t)
	registerFake(t, m, "alpha", []MCPToolInfo{{Name: "greet"}})
	require.Equal(t, 1, m.Status().Tools)

	m.Close()

	assert.Equal(t, 0, m.Status().Connections)
	assert.Empty(t, m.ToolDefinitions())
	out := m.ExecuteTool(context.Background(), "mcp_alpha_greet", nil)
	assert.Equal(t, `Error: MCP server "alpha" is not connected`, out)
}

func TestServersReportsPerConnectionStatus(t *testing.T) {
	m := newTestManager(t)
	registerFake(t, m, "alpha", []MCPToolInfo{{Name: "one"}, {Name: "two"}})
	registerFake(t, m, "beta", nil)

	servers := m.Servers()
	require.Len(t, servers, 2)
	assert.Equal(t, "alpha", servers[0].Name)
	assert.True(t, servers[0].Ready)
	assert.Equal(t, 2, servers[0].ToolCount)
	assert.Equal(t, "beta", servers[1].Name)
	assert.Equal(t, 0, servers[1].ToolCount)
}

func TestListChangedRebuildsCatalog(t *testing.T) {
	m := newTestManager(t)
	srv := registerFake(t, m, "alpha", []MCPToolInfo{{Name: "one"}})
	require.Len(t, m.ToolDefinitions(), 1)

	srv.setTools([]MCPToolInfo{{Name: "one"}, {Name: "two"}})
	srv.notifyListChanged()

	require.Eventually(t, func() bool {
		return len(m.ToolDefinitions()) == 2
	}, 2*time.Second, 10*time.Millisecond)

	defs := m.ToolDefinitions()
	assert.Equal(t, "mcp_alpha_one", defs[0].Name)
	assert.Equal(t, "mcp_alpha_two", defs[1].Name)
}
