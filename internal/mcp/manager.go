// ABOUTME: Manages the set of MCP server connections and the aggregated tool catalog.
// ABOUTME: Routes namespaced tool calls to the owning connection and flattens failures to text.

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// ToolNamePrefix namespaces every aggregated tool as "mcp_<server>_<tool>".
const ToolNamePrefix = "mcp_"

// DefaultCallTimeout bounds each individual request to a server.
const DefaultCallTimeout = 30 * time.Second

// ToolDescriptor is one entry in the aggregated catalog.
type ToolDescriptor struct {
	Server      string
	Name        string
	Description string
	InputSchema json.RawMessage
}

// FunctionDefinition is a catalog entry in the shape tool-calling APIs
// expect: namespaced name, tagged description, schema passed through.
type FunctionDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// ServerStatus describes one connection for status reporting.
type ServerStatus struct {
	Name      string `json:"name"`
	Ready     bool   `json:"ready"`
	ToolCount int    `json:"tool_count"`
}

// Status summarizes the manager.
type Status struct {
	Connections int `json:"connections"`
	Tools       int `json:"tools"`
}

// ManagerConfig holds the manager's dependencies.
type ManagerConfig struct {
	Gate        *SecurityGate
	Logger      *slog.Logger
	CallTimeout time.Duration
}

// Manager owns all MCP server connections and the tool catalog built from
// them. Connection failures are contained: a server that will not start or
// dies later only removes its own tools.
type Manager struct {
	gate        *SecurityGate
	logger      *slog.Logger
	callTimeout time.Duration

	// lifecycle serializes Initialize, Refresh, and Close. Refresh is a
	// teardown plus re-init; two of them interleaving would let the second
	// registration overwrite live connections and duplicate catalog entries.
	lifecycle sync.Mutex

	mu       sync.RWMutex
	conns    map[string]*Connection
	order    []string
	allTools []ToolDescriptor
}

// NewManager creates a manager with no connections. Call Initialize to spawn
// servers from config.
func NewManager(cfg ManagerConfig) *Manager {
	gate := cfg.Gate
	if gate == nil {
		gate = NewSecurityGate(nil)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &Manager{
		gate:        gate,
		logger:      logger,
		callTimeout: timeout,
		conns:       make(map[string]*Connection),
	}
}

// Initialize spawns a connection for every provider, in parallel. Individual
// failures are logged and skipped; the catalog is built from whatever subset
// came up. Initialize itself only fails on invalid input, never on a server
// that would not start.
func (m *Manager) Initialize(ctx context.Context, providers []ProviderConfig) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	return m.initialize(ctx, providers)
}

func (m *Manager) initialize(ctx context.Context, providers []ProviderConfig) error {
	accepted := make([]ProviderConfig, 0, len(providers))
	seen := make(map[string]struct{}, len(providers))
	for _, p := range providers {
		if p.Name == "" {
			m.logger.Warn("skipping server with empty name")
			continue
		}
		if strings.Contains(p.Name, "_") {
			m.logger.Warn("skipping server: names must not contain underscores", "server", p.Name)
			continue
		}
		if _, dup := seen[p.Name]; dup {
			m.logger.Warn("skipping duplicate server name", "server", p.Name)
			continue
		}
		if err := m.gate.Approve(p.Command); err != nil {
			m.logger.Warn("skipping server: command rejected", "server", p.Name, "error", err)
			continue
		}
		seen[p.Name] = struct{}{}
		accepted = append(accepted, p)
	}

	started := make([]*Connection, len(accepted))
	var wg sync.WaitGroup
	for i, p := range accepted {
		wg.Add(1)
		go func(i int, p ProviderConfig) {
			defer wg.Done()
			conn := newConnection(p, m.gate, m.logger, m.callTimeout)
			conn.onToolsChanged = func(*Connection) { m.rebuildCatalog() }
			if err := conn.Start(ctx); err != nil {
				m.logger.Warn("server failed to start", "server", p.Name, "error", err)
				return
			}
			started[i] = conn
		}(i, p)
	}
	wg.Wait()

	orphans := make([]*Connection, 0)
	m.mu.Lock()
	for _, conn := range started {
		if conn == nil {
			continue
		}
		if _, exists := m.conns[conn.Name]; exists {
			m.logger.Warn("server already registered, stopping extra connection", "server", conn.Name)
			orphans = append(orphans, conn)
			continue
		}
		m.conns[conn.Name] = conn
		m.order = append(m.order, conn.Name)
	}
	m.mu.Unlock()

	for _, conn := range orphans {
		conn.Stop()
	}

	m.rebuildCatalog()

	status := m.Status()
	m.logger.Info("mcp manager initialized",
		"servers", status.Connections,
		"tools", status.Tools,
	)
	return nil
}

// Refresh tears down every connection and re-initializes from the given
// providers. In-flight calls against old connections fail cleanly.
func (m *Manager) Refresh(ctx context.Context, providers []ProviderConfig) error {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.logger.Info("refreshing mcp connections")
	m.closeAll()
	return m.initialize(ctx, providers)
}

// Close stops every connection and empties the catalog.
func (m *Manager) Close() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.closeAll()
}

func (m *Manager) closeAll() {
	m.mu.Lock()
	conns := m.conns
	m.conns = make(map[string]*Connection)
	m.order = nil
	m.allTools = nil
	m.mu.Unlock()

	for _, conn := range conns {
		conn.Stop()
	}
}

// rebuildCatalog rebuilds the aggregated tool list from all connections and
// swaps it in atomically. Within the catalog, tools keep config order by
// server and server order by advertisement.
func (m *Manager) rebuildCatalog() {
	m.mu.Lock()
	defer m.mu.Unlock()

	tools := make([]ToolDescriptor, 0, len(m.allTools))
	for _, name := range m.order {
		conn, ok := m.conns[name]
		if !ok {
			continue
		}
		for _, t := range conn.Tools() {
			tools = append(tools, ToolDescriptor{
				Server:      name,
				Name:        t.Name,
				Description: t.Description,
				InputSchema: t.InputSchema,
			})
		}
	}
	m.allTools = tools
}

// ToolDefinitions returns the catalog as namespaced function definitions.
// Descriptions are tagged with the owning server so a model can tell
// same-named tools apart.
func (m *Manager) ToolDefinitions() []FunctionDefinition {
	m.mu.RLock()
	defer m.mu.RUnlock()

	defs := make([]FunctionDefinition, len(m.allTools))
	for i, t := range m.allTools {
		defs[i] = FunctionDefinition{
			Name:        ToolNamePrefix + t.Server + "_" + t.Name,
			Description: fmt.Sprintf("[%s] %s", t.Server, t.Description),
			Parameters:  t.InputSchema,
		}
	}
	return defs
}

// IsKnownTool reports whether a tool name belongs to this manager's
// namespace. It is a prefix test only; routing resolves the rest.
func (m *Manager) IsKnownTool(name string) bool {
	return strings.HasPrefix(name, ToolNamePrefix)
}

// ExecuteTool routes a namespaced tool call to its connection and returns
// the flattened text output. It never returns an error: unroutable names,
// missing servers, timeouts, and protocol failures all come back as a
// descriptive "Error: ..." string.
func (m *Manager) ExecuteTool(ctx context.Context, name string, arguments json.RawMessage) string {
	rest, ok := strings.CutPrefix(name, ToolNamePrefix)
	if !ok {
		return fmt.Sprintf("Error: %q is not an MCP tool", name)
	}

	serverName, toolName, ok := strings.Cut(rest, "_")
	if !ok || serverName == "" || toolName == "" {
		return fmt.Sprintf("Error: malformed MCP tool name %q", name)
	}

	m.mu.RLock()
	conn := m.conns[serverName]
	m.mu.RUnlock()

	if conn == nil {
		return fmt.Sprintf("Error: MCP server %q is not connected", serverName)
	}

	text, err := conn.CallTool(ctx, toolName, arguments)
	if err != nil {
		m.logger.Warn("tool call failed", "tool", name, "error", err)
		return fmt.Sprintf("Error: calling %q: %v", name, err)
	}
	return text
}

// Status returns connection and tool counts.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{Connections: len(m.conns), Tools: len(m.allTools)}
}

// Servers returns per-connection status in config order.
func (m *Manager) Servers() []ServerStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ServerStatus, 0, len(m.order))
	for _, name := range m.order {
		conn, ok := m.conns[name]
		if !ok {
			continue
		}
		out = append(out, ServerStatus{
			Name:      name,
			Ready:     conn.Ready(),
			ToolCount: len(conn.Tools()),
		})
	}
	return out
}
