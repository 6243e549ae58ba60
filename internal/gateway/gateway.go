// ABOUTME: Gateway orchestrator that owns the MCP manager and HTTP server lifecycle.
// ABOUTME: Watches the config file and refreshes connections when it changes.

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/2389/toolgate/internal/config"
	"github.com/2389/toolgate/internal/mcp"
)

// reloadDebounce coalesces the bursts of fsnotify events editors produce
// into a single refresh.
const reloadDebounce = 500 * time.Millisecond

// toolService is the surface of mcp.Manager the gateway uses.
// This allows injecting mock implementations for testing.
type toolService interface {
	Initialize(ctx context.Context, providers []mcp.ProviderConfig) error
	Refresh(ctx context.Context, providers []mcp.ProviderConfig) error
	Close()
	ExecuteTool(ctx context.Context, name string, arguments json.RawMessage) string
	ToolDefinitions() []mcp.FunctionDefinition
	IsKnownTool(name string) bool
	Status() mcp.Status
	Servers() []mcp.ServerStatus
}

// Gateway wires the MCP manager to an HTTP API and keeps both alive until
// the context is cancelled.
type Gateway struct {
	configPath string
	manager    toolService
	httpServer *http.Server
	logger     *slog.Logger

	// mu guards config; reloads can race with API handlers.
	mu     sync.Mutex
	config *config.Config
}

// New creates a gateway from config. The MCP manager is built here but no
// servers are spawned until Run.
func New(cfg *config.Config, configPath string, logger *slog.Logger) *Gateway {
	manager := mcp.NewManager(mcp.ManagerConfig{
		Gate:        mcp.NewSecurityGate(cfg.Security.AllowedCommands),
		Logger:      logger,
		CallTimeout: cfg.MCP.CallTimeout,
	})

	return &Gateway{
		configPath: configPath,
		manager:    manager,
		logger:     logger,
		config:     cfg,
	}
}

// providersFromConfig converts enabled config entries to provider configs.
func providersFromConfig(cfg *config.Config) []mcp.ProviderConfig {
	providers := make([]mcp.ProviderConfig, 0, len(cfg.Servers))
	for _, s := range cfg.Servers {
		if !s.IsEnabled() {
			continue
		}
		providers = append(providers, mcp.ProviderConfig{
			Name:    s.Name,
			Command: s.Command,
			Args:    s.Args,
			Env:     s.Env,
		})
	}
	return providers
}

// buildMux registers all HTTP routes.
func (g *Gateway) buildMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/api/tools", g.handleListTools)
	mux.HandleFunc("/api/call", g.handleCallTool)
	mux.HandleFunc("/api/status", g.handleStatus)
	mux.HandleFunc("/api/refresh", g.handleRefresh)
	return mux
}

// Run spawns the configured MCP servers, starts the HTTP server, and blocks
// until ctx is cancelled. On return all connections are stopped.
func (g *Gateway) Run(ctx context.Context) error {
	g.mu.Lock()
	providers := providersFromConfig(g.config)
	addr := g.config.Server.HTTPAddr
	g.mu.Unlock()

	if err := g.manager.Initialize(ctx, providers); err != nil {
		return err
	}
	defer g.manager.Close()

	watcherDone := g.watchConfig(ctx)

	g.httpServer = &http.Server{
		Addr:              addr,
		Handler:           g.buildMux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		g.logger.Info("http server listening", "addr", addr)
		if err := g.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var serverErr error
	select {
	case <-ctx.Done():
		g.logger.Info("shutting down")
	case serverErr = <-errCh:
		g.logger.Error("http server failed", "error", serverErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := g.httpServer.Shutdown(shutdownCtx); err != nil && serverErr == nil {
		serverErr = err
	}

	<-watcherDone
	return serverErr
}

// watchConfig watches the config file and refreshes MCP connections when it
// changes. Reload failures keep the previous configuration running.
func (g *Gateway) watchConfig(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		g.logger.Warn("config watching disabled", "error", err)
		close(done)
		return done
	}

	// Watch the directory: editors replace files on save, which breaks a
	// watch on the path itself.
	if err := watcher.Add(filepath.Dir(g.configPath)); err != nil {
		g.logger.Warn("config watching disabled", "error", err)
		watcher.Close()
		close(done)
		return done
	}

	go func() {
		defer close(done)
		defer watcher.Close()

		var debounce *time.Timer
		var debounceCh <-chan time.Time

		for {
			select {
			case <-ctx.Done():
				return

			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(g.configPath) {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
					continue
				}
				if debounce == nil {
					debounce = time.NewTimer(reloadDebounce)
				} else {
					debounce.Reset(reloadDebounce)
				}
				debounceCh = debounce.C

			case <-debounceCh:
				debounceCh = nil
				g.reloadConfig(ctx)

			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return done
}

// reloadConfig re-reads the config file and refreshes the manager.
func (g *Gateway) reloadConfig(ctx context.Context) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		g.logger.Warn("config reload failed, keeping previous config", "error", err)
		return
	}

	g.logger.Info("config changed, refreshing mcp servers")
	g.mu.Lock()
	g.config = cfg
	g.mu.Unlock()
	if err := g.manager.Refresh(ctx, providersFromConfig(cfg)); err != nil {
		g.logger.Error("mcp refresh failed", "error", err)
	}
}

// handleHealth responds to GET /health.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
