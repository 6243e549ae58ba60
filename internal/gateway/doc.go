// Package gateway orchestrates the toolgate server.
//
// # Overview
//
// The gateway owns the MCP manager and an HTTP server that exposes the
// aggregated tool catalog to local clients. It also watches the config file
// and rebuilds MCP connections when it changes.
//
// # Endpoints
//
//   - GET  /health      - liveness check
//   - GET  /api/tools   - the namespaced tool catalog
//   - POST /api/call    - invoke one tool by its namespaced name
//   - GET  /api/status  - connection and tool counts per server
//   - POST /api/refresh - re-read config and rebuild all connections
//
// # Call Semantics
//
// POST /api/call always answers 200 once the request parses and the name
// carries the MCP prefix. Tool failures (dead server, timeout, tool-reported
// errors) are flattened into the result text as "Error: ...", matching what
// a model would see.
//
// # Hot Reload
//
// The config file's directory is watched via fsnotify. Edits are debounced
// and then every MCP connection is torn down and respawned from the new
// config. A config that fails to parse or validate leaves the running setup
// untouched.
//
// # Usage
//
//	cfg, _ := config.Load(path)
//	gw := gateway.New(cfg, path, logger)
//	err := gw.Run(ctx)
package gateway
