// Package mcp implements the Model Context Protocol client runtime for external tool servers.
//
// # Overview
//
// MCP (Model Context Protocol) is a standard for AI tool integration. This package
// spawns configured MCP server processes, speaks JSON-RPC 2.0 with them over
// stdin/stdout, and aggregates the tools they advertise into a single namespaced
// catalog that the gateway exposes to callers.
//
// # Protocol
//
// Each server is a child process. Messages are single-line JSON objects delimited
// by newlines. The client drives the standard MCP session:
//
//   - initialize            - handshake, exchange of client/server info
//   - notifications/initialized - client signals the handshake is complete
//   - tools/list            - discover the server's tools
//   - tools/call            - invoke one tool
//
// Servers may push notifications/tools/list_changed at any time, which triggers
// rediscovery and a catalog rebuild.
//
// # Namespacing
//
// Every discovered tool is published under the name "mcp_<server>_<tool>", so
// tools from different servers never collide. Server names must not contain
// underscores; the config loader and Manager both reject them.
//
// # Security
//
// Server processes are only spawned when their executable is on the allow-list,
// and they receive a minimal environment built from scratch rather than the
// gateway's own environment. See SecurityGate.
//
// # Architecture
//
// Components:
//
//   - Connection: one child process, its read loop, and request correlation
//   - Manager: the set of connections plus the aggregated tool catalog
//   - SecurityGate: command allow-list and child environment construction
//
// # Usage
//
// Create a manager and initialize it from config:
//
//	mgr := mcp.NewManager(mcp.ManagerConfig{Gate: gate, Logger: logger})
//	mgr.Initialize(ctx, providers)
//	defs := mgr.ToolDefinitions()
//	out := mgr.ExecuteTool(ctx, "mcp_github_search_issues", args)
//
// ExecuteTool never returns an error: every failure mode is flattened into a
// descriptive "Error: ..." string so callers can hand the text straight back to
// a model.
package mcp
