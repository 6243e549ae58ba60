// Package config handles configuration loading for toolgate.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from TOOLGATE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/toolgate/toolgate.yaml
//  3. ~/.config/toolgate/toolgate.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	servers:
//	  - name: "github"
//	    env:
//	      GITHUB_TOKEN: "${GITHUB_TOKEN}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	mcp:
//	  call_timeout: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "127.0.0.1:8080"   # local API
//
// MCP servers:
//
//	servers:
//	  - name: "github"              # no underscores; used in tool namespacing
//	    command: "npx"
//	    args: ["-y", "@modelcontextprotocol/server-github"]
//	    env:
//	      GITHUB_TOKEN: "${GITHUB_TOKEN}"
//	    enabled: true
//
// Security:
//
//	security:
//	  allowed_commands:             # extends the builtin allow-list
//	    - "my-custom-server"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Validation
//
// Load() validates:
//
//   - server.http_addr presence
//   - server names: non-empty, unique, no underscores
//   - command presence for enabled servers
//   - duration format validity
//
// # Usage
//
// Load configuration:
//
//	cfg, err := config.Load("/etc/toolgate/toolgate.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
