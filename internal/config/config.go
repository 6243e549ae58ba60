// ABOUTME: Configuration loading and parsing for toolgate
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete toolgate configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	MCP      MCPConfig      `yaml:"mcp"`
	Security SecurityConfig `yaml:"security"`
	Servers  []MCPServer    `yaml:"servers"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the gateway's own listen address
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// MCPConfig holds protocol-level timing configuration
type MCPConfig struct {
	CallTimeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	CallTimeoutRaw string `yaml:"call_timeout"`
}

// SecurityConfig extends the builtin command allow-list
type SecurityConfig struct {
	AllowedCommands []string `yaml:"allowed_commands"`
}

// MCPServer describes one MCP server process to spawn
type MCPServer struct {
	Name    string            `yaml:"name"`
	Command string            `yaml:"command"`
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`

	// Enabled defaults to true when omitted
	Enabled *bool `yaml:"enabled"`
}

// IsEnabled reports whether this server should be spawned.
func (s MCPServer) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw YAML content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Parse duration fields
	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	// Match ${VAR_NAME} pattern
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	seen := make(map[string]struct{}, len(c.Servers))
	for i, s := range c.Servers {
		if s.Name == "" {
			return fmt.Errorf("servers[%d].name is required", i)
		}
		// The aggregated tool name is split at underscores, so a name
		// containing one would make routing ambiguous.
		if strings.Contains(s.Name, "_") {
			return fmt.Errorf("servers[%d].name %q must not contain underscores", i, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("servers[%d].name %q is a duplicate", i, s.Name)
		}
		seen[s.Name] = struct{}{}

		if s.IsEnabled() && s.Command == "" {
			return fmt.Errorf("servers[%d].command is required", i)
		}
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.MCP.CallTimeoutRaw != "" {
		cfg.MCP.CallTimeout, err = time.ParseDuration(cfg.MCP.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.MCP.CallTimeoutRaw, err)
		}
	}

	return nil
}
