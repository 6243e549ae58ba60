// ABOUTME: Security gate for spawning MCP server processes.
// ABOUTME: Enforces a command allow-list and builds a minimal child environment.

package mcp

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// defaultAllowedCommands are the runtimes MCP servers are commonly shipped
// with. User config can extend this list but never replaces it.
var defaultAllowedCommands = []string{
	"node",
	"npx",
	"bun",
	"bunx",
	"deno",
	"python",
	"python3",
	"uv",
	"uvx",
	"docker",
}

// safeEnvVars are the only parent environment variables forwarded to server
// processes. Everything else (API keys, cloud credentials, tokens) stays out
// unless the provider config passes it explicitly.
var safeEnvVars = []string{
	"PATH",
	"HOME",
	"USER",
	"SHELL",
	"TERM",
	"LANG",
	"LC_ALL",
	"TMPDIR",
}

// wellKnownBinDirs are appended to PATH so runtimes installed outside the
// gateway's own PATH (homebrew, uv, nvm-less node installs) still resolve.
var wellKnownBinDirs = []string{
	"/usr/local/bin",
	"/opt/homebrew/bin",
	"/usr/bin",
	"/bin",
}

// SecurityGate decides which commands may be spawned as MCP servers and what
// environment they run with.
type SecurityGate struct {
	allowed map[string]struct{}
}

// NewSecurityGate builds a gate from the builtin allow-list plus any extra
// commands from user config.
func NewSecurityGate(extraCommands []string) *SecurityGate {
	allowed := make(map[string]struct{}, len(defaultAllowedCommands)+len(extraCommands))
	for _, cmd := range defaultAllowedCommands {
		allowed[cmd] = struct{}{}
	}
	for _, cmd := range extraCommands {
		cmd = strings.TrimSpace(cmd)
		if cmd != "" {
			allowed[filepath.Base(cmd)] = struct{}{}
		}
	}
	return &SecurityGate{allowed: allowed}
}

// Approve checks a command against the allow-list. The comparison uses the
// executable's basename, so "/usr/local/bin/node" and "node" are equivalent.
func (g *SecurityGate) Approve(command string) error {
	base := filepath.Base(strings.TrimSpace(command))
	if base == "" || base == "." || base == string(filepath.Separator) {
		return fmt.Errorf("empty command")
	}
	if _, ok := g.allowed[base]; !ok {
		return fmt.Errorf("command %q is not on the allow-list", base)
	}
	return nil
}

// Environment builds a child environment from scratch. Only the safe parent
// variables are carried over, PATH is widened with well-known install
// directories, and provider-specific variables are overlaid last so they win.
func (g *SecurityGate) Environment(extra map[string]string) []string {
	env := make(map[string]string, len(safeEnvVars)+len(extra))
	for _, key := range safeEnvVars {
		if val := os.Getenv(key); val != "" {
			env[key] = val
		}
	}

	env["PATH"] = widenPath(env["PATH"])

	for key, val := range extra {
		env[key] = val
	}

	keys := make([]string, 0, len(env))
	for key := range env {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+env[key])
	}
	return out
}

// widenPath appends the well-known bin directories (and ~/.local/bin) to the
// given PATH, skipping entries already present.
func widenPath(path string) string {
	seen := make(map[string]struct{})
	var parts []string
	for _, dir := range filepath.SplitList(path) {
		if dir == "" {
			continue
		}
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		parts = append(parts, dir)
	}

	candidates := append([]string{}, wellKnownBinDirs...)
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "bin"))
	}

	for _, dir := range candidates {
		if _, ok := seen[dir]; ok {
			continue
		}
		seen[dir] = struct{}{}
		parts = append(parts, dir)
	}

	return strings.Join(parts, string(filepath.ListSeparator))
}
