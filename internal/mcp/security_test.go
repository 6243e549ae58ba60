// ABOUTME: Tests for the command allow-list and child environment construction.
// ABOUTME: Verifies secret exclusion, PATH widening, and basename matching.

package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApproveBuiltinCommands(t *testing.T) {
	gate := NewSecurityGate(nil)

	for _, cmd := range []string{"node", "npx", "python3", "uvx", "docker"} {
		assert.NoError(t, gate.Approve(cmd), cmd)
	}
}

func TestApproveRejectsUnknownCommand(t *testing.T) {
	gate := NewSecurityGate(nil)

	err := gate.Approve("curl")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allow-list")
}

func TestApproveMatchesByBasename(t *testing.T) {
	gate := NewSecurityGate(nil)

	assert.NoError(t, gate.Approve("/usr/local/bin/node"))
	assert.Error(t, gate.Approve("/usr/bin/curl"))
}

func TestApproveUserExtensions(t *testing.T) {
	gate := NewSecurityGate([]string{"my-mcp-server", "  "})

	assert.NoError(t, gate.Approve("my-mcp-server"))
	// Builtins survive user extensions.
	assert.NoError(t, gate.Approve("node"))
}

func TestApproveEmptyCommand(t *testing.T) {
	gate := NewSecurityGate(nil)

	assert.Error(t, gate.Approve(""))
	assert.Error(t, gate.Approve("   "))
}

func TestEnvironmentExcludesSecrets(t *testing.T) {
	t.Setenv("SUPER_SECRET_API_KEY", "hunter2")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "aws-secret")
	t.Setenv("HOME", "/home/test")

	gate := NewSecurityGate(nil)
	env := gate.Environment(nil)

	for _, kv := range env {
		assert.False(t, strings.HasPrefix(kv, "SUPER_SECRET_API_KEY="), "secret leaked: %s", kv)
		assert.False(t, strings.HasPrefix(kv, "AWS_SECRET_ACCESS_KEY="), "secret leaked: %s", kv)
	}
	assert.Contains(t, env, "HOME=/home/test")
}

func TestEnvironmentOverlaysProviderVars(t *testing.T) {
	gate := NewSecurityGate(nil)

	env := gate.Environment(map[string]string{"GITHUB_TOKEN": "ghp_test"})

	assert.Contains(t, env, "GITHUB_TOKEN=ghp_test")
}

func TestEnvironmentProviderVarsWin(t *testing.T) {
	t.Setenv("LANG", "en_US.UTF-8")

	gate := NewSecurityGate(nil)
	env := gate.Environment(map[string]string{"LANG": "C"})

	assert.Contains(t, env, "LANG=C")
	assert.NotContains(t, env, "LANG=en_US.UTF-8")
}

func TestEnvironmentWidensPath(t *testing.T) {
	t.Setenv("PATH", "/custom/bin")

	gate := NewSecurityGate(nil)
	env := gate.Environment(nil)

	var path string
	for _, kv := range env {
		if after, ok := strings.CutPrefix(kv, "PATH="); ok {
			path = after
		}
	}
	require.NotEmpty(t, path)
	assert.True(t, strings.HasPrefix(path, "/custom/bin"), "parent PATH entries come first: %s", path)
	assert.Contains(t, path, "/usr/local/bin")
	assert.Contains(t, path, "/usr/bin")
}

func TestWidenPathDeduplicates(t *testing.T) {
	path := widenPath("/usr/bin:/usr/bin:/usr/local/bin")

	assert.Equal(t, 1, strings.Count(path, "/usr/bin:"), path)
}
