package cli

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// listCommands runs `duckflow commands` with args and decodes the JSON output.
func listCommands(t *testing.T, args ...string) []CommandEntry {
	t.Helper()
	out, err := runCLI(t, nil, append([]string{"--output", "json", "commands"}, args...)...)
	require.NoError(t, err)

	var entries []CommandEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries), "output should be valid JSON")
	return entries
}

func TestCommands_ListAll(t *testing.T) {
	entries := listCommands(t)
	assert.Greater(t, len(entries), 25, "should list every leaf command")

	for _, e := range entries {
		assert.NotEmpty(t, e.Path)
		assert.NotEmpty(t, e.Group, e.Path)
		assert.NotEmpty(t, e.Short, e.Path)
		assert.Contains(t, []string{ScopeLocal, ScopeRemote}, e.Scope, e.Path)
	}

	// local commands are listed first
	firstRemote := -1
	for i, e := range entries {
		if e.Scope == ScopeRemote && firstRemote < 0 {
			firstRemote = i
		}
		if firstRemote >= 0 {
			assert.Equal(t, ScopeRemote, e.Scope, "%s listed after remote commands", e.Path)
		}
	}
}

func TestCommands_Scopes(t *testing.T) {
	tests := []struct {
		scope   string
		want    []string
		notWant []string
	}{
		{
			scope:   ScopeLocal,
			want:    []string{"run", "validate", "next-run", "version", "commands", "config show"},
			notWant: []string{"pipelines list", "stats"},
		},
		{
			scope:   ScopeRemote,
			want:    []string{"pipelines list", "executions cancel", "jobs disable", "stats"},
			notWant: []string{"run", "config show"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.scope, func(t *testing.T) {
			paths := map[string]bool{}
			for _, e := range listCommands(t, "--scope", tt.scope) {
				assert.Equal(t, tt.scope, e.Scope)
				paths[e.Path] = true
			}
			for _, p := range tt.want {
				assert.True(t, paths[p], "missing %q", p)
			}
			for _, p := range tt.notWant {
				assert.False(t, paths[p], "unexpected %q", p)
			}
		})
	}
}

func TestCommands_InvalidScope(t *testing.T) {
	_, err := runCLI(t, nil, "commands", "--scope", "cloud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --scope")
}

func TestCommands_Filter(t *testing.T) {
	entries := listCommands(t, "--filter", "schedule")
	require.NotEmpty(t, entries, "filter should match at least one command")
	for _, e := range entries {
		text := strings.ToLower(e.Path + " " + e.Short + " " + e.Long)
		assert.Contains(t, text, "schedule", e.Path)
	}

	assert.Empty(t, listCommands(t, "--filter", "zzz_nonexistent_xyz_999"))
}

func TestCommands_FilterGroup(t *testing.T) {
	entries := listCommands(t, "--group", "executions")
	assert.Len(t, entries, 8, "executions group should have its subcommands")
	for _, e := range entries {
		assert.Equal(t, "executions", e.Group)
		assert.Equal(t, ScopeRemote, e.Scope)
	}
}

func TestCommands_FilterAndGroup(t *testing.T) {
	entries := listCommands(t, "--group", "jobs", "--filter", "pause")
	require.Len(t, entries, 1, "should find the jobs disable command")
	assert.Equal(t, "jobs disable", entries[0].Path)
}

func TestCommands_HasFlagsAndArgs(t *testing.T) {
	var apply, execute *CommandEntry
	for _, e := range listCommands(t, "--filter", "pipelines") {
		switch e.Path {
		case "pipelines apply":
			apply = &e
		case "pipelines execute":
			execute = &e
		}
	}
	require.NotNil(t, apply, "pipelines apply not listed")
	require.NotNil(t, execute, "pipelines execute not listed")

	flags := map[string]FlagEntry{}
	for _, f := range apply.Flags {
		flags[f.Name] = f
	}
	require.Contains(t, flags, "file")
	assert.Equal(t, "f", flags["file"].Short)
	assert.True(t, flags["file"].Required, "file flag should be required")
	assert.Contains(t, flags, "activate")

	assert.NotEmpty(t, execute.Args, "execute takes a pipeline reference")
}

func TestCommands_TableOutput(t *testing.T) {
	out, err := runCLI(t, nil, "--output", "table", "commands", "--group", "pipelines")
	require.NoError(t, err)

	for _, header := range []string{"SCOPE", "PATH", "ARGS", "DESCRIPTION"} {
		assert.Contains(t, out, header)
	}
	assert.Contains(t, out, "pipelines execute")
	assert.Contains(t, out, ScopeRemote)
}
