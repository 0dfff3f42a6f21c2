package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetValue(t *testing.T) {
	cfg := Default()
	cfg.Model.Roles = map[string]string{"fix": "gpt-4o-mini"}

	tests := []struct {
		path string
		want string
	}{
		{"workflow.max_features", "3"},
		{"model.timeout", "1h0m0s"},
		{"model.temperature", "0.2"},
		{"ledger.prune_completed", "false"},
		{"lint.code_prefix", "clippy::"},
		{"model.roles.fix", "gpt-4o-mini"},
		{"model.roles.analyzer", ""},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := cfg.GetValue(tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := cfg.GetValue("workflow.nope")
	assert.ErrorContains(t, err, "unknown config key: workflow.nope")
	_, err = cfg.GetValue("workflow.max_features.deeper")
	assert.Error(t, err)
}

func TestSetValue(t *testing.T) {
	cfg := Default()

	require.NoError(t, cfg.SetValue("workflow.large_diff_threshold", "250"))
	require.NoError(t, cfg.SetValue("toolchain.timeout", "45m"))
	require.NoError(t, cfg.SetValue("ledger.prune_completed", "true"))
	require.NoError(t, cfg.SetValue("context.hot_paths", "src/search/**, src/eval/**"))
	require.NoError(t, cfg.SetValue("model.roles.fix", "gpt-4o-mini"))
	require.NoError(t, cfg.SetValue("model.temperature", "0.5"))

	assert.Equal(t, 250, cfg.Workflow.LargeDiffThreshold)
	assert.Equal(t, 45*time.Minute, cfg.Toolchain.Timeout)
	assert.True(t, cfg.Ledger.PruneCompleted)
	assert.Equal(t, []string{"src/search/**", "src/eval/**"}, cfg.Context.HotPaths)
	assert.Equal(t, "gpt-4o-mini", cfg.Model.Roles["fix"])
	assert.InDelta(t, 0.5, cfg.Model.Temperature, 0.0001)

	assert.Error(t, cfg.SetValue("workflow.max_features", "many"))
	assert.Error(t, cfg.SetValue("toolchain.timeout", "soon"))
	assert.Error(t, cfg.SetValue("ledger.prune_completed", "maybe"))
}

func TestAllConfigPaths(t *testing.T) {
	paths := AllConfigPaths()

	assert.Contains(t, paths, "model.name")
	assert.Contains(t, paths, "model.timeout")
	assert.Contains(t, paths, "workflow.large_diff_threshold")
	assert.Contains(t, paths, "journal.path")
	assert.NotContains(t, paths, "model", "sections are not leaves")

	cfg := Default()
	for _, p := range paths {
		_, err := cfg.GetValue(p)
		assert.NoError(t, err, p)
	}
}

func TestResolvePaths(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "/repo/.orchestrator_logs", cfg.Log.DiagnosticsDirIn("/repo"))
	assert.Equal(t, "/repo/orchestrator.log", cfg.Log.FileIn("/repo"))
	assert.Equal(t, "/var/db/h.db", ResolvePath("/repo", "/var/db/h.db"))
	assert.Equal(t, "", ResolvePath("/repo", ""))
}
