package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, dir, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "planloom.yaml"), []byte(content), 0644))
}

func TestInitialize_NoConfigFile(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	// Built-ins apply wholesale
	assert.Equal(t, 3, cfg.Scheduler.MaxParallel)
	assert.Equal(t, 3, cfg.Scheduler.DefaultMaxRetries)
	assert.Equal(t, 4, cfg.Scheduler.EscalationPriorityThreshold)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.StalledThreshold)

	assert.True(t, cfg.Agents.Has("builder"))
	assert.True(t, cfg.Agents.Has("researcher"))

	policy := cfg.Policies.Lookup("nonexistent_kind")
	require.NotNil(t, policy)
	assert.Equal(t, 5*time.Minute, policy.Timeout)
}

func TestInitialize_UserOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
scheduler:
  max_parallel: 5
agents:
  translator:
    description: "Translates text between languages"
    specialties: ["translate", "localize"]
    capabilities:
      translation: 0.9
policies:
  batch:
    timeout: 10m
    max_retries: 2
    retry_delay: 5s
    exponential_backoff: true
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	// Overridden value
	assert.Equal(t, 5, cfg.Scheduler.MaxParallel)
	// Unset values keep defaults
	assert.Equal(t, 3, cfg.Scheduler.DefaultMaxRetries)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.StalledThreshold)

	// New agent joins the built-ins
	assert.True(t, cfg.Agents.Has("translator"))
	assert.True(t, cfg.Agents.Has("builder"))

	batch, err := cfg.Policies.Get("batch")
	require.NoError(t, err)
	assert.Equal(t, 10*time.Minute, batch.Timeout)
	assert.Equal(t, 2, batch.MaxRetries)
}

func TestInitialize_AgentOrderDeterministic(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, `
agents:
  zeta:
    specialties: ["z"]
  alpha:
    specialties: ["a"]
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	names := cfg.Agents.Names()
	// Built-in order first, new user profiles sorted after
	require.GreaterOrEqual(t, len(names), 7)
	assert.Equal(t, "builder", names[0])
	assert.Equal(t, "alpha", names[len(names)-2])
	assert.Equal(t, "zeta", names[len(names)-1])
}

func TestInitialize_EnvExpansion(t *testing.T) {
	t.Setenv("PLANLOOM_MAX_PARALLEL", "7")

	dir := t.TempDir()
	writeConfigFile(t, dir, `
scheduler:
  max_parallel: {{.PLANLOOM_MAX_PARALLEL}}
`)

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Scheduler.MaxParallel)
}

func TestInitialize_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	writeConfigFile(t, dir, "scheduler: [not a map")

	_, err := Initialize(context.Background(), dir)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidYAML)
}

func TestInitialize_ValidationFailure(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "zero max_parallel",
			yaml:    "scheduler:\n  max_parallel: -1",
			wantMsg: "max_parallel",
		},
		{
			name: "capability out of range",
			yaml: `
agents:
  broken:
    specialties: ["x"]
    capabilities:
      foo: 1.5
`,
			wantMsg: "capabilities",
		},
		{
			name: "policy without timeout",
			yaml: `
policies:
  broken:
    max_retries: 1
`,
			wantMsg: "timeout",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			writeConfigFile(t, dir, tt.yaml)

			_, err := Initialize(context.Background(), dir)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidationFailed)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestStats(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	stats := cfg.Stats()
	assert.Equal(t, 5, stats.AgentProfiles)
	assert.Equal(t, 4, stats.PolicyKinds)
	assert.Greater(t, stats.SafetyPatterns, 30)
}
