package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsWithNoFileOrEnv(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Defaults().MaxWorkers, cfg.MaxWorkers)
	assert.Equal(t, time.Second, cfg.TickPeriod())
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_workers: 8\nstore_path: /tmp/custom.db\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxWorkers)
	assert.Equal(t, "/tmp/custom.db", cfg.StorePath)
}

func TestLoadEnvOverridesDefault(t *testing.T) {
	t.Setenv("SUPERVISOR_MAX_WORKERS", "16")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.MaxWorkers)
}

func TestValidateRejectsNegativeMaxWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.MaxWorkers = -1
	assert.Error(t, cfg.Validate())
}

func TestValidateAllowsZeroMaxWorkers(t *testing.T) {
	cfg := Defaults()
	cfg.MaxWorkers = 0
	assert.NoError(t, cfg.Validate())
}

func TestValidateResolvesRelativeOutputsRootToAbsolute(t *testing.T) {
	cfg := Defaults()
	cfg.OutputsRoot = "relative/path"
	require.NoError(t, cfg.Validate())
	assert.True(t, filepath.IsAbs(cfg.OutputsRoot))
}

func TestDurationHelpers(t *testing.T) {
	cfg := Config{
		TickPeriodSeconds:          1.5,
		HeartbeatPeriodSeconds:     2,
		HeartbeatTimeoutSeconds:    10,
		GracefulTerminationSeconds: 0.5,
		AbortEscalationSeconds:     30,
	}
	assert.Equal(t, 1500*time.Millisecond, cfg.TickPeriod())
	assert.Equal(t, 2*time.Second, cfg.HeartbeatPeriod())
	assert.Equal(t, 10*time.Second, cfg.HeartbeatTimeout())
	assert.Equal(t, 500*time.Millisecond, cfg.GracefulTermination())
	assert.Equal(t, 30*time.Second, cfg.AbortEscalation())
}
