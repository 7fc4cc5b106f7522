package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 5*time.Minute, cfg.Engine.RefreshInterval)
	assert.Equal(t, 100, cfg.Engine.AnomalyWindowSize)
	assert.Equal(t, 10*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, "alerts.db", cfg.Storage.Path)
	assert.False(t, cfg.Collector.Enabled)
}

func TestLoad_File(t *testing.T) {
	dir := t.TempDir()
	content := `
app:
  name: test-engine
engine:
  sweep_interval: 10s
  anomaly_window_size: 20
notify:
  timeout: 3s
  email:
    host: smtp.example.com
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "test-engine", cfg.App.Name)
	assert.Equal(t, 10*time.Second, cfg.Engine.SweepInterval)
	assert.Equal(t, 20, cfg.Engine.AnomalyWindowSize)
	assert.Equal(t, 3*time.Second, cfg.Notify.Timeout)
	assert.Equal(t, "smtp.example.com", cfg.Notify.Email.Host)
	assert.Equal(t, 587, cfg.Notify.Email.Port)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ALERTD_STORAGE_PATH", "/tmp/override.db")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/override.db", cfg.Storage.Path)
}

func TestLoad_Invalid(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("engine:\n  sweep_interval: 0s\n"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
}
