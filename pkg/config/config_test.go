package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bastion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, ModeRemote, cfg.Backend.Mode)
	assert.Equal(t, 30*time.Second, cfg.Registry.AuthTimeout.Std())
	assert.Equal(t, 45*time.Second, cfg.Registry.PingInterval.Std())
	assert.Equal(t, 2*time.Second, cfg.Console.PollInterval.Std())
	assert.Equal(t, 60*time.Second, cfg.Scheduler.TickInterval.Std())
}

func TestLoadOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":9090"
log:
  level: debug
  json: false
registry:
  auth_timeout: 10s
console:
  poll_interval: 500ms
backend:
  mode: local
  containerd_socket: /tmp/containerd.sock
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Listen)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.False(t, cfg.Log.JSON)
	assert.Equal(t, 10*time.Second, cfg.Registry.AuthTimeout.Std())
	assert.Equal(t, 500*time.Millisecond, cfg.Console.PollInterval.Std())
	assert.Equal(t, ModeLocal, cfg.Backend.Mode)
	assert.Equal(t, "/tmp/containerd.sock", cfg.Backend.ContainerdSocket)

	// Untouched fields keep their defaults
	assert.Equal(t, 45*time.Second, cfg.Registry.PingInterval.Std())
	assert.Equal(t, "/var/lib/bastion", cfg.DataDir)
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfig(t, "registry:\n  auth_timeout: soon\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadBadMode(t *testing.T) {
	path := writeConfig(t, "backend:\n  mode: hybrid\n")

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/bastion.yaml")
	assert.Error(t, err)
}
