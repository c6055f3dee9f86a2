package model

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 64, cfg.Gateway.QueueSize)
	assert.Equal(t, "drop_oldest", cfg.Gateway.Overflow)
	assert.Equal(t, 120*time.Second, cfg.Gateway.Retry)
	assert.True(t, cfg.Sync.Enabled)
	assert.Equal(t, 100, cfg.Sync.MaxMessages)
	assert.False(t, cfg.PubSub.Enabled)
}

func TestLoadConfigFileEnvAndFlags(t *testing.T) {
	path := writeConfig(t, `
http:
  addr: ":7000"
auth:
  jwt_secret: file-secret
gateway:
  overflow: disconnect
  heartbeat: 5s
sync:
  concurrency: 8
`)
	t.Setenv("CRMSYNC_SYNC_CONCURRENCY", "2")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.Bool("no-schedule", false, "")
	require.NoError(t, fs.Parse([]string{"--addr", ":9000", "--no-schedule"}))

	cfg, err := LoadConfig(path, fs)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTP.Addr)
	assert.Equal(t, "disconnect", cfg.Gateway.Overflow)
	assert.Equal(t, 5*time.Second, cfg.Gateway.Heartbeat)
	assert.Equal(t, 2, cfg.Sync.Concurrency)
	assert.False(t, cfg.Sync.Enabled)

	// The CSRF secret falls back to the JWT secret.
	assert.Equal(t, "file-secret", cfg.Auth.CSRFSecret)
}

func TestLoadConfigUnsetFlagKeepsFileValue(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":7000\"\n")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("addr", ":8080", "")
	fs.Bool("no-schedule", false, "")
	require.NoError(t, fs.Parse(nil))

	cfg, err := LoadConfig(path, fs)
	require.NoError(t, err)
	assert.Equal(t, ":7000", cfg.HTTP.Addr)
	assert.True(t, cfg.Sync.Enabled)
}

func TestLoadConfigRejectsBrokenYAML(t *testing.T) {
	path := writeConfig(t, "http: [")
	_, err := LoadConfig(path, nil)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "auth.jwt_secret is required")

	cfg.Auth.JWTSecret = "s"
	assert.NoError(t, cfg.Validate())

	cfg.Database.Driver = "mysql"
	cfg.Gateway.Overflow = "block"
	cfg.PubSub.Enabled = true
	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `database.driver "mysql"`)
	assert.Contains(t, err.Error(), `gateway.overflow "block"`)
	assert.Contains(t, err.Error(), "pubsub.project_id")
}
