package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_DefaultsWithoutFile(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8080/api/v1", cfg.Server.APIBaseURL)
	assert.Equal(t, 3*time.Second, cfg.Sync.ReconnectDelay)
	assert.Equal(t, 5*time.Second, cfg.Sync.FetchTimeout)
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.RefreshAfterCommand)
	assert.Equal(t, 60*time.Second, cfg.Sync.ReadTimeout)
	assert.Equal(t, 10*time.Second, cfg.Sync.WriteTimeout)
	assert.Equal(t, "splendor_client", cfg.Monitor.Namespace)
}

func TestLoadConfig_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	yaml := `
server:
  api_base_url: http://games.example:9000/api/v1
  ws_base_url: wss://games.example:9000
sync:
  reconnect_delay: 250ms
  poll_interval: 10s
auth:
  player_id: 42
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o600))

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)

	assert.Equal(t, "wss://games.example:9000", cfg.Server.WSBaseURL)
	assert.Equal(t, 250*time.Millisecond, cfg.Sync.ReconnectDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.PollInterval)
	assert.Equal(t, int64(42), cfg.Auth.PlayerID)
	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, cfg.Sync.HandshakeTimeout)
}

func TestLoadConfig_EnvOverride(t *testing.T) {
	t.Setenv("SPLENDOR_AUTH_TOKEN_FILE", "/tmp/other-token")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "/tmp/other-token", cfg.Auth.TokenFile)
}

func TestLoadConfig_MalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unterminated"), 0o600))

	_, err := LoadConfig(dir)
	assert.Error(t, err)
}
