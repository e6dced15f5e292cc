package gateway

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadConfigParsesDurations(t *testing.T) {
	path := writeConfigFile(t, `
server:
  port: "9090"
  allowed_origins:
    - "https://example.com"
  read_timeout: 5s
nats:
  url: nats://broker:4222
websocket:
  ping_interval: 15s
  max_message_size: 8192
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, []string{"https://example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout.Std())
	assert.Equal(t, "nats://broker:4222", cfg.NATS.URL)
	assert.Equal(t, 15*time.Second, cfg.WebSocket.PingInterval.Std())
	assert.Equal(t, int64(8192), cfg.WebSocket.MaxMessageSize)

	// Fields the file omits keep their defaults.
	assert.Equal(t, 10*time.Second, cfg.Server.WriteTimeout.Std())
	assert.Equal(t, 60*time.Second, cfg.WebSocket.ReadTimeout.Std())
}

func TestLoadConfigRejectsBadDuration(t *testing.T) {
	path := writeConfigFile(t, `
server:
  read_timeout: banana
`)

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestConnectionConfigFromOverrides(t *testing.T) {
	cfg := DefaultGatewayConfig()
	cfg.WebSocket.PingInterval = duration(7 * time.Second)
	cfg.WebSocket.MaxMessageSize = 0

	cc := cfg.ConnectionConfigFrom()
	assert.Equal(t, 7*time.Second, cc.PingInterval)
	assert.Equal(t, DefaultConnectionConfig().MaxMessageSize, cc.MaxMessageSize, "zero falls back to default")
}
