package infra

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigFromFile(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9000
  rate_limit: 25.5
policy:
  path: policies/main.yaml
  watch: true
store:
  backend: memory
audit:
  backend: none
  flush_interval: 250ms
redis:
  addr: localhost:6379
  pause_channel: policy:pause-signal
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 25.5, cfg.Server.RateLimit)
	assert.Equal(t, 50, cfg.Server.RateBurst)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "policies/main.yaml", cfg.Policy.Path)
	assert.True(t, cfg.Policy.Watch)
	assert.Equal(t, StoreMemory, cfg.Store.Backend)
	assert.Equal(t, RedisKeyCounters, cfg.Store.KeyPrefix)
	assert.Equal(t, 250*time.Millisecond, cfg.Audit.FlushInterval)
	assert.Equal(t, "policy:pause-signal", cfg.Redis.PauseChannel)
	assert.False(t, cfg.Auth.Enabled())
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, "store:\n  backend: memory\n")
	t.Setenv("SERVER_PORT", "9100")
	t.Setenv("AUTH_PUBLIC_KEY_DATA", "-----BEGIN PUBLIC KEY-----")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 9100, cfg.Server.Port)
	assert.True(t, cfg.Auth.Enabled())
}

func TestLoadConfigMissingExplicitFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"unknown store", "store:\n  backend: etcd\n"},
		{"redis without addr", "store:\n  backend: redis\n"},
		{"postgres without url", "store:\n  backend: postgres\n"},
		{"unknown audit", "store:\n  backend: memory\naudit:\n  backend: kafka\n"},
		{"pg audit without url", "store:\n  backend: memory\naudit:\n  backend: postgres\n"},
		{"pause without redis", "store:\n  backend: memory\nredis:\n  pause_channel: x\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.body))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(LoggerConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, l)

	_, err = NewLogger(LoggerConfig{Level: "loud"})
	assert.Error(t, err)
	_, err = NewLogger(LoggerConfig{Level: "info", Format: "xml"})
	assert.Error(t, err)
}
