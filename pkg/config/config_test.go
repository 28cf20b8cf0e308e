package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"commhub/pkg/config"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, yaml string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "commhub.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	return path
}

func TestLoadParsesDurationsAndSizes(t *testing.T) {
	path := writeConfig(t, `
server:
  address: "0.0.0.0"
  port: 9090
  db_path: /var/lib/commhub
security:
  signing_keys: ["k1", "k2"]
  rate_limit:
    rps: 50
    burst: 100
logging:
  level: debug
realtime:
  pong_wait: 45s
  ping_period: 30s
  write_wait: 5s
  max_message_size: 64KB
  send_buffer: 512
retention:
  enabled: true
  cron: "0 3 * * *"
  batch_size: 200
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	require.Equal(t, "0.0.0.0:9090", cfg.Addr())
	require.Equal(t, "/var/lib/commhub", cfg.Server.DBPath)
	require.Equal(t, []string{"k1", "k2"}, cfg.Security.SigningKeys)
	require.Equal(t, 50.0, cfg.Security.RateLimit.RPS)
	require.Equal(t, 45*time.Second, cfg.Realtime.PongWait.Duration())
	require.Equal(t, int64(64*1024), cfg.Realtime.MaxMessageSize.Int64())
	require.Equal(t, 512, cfg.Realtime.SendBuffer)
	require.True(t, cfg.Retention.Enabled)
	require.Equal(t, "0 3 * * *", cfg.Retention.Cron)
}

func TestDurationAcceptsBareSeconds(t *testing.T) {
	path := writeConfig(t, `
realtime:
  pong_wait: 45
  ping_period: 1.5
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.Equal(t, 45*time.Second, cfg.Realtime.PongWait.Duration())
	require.Equal(t, 1500*time.Millisecond, cfg.Realtime.PingPeriod.Duration())
}

func TestLoadRejectsBadDuration(t *testing.T) {
	path := writeConfig(t, `
realtime:
  pong_wait: soon
`)
	_, err := config.Load(path)
	require.Error(t, err)
}

func TestAddrCombinations(t *testing.T) {
	cases := []struct {
		address string
		port    int
		want    string
	}{
		{"", 0, ":8080"},
		{":9000", 0, ":9000"},
		{"127.0.0.1:9000", 1234, "127.0.0.1:9000"},
		{"127.0.0.1", 9000, "127.0.0.1:9000"},
		{"127.0.0.1", 0, "127.0.0.1"},
	}
	for _, c := range cases {
		cfg := &config.Config{}
		cfg.Server.Address = c.address
		cfg.Server.Port = c.port
		require.Equal(t, c.want, cfg.Addr(), "address=%q port=%d", c.address, c.port)
	}
}

func TestLoadEffectiveEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  address: ":8080"
security:
  signing_keys: ["file-key"]
`)
	t.Setenv("COMMHUB_ADDR", ":9999")
	t.Setenv("COMMHUB_SIGNING_KEYS", "env-key-1, env-key-2")
	t.Setenv("COMMHUB_RATE_RPS", "5")

	cfg, keys, envUsed, err := config.LoadEffective(path)
	require.NoError(t, err)
	require.True(t, envUsed)
	require.Equal(t, ":9999", cfg.Server.Address)
	require.Equal(t, 5.0, cfg.Security.RateLimit.RPS)
	require.Contains(t, keys, "env-key-1")
	require.Contains(t, keys, "env-key-2")
	require.NotContains(t, keys, "file-key")
}

func TestLoadEffectiveMissingFile(t *testing.T) {
	cfg, keys, envUsed, err := config.LoadEffective(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.False(t, envUsed)
	require.Empty(t, keys)
	require.Equal(t, ":8080", cfg.Addr())
}

func TestSigningKeyRuntimeIsolation(t *testing.T) {
	config.SetRuntime(&config.RuntimeConfig{
		SigningKeys: map[string]struct{}{"k1": {}},
	})
	got := config.GetSigningKeys()
	got["injected"] = struct{}{}

	// the copy protects the canonical set
	require.NotContains(t, config.GetSigningKeys(), "injected")
}
