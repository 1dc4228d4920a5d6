package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp(t.TempDir(), "test-config-*.yaml")
	require.NoError(t, err)
	_, err = tmpfile.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, tmpfile.Close())
	return tmpfile.Name()
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 3, cfg.Player.TransportRetries)
	assert.Equal(t, 500*time.Millisecond, cfg.Player.ReconnectSettle)
	assert.Equal(t, time.Second, cfg.Player.Buffer.CatchUpReset)
	assert.Equal(t, 500*time.Millisecond, cfg.Player.Buffer.CatchUpGap)
	assert.Equal(t, 400*time.Millisecond, cfg.Player.Buffer.CatchUpBackoff)
	assert.Equal(t, 5, cfg.Player.Buffer.SkipCount)
	assert.Equal(t, 20*time.Second, cfg.Player.Buffer.EvictAfter)
	assert.Equal(t, 10*time.Second, cfg.Player.Buffer.EvictKeep)
	assert.Equal(t, 300*time.Millisecond, cfg.Player.Buffer.ReinitDelay)
	assert.Equal(t, 3, cfg.Player.Ingest.MaxReconnects)
	assert.Equal(t, time.Minute, cfg.Player.Ingest.ReconnectWindow)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Redis.Addresses)
}

func TestLoadConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  http_port: 9000
  rate_limit: 0

logging:
  level: "debug"
  format: "text"

player:
  url: "ws://camera.local:8080/live"
  channel_id: 2
  buffer:
    skip_count: 7
    max_recoveries: 0

mqtt:
  enabled: true
  broker: "broker.local:1883"
  client_id: "camview-test"
  topic_prefix: "site/a"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, float64(0), cfg.Server.RateLimit)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "ws://camera.local:8080/live", cfg.Player.URL)
	assert.Equal(t, 2, cfg.Player.ChannelID)
	assert.Equal(t, 7, cfg.Player.Buffer.SkipCount)
	assert.Equal(t, 0, cfg.Player.Buffer.MaxRecoveries)
	assert.True(t, cfg.MQTT.Enabled)
	assert.Equal(t, "site/a", cfg.MQTT.TopicPrefix)

	// Untouched sections keep their defaults
	assert.Equal(t, 500*time.Millisecond, cfg.Player.Buffer.CatchUpGap)
	assert.Equal(t, 9090, cfg.Metrics.Port)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := writeConfig(t, `
player:
  channel_id: 1
`)
	t.Setenv("CAMVIEW_PLAYER_CHANNEL_ID", "4")
	t.Setenv("CAMVIEW_LOGGING_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Player.ChannelID)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := Load("/nonexistent/camview.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read config")

	path := writeConfig(t, `
server:
  enable_http3: true
  tls_cert_file: "missing-cert.pem"
  tls_key_file: "missing-key.pem"
`)
	cfg, err := Load(path)
	assert.Error(t, err) // Should fail on validation (missing cert files)
	assert.Nil(t, cfg)
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "defaults",
			mutate: func(c *Config) {},
		},
		{
			name:    "invalid server port",
			mutate:  func(c *Config) { c.Server.HTTPPort = 0 },
			wantErr: true,
			errMsg:  "invalid HTTP port",
		},
		{
			name:    "rate limit without burst",
			mutate:  func(c *Config) { c.Server.RateLimitBurst = 0 },
			wantErr: true,
			errMsg:  "rate_limit_burst",
		},
		{
			name: "http3 without cert",
			mutate: func(c *Config) {
				c.Server.EnableHTTP3 = true
				c.Server.TLSKeyFile = "key.pem"
			},
			wantErr: true,
			errMsg:  "TLS certificate file is required",
		},
		{
			name: "http3 cert files not found",
			mutate: func(c *Config) {
				c.Server.EnableHTTP3 = true
				c.Server.TLSCertFile = "/nonexistent/cert.pem"
				c.Server.TLSKeyFile = "/nonexistent/key.pem"
			},
			wantErr: true,
			errMsg:  "TLS certificate file not found",
		},
		{
			name: "redis heartbeat longer than ttl",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.HeartbeatInterval = 2 * time.Minute
			},
			wantErr: true,
			errMsg:  "heartbeat_interval",
		},
		{
			name: "redis disabled skips checks",
			mutate: func(c *Config) {
				c.Redis.Addresses = nil
			},
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
			errMsg:  "invalid log level",
		},
		{
			name: "file output without max size",
			mutate: func(c *Config) {
				c.Logging.Output = "/var/log/camview.log"
				c.Logging.MaxSize = 0
			},
			wantErr: true,
			errMsg:  "max_size",
		},
		{
			name: "mqtt qos out of range",
			mutate: func(c *Config) {
				c.MQTT.Enabled = true
				c.MQTT.QoS = 3
			},
			wantErr: true,
			errMsg:  "invalid qos",
		},
		{
			name:    "zero transport retries",
			mutate:  func(c *Config) { c.Player.TransportRetries = 0 },
			wantErr: true,
			errMsg:  "transport_retries",
		},
		{
			name:    "catch-up gap above reset",
			mutate:  func(c *Config) { c.Player.Buffer.CatchUpGap = 2 * time.Second },
			wantErr: true,
			errMsg:  "catch_up_reset",
		},
		{
			name:    "evict keep above evict after",
			mutate:  func(c *Config) { c.Player.Buffer.EvictKeep = 30 * time.Second },
			wantErr: true,
			errMsg:  "evict_after",
		},
		{
			name:    "negative max recoveries",
			mutate:  func(c *Config) { c.Player.Buffer.MaxRecoveries = -1 },
			wantErr: true,
			errMsg:  "max_recoveries",
		},
		{
			name:    "ingest max delay below base",
			mutate:  func(c *Config) { c.Player.Ingest.MaxDelay = 100 * time.Millisecond },
			wantErr: true,
			errMsg:  "base_delay",
		},
		{
			name:    "capture default beyond max",
			mutate:  func(c *Config) { c.Player.Capture.DefaultDuration = time.Hour },
			wantErr: true,
			errMsg:  "capture max_duration",
		},
		{
			name:    "snapshot quality",
			mutate:  func(c *Config) { c.Player.Snapshot.Quality = 0 },
			wantErr: true,
			errMsg:  "snapshot quality",
		},
		{
			name:    "empty artifacts dir",
			mutate:  func(c *Config) { c.Artifacts.Dir = "" },
			wantErr: true,
			errMsg:  "artifacts dir",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				if err != nil {
					assert.Contains(t, err.Error(), tt.errMsg)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
