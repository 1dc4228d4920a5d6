package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Player    PlayerConfig    `mapstructure:"player"`
	Sink      SinkConfig      `mapstructure:"sink"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
}

type ServerConfig struct {
	HTTPPort        int           `mapstructure:"http_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	DebugEndpoints  bool          `mapstructure:"debug_endpoints"`

	// Requests per second per client, 0 disables limiting
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`

	// Optional HTTP/3 listener
	EnableHTTP3 bool   `mapstructure:"enable_http3"`
	HTTP3Port   int    `mapstructure:"http3_port"`
	TLSCertFile string `mapstructure:"tls_cert_file"`
	TLSKeyFile  string `mapstructure:"tls_key_file"`

	MaxIncomingStreams int64         `mapstructure:"max_incoming_streams"`
	MaxIdleTimeout     time.Duration `mapstructure:"max_idle_timeout"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Addresses    []string      `mapstructure:"addresses"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	MaxRetries   int           `mapstructure:"max_retries"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	PoolSize     int           `mapstructure:"pool_size"`

	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`   // json or text
	Output     string `mapstructure:"output"`   // stdout, stderr, or file path
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
	Port    int    `mapstructure:"port"`
}

type MQTTConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	Broker         string        `mapstructure:"broker"` // host:port
	ClientID       string        `mapstructure:"client_id"`
	Username       string        `mapstructure:"username"`
	Password       string        `mapstructure:"password"`
	TopicPrefix    string        `mapstructure:"topic_prefix"`
	QoS            byte          `mapstructure:"qos"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

type PlayerConfig struct {
	URL       string `mapstructure:"url"` // started at boot when set
	ChannelID int    `mapstructure:"channel_id"`

	// Orchestrator-level transport retries
	TransportRetries int `mapstructure:"transport_retries"`

	ReconnectSettle time.Duration `mapstructure:"reconnect_settle"`
	PauseTerminate  time.Duration `mapstructure:"pause_terminate"`

	Ingest   IngestConfig   `mapstructure:"ingest"`
	Decode   DecodeConfig   `mapstructure:"decode"`
	Buffer   BufferConfig   `mapstructure:"buffer"`
	Capture  CaptureConfig  `mapstructure:"capture"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
}

type IngestConfig struct {
	DialTimeout     time.Duration `mapstructure:"dial_timeout"`
	MaxReconnects   int           `mapstructure:"max_reconnects"` // per window
	ReconnectWindow time.Duration `mapstructure:"reconnect_window"`
	BaseDelay       time.Duration `mapstructure:"base_delay"`
	MaxDelay        time.Duration `mapstructure:"max_delay"`
	MaxJitter       time.Duration `mapstructure:"max_jitter"`
	QueueSize       int           `mapstructure:"queue_size"`
	ReadLimit       int64         `mapstructure:"read_limit"` // bytes per message
}

type DecodeConfig struct {
	QueueSize int `mapstructure:"queue_size"`
}

// BufferConfig holds the media buffer controller's tuning constants.
type BufferConfig struct {
	CatchUpReset   time.Duration `mapstructure:"catch_up_reset"`
	CatchUpGap     time.Duration `mapstructure:"catch_up_gap"`
	CatchUpBackoff time.Duration `mapstructure:"catch_up_backoff"`
	SkipCount      int           `mapstructure:"skip_count"`
	EvictAfter     time.Duration `mapstructure:"evict_after"`
	EvictKeep      time.Duration `mapstructure:"evict_keep"`
	ReinitDelay    time.Duration `mapstructure:"reinit_delay"`
	MaxRecoveries  int           `mapstructure:"max_recoveries"` // 0 = unbounded
}

type CaptureConfig struct {
	DefaultDuration time.Duration `mapstructure:"default_duration"`
	MaxDuration     time.Duration `mapstructure:"max_duration"`
}

type SnapshotConfig struct {
	SettleDelay bool `mapstructure:"settle_delay"`
	Quality     int  `mapstructure:"quality"`
}

type SinkConfig struct {
	RecordPath    string        `mapstructure:"record_path"` // empty discards appended media
	FFmpegPath    string        `mapstructure:"ffmpeg_path"`
	FFmpegTimeout time.Duration `mapstructure:"ffmpeg_timeout"`
}

type ArtifactsConfig struct {
	Dir string `mapstructure:"dir"`
}

// Load reads configuration from configPath, applying CAMVIEW_* environment
// overrides on top of the defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(configPath)

	v.SetEnvPrefix("CAMVIEW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// Default returns the built-in configuration without reading a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	// Defaults are static and always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.http_port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.debug_endpoints", false)
	v.SetDefault("server.rate_limit", 20.0)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.enable_http3", false)
	v.SetDefault("server.http3_port", 8443)
	v.SetDefault("server.max_incoming_streams", 100)
	v.SetDefault("server.max_idle_timeout", "30s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addresses", []string{"localhost:6379"})
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.read_timeout", "3s")
	v.SetDefault("redis.write_timeout", "3s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.session_ttl", "1m")
	v.SetDefault("redis.heartbeat_interval", "10s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 5)
	v.SetDefault("logging.max_age", 30)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")
	v.SetDefault("metrics.port", 9090)

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.broker", "localhost:1883")
	v.SetDefault("mqtt.client_id", "camview")
	v.SetDefault("mqtt.topic_prefix", "camview")
	v.SetDefault("mqtt.qos", 0)
	v.SetDefault("mqtt.connect_timeout", "5s")

	// Player defaults
	v.SetDefault("player.channel_id", 0)
	v.SetDefault("player.transport_retries", 3)
	v.SetDefault("player.reconnect_settle", "500ms")
	v.SetDefault("player.pause_terminate", "100ms")

	v.SetDefault("player.ingest.dial_timeout", "10s")
	v.SetDefault("player.ingest.max_reconnects", 3)
	v.SetDefault("player.ingest.reconnect_window", "1m")
	v.SetDefault("player.ingest.base_delay", "1s")
	v.SetDefault("player.ingest.max_delay", "10s")
	v.SetDefault("player.ingest.max_jitter", "300ms")
	v.SetDefault("player.ingest.queue_size", 64)
	v.SetDefault("player.ingest.read_limit", 8<<20)

	v.SetDefault("player.decode.queue_size", 64)

	v.SetDefault("player.buffer.catch_up_reset", "1s")
	v.SetDefault("player.buffer.catch_up_gap", "500ms")
	v.SetDefault("player.buffer.catch_up_backoff", "400ms")
	v.SetDefault("player.buffer.skip_count", 5)
	v.SetDefault("player.buffer.evict_after", "20s")
	v.SetDefault("player.buffer.evict_keep", "10s")
	v.SetDefault("player.buffer.reinit_delay", "300ms")
	v.SetDefault("player.buffer.max_recoveries", 5)

	v.SetDefault("player.capture.default_duration", "20s")
	v.SetDefault("player.capture.max_duration", "10m")

	v.SetDefault("player.snapshot.settle_delay", false)
	v.SetDefault("player.snapshot.quality", 90)

	// Sink defaults
	v.SetDefault("sink.record_path", "")
	v.SetDefault("sink.ffmpeg_path", "")
	v.SetDefault("sink.ffmpeg_timeout", "10s")

	// Artifact defaults
	v.SetDefault("artifacts.dir", "/var/lib/camview/artifacts")
}
