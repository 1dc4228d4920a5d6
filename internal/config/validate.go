package config

import (
	"fmt"
	"os"
)

func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Redis.Validate(); err != nil {
		return fmt.Errorf("redis config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	if err := c.MQTT.Validate(); err != nil {
		return fmt.Errorf("mqtt config: %w", err)
	}

	if err := c.Player.Validate(); err != nil {
		return fmt.Errorf("player config: %w", err)
	}

	if c.Artifacts.Dir == "" {
		return fmt.Errorf("artifacts dir cannot be empty")
	}

	return nil
}

func (s *ServerConfig) Validate() error {
	if s.HTTPPort < 1 || s.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", s.HTTPPort)
	}

	if s.RateLimit < 0 {
		return fmt.Errorf("rate_limit cannot be negative")
	}

	if s.RateLimit > 0 && s.RateLimitBurst <= 0 {
		return fmt.Errorf("rate_limit_burst must be positive when rate limiting is enabled")
	}

	if !s.EnableHTTP3 {
		return nil
	}

	if s.HTTP3Port < 1 || s.HTTP3Port > 65535 {
		return fmt.Errorf("invalid HTTP3 port: %d", s.HTTP3Port)
	}

	if s.TLSCertFile == "" {
		return fmt.Errorf("TLS certificate file is required for HTTP/3")
	}

	if s.TLSKeyFile == "" {
		return fmt.Errorf("TLS key file is required for HTTP/3")
	}

	if _, err := os.Stat(s.TLSCertFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS certificate file not found: %s", s.TLSCertFile)
	}

	if _, err := os.Stat(s.TLSKeyFile); os.IsNotExist(err) {
		return fmt.Errorf("TLS key file not found: %s", s.TLSKeyFile)
	}

	if s.MaxIncomingStreams <= 0 {
		return fmt.Errorf("max_incoming_streams must be positive")
	}

	return nil
}

func (r *RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}

	if len(r.Addresses) == 0 {
		return fmt.Errorf("at least one Redis address is required")
	}

	if r.DB < 0 {
		return fmt.Errorf("invalid Redis database number: %d", r.DB)
	}

	if r.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative")
	}

	if r.PoolSize <= 0 {
		return fmt.Errorf("pool_size must be positive")
	}

	if r.SessionTTL <= 0 {
		return fmt.Errorf("session_ttl must be positive")
	}

	if r.HeartbeatInterval <= 0 || r.HeartbeatInterval >= r.SessionTTL {
		return fmt.Errorf("heartbeat_interval must be positive and shorter than session_ttl")
	}

	return nil
}

func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"panic": true,
		"fatal": true,
		"error": true,
		"warn":  true,
		"info":  true,
		"debug": true,
		"trace": true,
	}

	if !validLevels[l.Level] {
		return fmt.Errorf("invalid log level: %s", l.Level)
	}

	if l.Format != "json" && l.Format != "text" {
		return fmt.Errorf("log format must be 'json' or 'text'")
	}

	if l.Output != "stdout" && l.Output != "stderr" {
		if l.MaxSize <= 0 {
			return fmt.Errorf("max_size must be positive for file output")
		}
		if l.MaxBackups < 0 {
			return fmt.Errorf("max_backups cannot be negative")
		}
		if l.MaxAge < 0 {
			return fmt.Errorf("max_age cannot be negative")
		}
	}

	return nil
}

func (m *MetricsConfig) Validate() error {
	if m.Enabled {
		if m.Port < 1 || m.Port > 65535 {
			return fmt.Errorf("invalid metrics port: %d", m.Port)
		}

		if m.Path == "" {
			return fmt.Errorf("metrics path cannot be empty")
		}
	}

	return nil
}

func (m *MQTTConfig) Validate() error {
	if !m.Enabled {
		return nil
	}

	if m.Broker == "" {
		return fmt.Errorf("broker cannot be empty")
	}

	if m.ClientID == "" {
		return fmt.Errorf("client_id cannot be empty")
	}

	if m.QoS > 2 {
		return fmt.Errorf("invalid qos: %d", m.QoS)
	}

	return nil
}

func (p *PlayerConfig) Validate() error {
	if p.TransportRetries < 1 {
		return fmt.Errorf("transport_retries must be at least 1")
	}

	if p.ReconnectSettle < 0 || p.PauseTerminate < 0 {
		return fmt.Errorf("delays cannot be negative")
	}

	if err := p.Ingest.Validate(); err != nil {
		return fmt.Errorf("ingest config: %w", err)
	}

	if p.Decode.QueueSize <= 0 {
		return fmt.Errorf("decode queue_size must be positive")
	}

	if err := p.Buffer.Validate(); err != nil {
		return fmt.Errorf("buffer config: %w", err)
	}

	if p.Capture.DefaultDuration < 0 || p.Capture.MaxDuration < p.Capture.DefaultDuration {
		return fmt.Errorf("capture max_duration (%v) must be >= default_duration (%v)",
			p.Capture.MaxDuration, p.Capture.DefaultDuration)
	}

	if p.Snapshot.Quality < 1 || p.Snapshot.Quality > 100 {
		return fmt.Errorf("snapshot quality must be between 1 and 100")
	}

	return nil
}

func (i *IngestConfig) Validate() error {
	if i.DialTimeout <= 0 {
		return fmt.Errorf("dial_timeout must be positive")
	}

	if i.MaxReconnects < 0 {
		return fmt.Errorf("max_reconnects cannot be negative")
	}

	if i.BaseDelay <= 0 || i.MaxDelay < i.BaseDelay {
		return fmt.Errorf("base_delay must be positive and <= max_delay")
	}

	if i.QueueSize <= 0 {
		return fmt.Errorf("queue_size must be positive")
	}

	return nil
}

func (b *BufferConfig) Validate() error {
	if b.CatchUpGap <= 0 || b.CatchUpReset < b.CatchUpGap {
		return fmt.Errorf("catch_up_reset (%v) must be >= catch_up_gap (%v) > 0", b.CatchUpReset, b.CatchUpGap)
	}

	if b.CatchUpBackoff <= 0 || b.CatchUpBackoff > b.CatchUpGap {
		return fmt.Errorf("catch_up_backoff must be positive and <= catch_up_gap")
	}

	if b.SkipCount < 0 {
		return fmt.Errorf("skip_count cannot be negative")
	}

	if b.EvictKeep <= 0 || b.EvictAfter <= b.EvictKeep {
		return fmt.Errorf("evict_after (%v) must be > evict_keep (%v) > 0", b.EvictAfter, b.EvictKeep)
	}

	if b.ReinitDelay <= 0 {
		return fmt.Errorf("reinit_delay must be positive")
	}

	if b.MaxRecoveries < 0 {
		return fmt.Errorf("max_recoveries cannot be negative")
	}

	return nil
}
