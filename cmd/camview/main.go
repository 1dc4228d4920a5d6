package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/zsiec/camview/internal/artifact"
	"github.com/zsiec/camview/internal/config"
	"github.com/zsiec/camview/internal/health"
	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/notify"
	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/eventloop"
	"github.com/zsiec/camview/internal/player/ingest"
	"github.com/zsiec/camview/internal/registry"
	"github.com/zsiec/camview/internal/server"
	"github.com/zsiec/camview/internal/sink/timeline"
	"github.com/zsiec/camview/pkg/version"
)

func main() {
	var (
		configPath  string
		streamURL   string
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "configs/default.yaml", "Path to configuration file")
	flag.StringVar(&streamURL, "url", "", "Stream URL to start at boot (overrides player.url)")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.Parse()

	if showVersion {
		fmt.Println(version.GetInfo().String())
		os.Exit(0)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if streamURL != "" {
		cfg.Player.URL = streamURL
	}

	logrusLogger, err := logger.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	log := logger.Base(logrusLogger)

	log.WithField("config_path", configPath).Info("Starting camview")

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("camview exited with error")
		os.Exit(1)
	}
	log.Info("Shutdown complete")
}

func run(cfg *config.Config, log logger.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	}()

	if cfg.Metrics.Enabled {
		go startMetricsServer(cfg.Metrics, log)
	}

	store, err := artifact.NewDirStore(cfg.Artifacts.Dir, log)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}

	recorder, closeRecorder, err := openRecorder(cfg.Sink.RecordPath)
	if err != nil {
		return fmt.Errorf("recorder: %w", err)
	}
	defer closeRecorder()

	surface := timeline.New(
		timeline.WithRecorder(recorder),
		timeline.WithFFmpeg(cfg.Sink.FFmpegPath, cfg.Sink.FFmpegTimeout),
		timeline.WithLogger(log),
	)

	hub := notify.NewHub(log)
	defer hub.Close()
	observers := notify.NewFanout(notify.NewLogObserver(log), hub)

	if cfg.MQTT.Enabled {
		client, err := notify.DialMQTT(cfg.MQTT, log)
		if err != nil {
			// Events still reach the log and the WebSocket hub
			log.WithError(err).Warn("MQTT unavailable, continuing without it")
		} else {
			mq := notify.NewMQTTObserver(client, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, 256, log)
			defer mq.Close()
			observers.Add(mq)
		}
	}

	loop := eventloop.New()
	defer loop.Close()

	playerCfg := player.ConfigFrom(&cfg.Player)
	userAgent := http.Header{"User-Agent": {version.GetInfo().Short()}}
	p := player.New(loop, surface,
		player.WithConfig(playerCfg),
		player.WithLogger(log),
		player.WithObserver(observers),
		player.WithArtifactStore(store),
		player.WithChannelFactory(func() ingest.Channel {
			return ingest.NewWebSocketChannel(playerCfg.Ingest,
				ingest.WithLogger(log),
				ingest.WithHeader(userAgent))
		}),
	)
	defer p.Destroy()

	opts := []server.Option{
		server.WithPlayer(p),
		server.WithArtifacts(store),
		server.WithEvents(hub),
		server.WithHealthChecker(health.NewFFmpegChecker(cfg.Sink.FFmpegPath, cfg.Sink.FFmpegTimeout)),
		server.WithHealthChecker(health.NewDirChecker("artifacts", store.Dir())),
	}

	if cfg.Redis.Enabled {
		client := newRedisClient(cfg.Redis)
		defer client.Close()

		reg := registry.NewRedisRegistry(client, log, cfg.Redis.SessionTTL)
		host, _ := os.Hostname()
		hb := registry.NewHeartbeat(reg, registry.PlayerSnapshot(p, host, cfg.Player.ChannelID), cfg.Redis.HeartbeatInterval, log)

		hbDone := make(chan struct{})
		go func() {
			defer close(hbDone)
			hb.Run(ctx)
		}()
		// Unregister before the player is destroyed
		defer func() {
			cancel()
			<-hbDone
		}()

		opts = append(opts, server.WithHealthChecker(health.NewRedisChecker(client)))
	}

	srv := server.New(&cfg.Server, log, opts...)

	if cfg.Player.URL != "" {
		if err := p.Start(ctx, cfg.Player.URL); err != nil {
			log.WithError(err).WithField("url", cfg.Player.URL).Error("Failed to start player")
		}
	}

	return srv.Start(ctx)
}

func newRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addresses[0],
		Password:     cfg.Password,
		DB:           cfg.DB,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}

// openRecorder opens the file appended media is written to. An empty path
// discards it.
func openRecorder(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}

func startMetricsServer(cfg config.MetricsConfig, log logger.Logger) {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.Handler())

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("Starting metrics server")

	if err := http.ListenAndServe(addr, mux); err != nil {
		log.WithError(err).Error("Metrics server error")
	}
}
