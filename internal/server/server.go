package server

import (
	"context"
	"crypto/tls"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	_ "net/http/pprof" // Import for side effects (registers pprof handlers)
	"time"

	"github.com/gorilla/mux"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/camview/internal/artifact"
	"github.com/zsiec/camview/internal/config"
	"github.com/zsiec/camview/internal/errors"
	"github.com/zsiec/camview/internal/health"
	"github.com/zsiec/camview/internal/logger"
	"github.com/zsiec/camview/internal/player"
	"github.com/zsiec/camview/internal/player/media"
)

// Player is the control surface the API drives.
type Player interface {
	Start(ctx context.Context, url string) error
	Pause() error
	Restart(ctx context.Context) error
	Stop() error
	Destroy()
	SetPlayMode(playback bool) error
	SetSpeed(speed float64, reverse bool) error
	SetHidden(hidden bool) error
	Stats(ctx context.Context) (player.Stats, error)
	Snapshot(ctx context.Context) (media.Artifact, error)
	StartCapture(d time.Duration) error
	StopAndExportCapture(ctx context.Context) (media.Artifact, error)
}

// ArtifactStore serves saved captures and snapshots.
type ArtifactStore interface {
	Open(name string) (io.ReadSeekCloser, artifact.Info, error)
	List() ([]artifact.Info, error)
	Delete(name string) error
}

// Server is the control API. It always listens on plain HTTP and, when
// enabled, on HTTP/3.
type Server struct {
	config       *config.ServerConfig
	router       *mux.Router
	handler      http.Handler
	http3Server  *http3.Server
	httpServer   *http.Server
	logger       logger.Logger
	healthMgr    *health.Manager
	errorHandler *errors.ErrorHandler
	limiter      *clientLimiter

	player    Player
	artifacts ArtifactStore
	events    http.Handler

	routesReady      bool
	additionalRoutes []func(*mux.Router)
}

type Option func(*Server)

func WithPlayer(p Player) Option {
	return func(s *Server) { s.player = p }
}

func WithArtifacts(store ArtifactStore) Option {
	return func(s *Server) { s.artifacts = store }
}

// WithEvents mounts h (usually a notify.Hub) as the player event stream.
func WithEvents(h http.Handler) Option {
	return func(s *Server) { s.events = h }
}

// WithHealthChecker registers an extra checker with the server's manager.
func WithHealthChecker(c health.Checker) Option {
	return func(s *Server) { s.healthMgr.Register(c) }
}

func New(cfg *config.ServerConfig, log logger.Logger, opts ...Option) *Server {
	log = logger.WithComponent(logger.OrNull(log), "server")

	s := &Server{
		config:           cfg,
		router:           mux.NewRouter(),
		logger:           log,
		healthMgr:        health.NewManager(log),
		errorHandler:     errors.NewErrorHandler(log, classify),
		additionalRoutes: make([]func(*mux.Router), 0),
	}
	if cfg.RateLimit > 0 {
		s.limiter = newClientLimiter(cfg.RateLimit, cfg.RateLimitBurst)
	}
	for _, opt := range opts {
		opt(s)
	}

	s.registerHealthCheckers()
	return s
}

// Start serves until ctx is cancelled, then shuts down.
func (s *Server) Start(ctx context.Context) error {
	s.setupRoutes()

	go s.healthMgr.StartPeriodicChecks(ctx, 30*time.Second)

	errCh := make(chan error, 2)

	s.httpServer = &http.Server{
		Addr:        fmt.Sprintf(":%d", s.config.HTTPPort),
		Handler:     s.handler,
		ReadTimeout: s.config.ReadTimeout,
		// Long-lived event streams manage their own write deadlines
		WriteTimeout: 0,
	}
	go func() {
		s.logger.WithField("port", s.config.HTTPPort).Info("Starting HTTP server")
		if err := s.httpServer.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	if s.config.EnableHTTP3 {
		if err := s.startHTTP3Server(errCh); err != nil {
			_ = s.httpServer.Close()
			return fmt.Errorf("failed to start HTTP/3 server: %w", err)
		}
	}

	select {
	case err := <-errCh:
		_ = s.Shutdown()
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
		return s.Shutdown()
	}
}

func (s *Server) startHTTP3Server(errCh chan<- error) error {
	cert, err := tls.LoadX509KeyPair(s.config.TLSCertFile, s.config.TLSKeyFile)
	if err != nil {
		return fmt.Errorf("failed to load TLS certificates: %w", err)
	}

	s.http3Server = &http3.Server{
		Addr:    fmt.Sprintf(":%d", s.config.HTTP3Port),
		Handler: s.handler,
		TLSConfig: http3.ConfigureTLSConfig(&tls.Config{
			MinVersion:   tls.VersionTLS13,
			Certificates: []tls.Certificate{cert},
		}),
		QUICConfig: &quic.Config{
			MaxIncomingStreams: s.config.MaxIncomingStreams,
			MaxIdleTimeout:     s.config.MaxIdleTimeout,
		},
	}

	go func() {
		s.logger.WithField("port", s.config.HTTP3Port).Info("Starting HTTP/3 server")
		if err := s.http3Server.ListenAndServe(); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http3: %w", err)
		}
	}()
	return nil
}

// Shutdown stops both listeners, waiting up to the configured shutdown
// timeout for in-flight requests.
func (s *Server) Shutdown() error {
	s.logger.Info("Shutting down server")

	var errs []error
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	// http3.Server.Close doesn't support context-based shutdown
	if s.http3Server != nil {
		if err := s.http3Server.Close(); err != nil {
			errs = append(errs, fmt.Errorf("http3 shutdown: %w", err))
		}
	}

	if err := stderrors.Join(errs...); err != nil {
		return err
	}
	s.logger.Info("Server shutdown complete")
	return nil
}

func (s *Server) setupRoutes() {
	if s.routesReady {
		return
	}
	s.routesReady = true

	s.router.Use(logger.RequestLoggerMiddleware(s.logger))
	s.router.Use(s.errorHandler.Middleware)
	s.router.Use(s.metricsMiddleware)
	s.router.Use(s.altSvcMiddleware)
	s.router.Use(s.rateLimitMiddleware)

	healthHandler := health.NewHandler(s.healthMgr)
	s.router.HandleFunc("/health", healthHandler.HandleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", healthHandler.HandleReady).Methods(http.MethodGet)
	s.router.HandleFunc("/live", healthHandler.HandleLive).Methods(http.MethodGet)

	s.router.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	if s.player != nil {
		s.registerPlayerRoutes(api)
	}
	if s.artifacts != nil {
		s.registerArtifactRoutes(api)
	}

	if s.config.DebugEndpoints {
		s.setupDebugEndpoints()
	}

	for _, registerFunc := range s.additionalRoutes {
		registerFunc(s.router)
	}

	s.router.NotFoundHandler = http.HandlerFunc(s.errorHandler.HandleNotFound)
	s.router.MethodNotAllowedHandler = http.HandlerFunc(s.errorHandler.HandleMethodNotAllowed)

	// CORS wraps the router so preflights reach it before method matching
	s.handler = s.corsMiddleware(s.router)
}

func (s *Server) registerHealthCheckers() {
	if s.player != nil {
		s.healthMgr.Register(health.NewPlayerChecker(s.player))
	}
}

func (s *Server) setupDebugEndpoints() {
	s.logger.Info("Enabling debug endpoints")

	s.router.PathPrefix("/debug/pprof/").Handler(http.DefaultServeMux)
	s.router.HandleFunc("/debug/info", func(w http.ResponseWriter, r *http.Request) {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"protocols": map[string]bool{
				"http11": true,
				"http3":  s.config.EnableHTTP3,
			},
			"ports": map[string]int{
				"http":  s.config.HTTPPort,
				"http3": s.config.HTTP3Port,
			},
			"rate_limit":    s.config.RateLimit,
			"debug_enabled": true,
		})
	}).Methods(http.MethodGet)
}

// RegisterRoutes adds route handlers applied when the server starts.
func (s *Server) RegisterRoutes(registerFunc func(*mux.Router)) {
	s.additionalRoutes = append(s.additionalRoutes, registerFunc)
}

// Handler returns the fully routed handler without starting listeners.
func (s *Server) Handler() http.Handler {
	s.setupRoutes()
	return s.handler
}

func (s *Server) HealthManager() *health.Manager {
	return s.healthMgr
}
