package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/net/netutil"

	apihttp "github.com/GriffinCanCode/termhost/internal/api/http"
	"github.com/GriffinCanCode/termhost/internal/api/middleware"
	"github.com/GriffinCanCode/termhost/internal/api/ws"
	"github.com/GriffinCanCode/termhost/internal/auth"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/config"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/logging"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/termhost/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/termhost/internal/terminal"
	"github.com/GriffinCanCode/termhost/internal/terminal/account"
	"github.com/GriffinCanCode/termhost/internal/terminal/process"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	router   *gin.Engine
	http     *http.Server
	registry *terminal.Registry
	hub      *ws.Hub
	logger   *logging.Logger
	config   *config.Config
	metrics  *monitoring.Metrics
	tracer   *tracing.Tracer
}

// NewServer creates a new server instance
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		Sampling:    cfg.Logging.Sampling,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	logger.Info("Initializing terminal host",
		zap.String("addr", cfg.Server.Address()),
		zap.String("account_mode", cfg.Account.Mode),
		zap.String("shell", cfg.Terminal.Shell),
		zap.String("workspace_root", cfg.Terminal.WorkspaceRoot),
	)

	// Initialize metrics first (needed by other components)
	metrics := monitoring.NewMetrics()
	tracer := tracing.New(tracing.Config{Service: "termhost", SlowThreshold: time.Second}, logger)

	accounts, err := newProvisioner(cfg, logger, metrics)
	if err != nil {
		tracer.Close()
		return nil, err
	}

	spawner := process.NewSpawner(process.Config{
		Shell:          cfg.Terminal.Shell,
		ShellArgs:      cfg.Terminal.ShellArgs,
		Cols:           cfg.Terminal.Cols,
		Rows:           cfg.Terminal.Rows,
		ScrollbackSize: cfg.Terminal.ScrollbackSize,
		PrimeShell:     cfg.Terminal.PrimeShell,
		ReadyTimeout:   cfg.Terminal.ReadyTimeout,
	}, logger, metrics)

	registry := terminal.NewRegistry(terminal.Config{
		WorkspaceRoot:      cfg.Terminal.WorkspaceRoot,
		HomeRoot:           cfg.Account.HomeRoot,
		Shell:              cfg.Terminal.Shell,
		GracePeriod:        cfg.Terminal.GracePeriod,
		RemoveAccount:      cfg.Account.RemoveOnDelete,
		RefuseRootFallback: !cfg.Account.AllowRootFallback,
	}, accounts, spawner, logger, metrics)

	hub := ws.NewHub(registry, logger, metrics)
	registry.SetListener(hub)

	verifier := auth.New(cfg.Auth)
	if _, presenceOnly := verifier.(auth.PresenceVerifier); presenceOnly {
		logger.Warn("AUTH_JWT_SECRET is not set, handshake tokens are only checked for presence")
	}
	gateway := ws.NewGateway(ws.Config{AllowedOrigins: cfg.Server.AllowedOrigins},
		registry, hub, verifier, logger, metrics, tracer)

	// Create router
	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// Add middleware
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.RequestLogger(logger))
	router.Use(tracing.HTTPMiddleware(tracer))
	router.Use(monitoring.Middleware(metrics))

	corsConfig := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.Server.AllowedOrigins
	}
	router.Use(middleware.CORS(corsConfig))

	if cfg.RateLimit.Enabled {
		logger.Info("Rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		limits := middleware.DefaultRateLimitConfig()
		limits.RequestsPerSecond = cfg.RateLimit.RequestsPerSecond
		limits.Burst = cfg.RateLimit.Burst
		router.Use(middleware.RateLimit(limits))
	}

	handlers := apihttp.NewHandlers(registry, logger)

	// Register routes
	router.GET("/health", handlers.Health)
	router.GET("/metrics", monitoring.Handler(metrics))

	// Terminal sessions
	router.POST("/terminal/create-session", handlers.CreateSession)
	router.GET("/terminal/sessions", handlers.ListSessions)
	router.GET("/terminal/session/:userId", handlers.GetSession)
	router.DELETE("/terminal/session/:userId", handlers.DeleteSession)

	// WebSocket
	router.GET("/terminal/ws", gateway.Handle)

	logger.Info("Server initialized successfully")

	return &Server{
		router:   router,
		http:     &http.Server{Addr: cfg.Server.Address(), Handler: router, ReadHeaderTimeout: 10 * time.Second},
		registry: registry,
		hub:      hub,
		logger:   logger,
		config:   cfg,
		metrics:  metrics,
		tracer:   tracer,
	}, nil
}

func newProvisioner(cfg *config.Config, logger *logging.Logger, metrics *monitoring.Metrics) (account.Provisioner, error) {
	switch cfg.Account.Mode {
	case "memory":
		logger.Warn("Account mode is memory, shells run as the service user")
		return account.NewMemory(), nil
	case "host", "":
		return account.NewHost(account.HostConfig{
			HomeRoot:    cfg.Account.HomeRoot,
			ExtraGroups: cfg.Account.ExtraGroups,
			MinUID:      cfg.Account.MinUID,
			Shell:       cfg.Terminal.Shell,
		}, account.ExecRunner{}, logger, metrics), nil
	default:
		return nil, fmt.Errorf("unknown account mode %q", cfg.Account.Mode)
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Registry returns the session registry.
func (s *Server) Registry() *terminal.Registry {
	return s.registry
}

// Run starts the HTTP server and blocks until it stops. It returns nil
// after Shutdown.
func (s *Server) Run() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.http.Addr, err)
	}
	if limit := s.config.Server.MaxConnections; limit > 0 {
		ln = netutil.LimitListener(ln, limit)
	}

	s.logger.Info("Starting HTTP server",
		zap.String("addr", ln.Addr().String()),
		zap.Int("max_connections", s.config.Server.MaxConnections),
	)
	if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// SetLogLevel changes the level of every component logger.
func (s *Server) SetLogLevel(level string) error {
	if err := s.logger.SetLevel(level); err != nil {
		return err
	}
	s.logger.Info("Log level changed", zap.String("level", level))
	return nil
}

// Shutdown stops accepting requests, reaps every session and flushes
// traces and logs. It is bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down server...")

	var errs []error
	if err := s.http.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := s.registry.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}

	s.tracer.Close()
	if err := s.logger.Flush(); err != nil {
		errs = append(errs, fmt.Errorf("flush logs: %w", err))
	}

	return errors.Join(errs...)
}
