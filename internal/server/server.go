// Package server runs the companion HTTP API: a thin JSON and websocket
// surface over the merchant shield client for dashboards and scripts.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/merchantshield/internal/config"
	"github.com/mbd888/merchantshield/internal/health"
	"github.com/mbd888/merchantshield/internal/logging"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/ratelimit"
	"github.com/mbd888/merchantshield/internal/realtime"
	"github.com/mbd888/merchantshield/internal/shield"
	"github.com/mbd888/merchantshield/internal/traces"
)

// Version is reported by /health.
const Version = "0.1.0"

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	client         *shield.Client
	hub            *realtime.Hub
	health         *health.Registry
	loginLimiter   *ratelimit.Limiter
	analyzeLimiter *ratelimit.Limiter
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	shieldOpts     []shield.Option
	drainDelay     time.Duration
	cancelRunCtx   context.CancelFunc
	stopTracing    func(context.Context) error
	shutdownOnce   sync.Once
	shutdownErr    error

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithShieldOptions passes options through to the client (for testing)
func WithShieldOptions(opts ...shield.Option) Option {
	return func(s *Server) {
		s.shieldOpts = append(s.shieldOpts, opts...)
	}
}

// WithDrainDelay sets how long Shutdown waits before closing listeners
func WithDrainDelay(d time.Duration) Option {
	return func(s *Server) {
		s.drainDelay = d
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		logger:     logging.New(cfg.LogLevel, cfg.LogFormat),
		drainDelay: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	stop, err := traces.Init(context.Background(), cfg.OTLPEndpoint, "merchantshield", s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to init tracing: %w", err)
	}
	s.stopTracing = stop

	s.hub = realtime.NewHub(logging.Component(s.logger, "realtime"), cfg.AllowedOrigins)

	clientOpts := append([]shield.Option{
		shield.WithLogger(s.logger),
		shield.WithNotifier(s.hub),
	}, s.shieldOpts...)
	s.client, err = shield.New(context.Background(), cfg, clientOpts...)
	if err != nil {
		_ = s.stopTracing(context.Background())
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	s.health = health.NewRegistry(health.DefaultTimeout)
	s.client.RegisterHealth(s.health)

	s.loginLimiter = ratelimit.New(ratelimit.LoginConfig())
	s.analyzeLimiter = ratelimit.New(ratelimit.AnalyzeConfig())

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)
	return s, nil
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// Realtime feed
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})
	s.router.GET("/ws/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.hub.Stats())
	})

	v1 := s.router.Group("/v1")

	v1.POST("/signup", s.loginLimiter.Middleware(), s.signupHandler)
	v1.POST("/session", s.loginLimiter.Middleware(), s.loginHandler)
	v1.GET("/session", s.sessionHandler)
	v1.DELETE("/session", s.logoutHandler)

	v1.GET("/transactions", s.listTransactionsHandler)
	v1.GET("/merchants/:username/transactions", s.merchantTransactionsHandler)

	v1.POST("/analyze", s.analyzeLimiter.Middleware(), s.analyzeHandler)
	v1.GET("/submissions", s.submissionsHandler)
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run serves until ctx is cancelled, SIGINT or SIGTERM arrives, or the
// listener fails. It always finishes with Shutdown.
func (s *Server) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	hubCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel
	go s.hub.Run(hubCtx)

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		// Backend calls may take RequestTimeout; leave room to answer.
		WriteTimeout: s.cfg.RequestTimeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	serveErr := s.serve()

	time.AfterFunc(100*time.Millisecond, func() {
		s.ready.Store(true)
		s.logger.Info("server ready")
	})

	var runErr error
	select {
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("listen on :%s: %w", s.cfg.Port, err)
		}
	case <-ctx.Done():
		s.logger.Info("stopping", "cause", context.Cause(ctx))
	}
	return errors.Join(runErr, s.Shutdown())
}

func (s *Server) serve() <-chan error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "port", s.cfg.Port, "backend", s.cfg.APIURL)
		err := s.httpSrv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errc <- err
	}()
	return errc
}

// Shutdown drains connections, stops the hub and releases the client.
// Calls after the first return the first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() { s.shutdownErr = s.shutdown() })
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.ready.Store(false)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}
	// Let load balancers notice the failing readiness probe.
	time.Sleep(s.drainDelay)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var errs []error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
	}
	if err := s.client.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close client: %w", err))
	}
	if s.stopTracing != nil {
		if err := s.stopTracing(ctx); err != nil {
			s.logger.Warn("flush traces", "error", err)
		}
	}

	err := errors.Join(errs...)
	if err != nil {
		s.logger.Error("server stopped with errors", "error", err)
	} else {
		s.logger.Info("server stopped")
	}
	return err
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Client returns the underlying merchant shield client
func (s *Server) Client() *shield.Client {
	return s.client
}

// Hub returns the realtime hub
func (s *Server) Hub() *realtime.Hub {
	return s.hub
}
