// Package server wires the Swapyard HTTP API together: storage, the trade
// lifecycle service, the expiry scheduler, notification fan-out, and the
// realtime WebSocket hub.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/swapyard/swapyard/internal/config"
	"github.com/swapyard/swapyard/internal/health"
	"github.com/swapyard/swapyard/internal/idgen"
	"github.com/swapyard/swapyard/internal/logging"
	"github.com/swapyard/swapyard/internal/metrics"
	"github.com/swapyard/swapyard/internal/notify"
	"github.com/swapyard/swapyard/internal/ratelimit"
	"github.com/swapyard/swapyard/internal/realtime"
	"github.com/swapyard/swapyard/internal/resource"
	"github.com/swapyard/swapyard/internal/security"
	"github.com/swapyard/swapyard/internal/trade"
	"github.com/swapyard/swapyard/internal/traces"
	"github.com/swapyard/swapyard/internal/validation"
)

// Server wraps the HTTP server and its dependencies.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db *sql.DB

	ledger       resource.Ledger
	tradeStore   trade.Store
	tradeService *trade.Service
	scheduler    *trade.Scheduler
	notifyStore  notify.Store
	hub          *realtime.Hub

	limiter *ratelimit.Limiter
	checks  *health.Registry

	router  *gin.Engine
	httpSrv *http.Server

	tracerShutdown func(context.Context) error
	cancelRun      context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// New creates a fully wired server from configuration. Storage is Postgres
// when DATABASE_URL is set, otherwise everything runs in memory.
func New(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logger,
		checks: health.NewRegistry(),
	}
	s.healthy.Store(true)

	if err := s.initStorage(); err != nil {
		return nil, err
	}

	tracerShutdown, err := traces.Init(context.Background(), cfg.OTLPEndpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("init traces: %w", err)
	}
	s.tracerShutdown = tracerShutdown

	s.hub = realtime.NewHub(logger)

	emitter := notify.NewEmitter(s.notifyStore, s.hub, logger)
	s.tradeService = trade.NewService(s.tradeStore, emitter).WithTTL(cfg.TradeTTL)
	s.scheduler = trade.NewScheduler(s.tradeService, s.tradeStore, logger).
		WithTiming(cfg.ExpirySweepEvery, cfg.ExpiryRetryBackoff)

	s.limiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: cfg.RateLimitRPS * 60,
		BurstSize:         cfg.RateLimitRPS,
		CleanupInterval:   time.Minute,
	})

	s.checks.Register("hub", func(ctx context.Context) health.Status {
		return health.Up("hub")
	})

	s.setupRouter()

	return s, nil
}

// initStorage selects Postgres or in-memory storage based on configuration.
func (s *Server) initStorage() error {
	if s.cfg.DatabaseURL == "" {
		s.logger.Info("using in-memory storage (DATABASE_URL not set)")
		ledger := resource.NewMemoryLedger()
		s.ledger = ledger
		s.tradeStore = trade.NewMemoryStore(ledger)
		s.notifyStore = notify.NewMemoryStore()
		return nil
	}

	db, err := sql.Open("postgres", s.cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("ping database: %w", err)
	}

	s.logger.Info("using postgres storage", "dsn", maskDSN(s.cfg.DatabaseURL))
	s.db = db
	s.ledger = resource.NewPostgresLedger(db)
	s.tradeStore = trade.NewPostgresStore(db)
	s.notifyStore = notify.NewPostgresStore(db)

	s.checks.Register("database", func(ctx context.Context) health.Status {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return health.Down("database", err)
		}
		return health.Up("database")
	})

	return nil
}

// maskDSN hides credentials in a connection string for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "(unparseable)"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.Redacted()
}

func (s *Server) setupRouter() {
	if s.cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		s.logger.Error("panic recovered", "panic", recovered, "path", c.Request.URL.Path)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Internal server error",
		})
	}))
	router.Use(security.HeadersMiddleware())
	router.Use(security.CORSMiddleware(nil))
	router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))
	router.Use(s.limiter.Middleware())
	router.Use(metrics.Middleware())
	router.Use(s.requestIDMiddleware())
	router.Use(s.loggingMiddleware())

	router.GET("/health", s.handleHealth)
	router.GET("/health/live", s.handleLive)
	router.GET("/health/ready", s.handleReady)
	router.GET("/metrics", metrics.Handler())

	v1 := router.Group("/v1")
	v1.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	resource.NewHandler(s.ledger).RegisterRoutes(v1)
	trade.NewHandler(s.tradeService).RegisterRoutes(v1)
	notify.NewHandler(s.notifyStore).RegisterRoutes(v1)

	s.router = router
}

// requestIDMiddleware attaches a request ID and request-scoped logger to the
// context and echoes the ID back in the X-Request-ID header.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.New()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		status := c.Writer.Status()
		attrs := []interface{}{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", logging.RequestID(c.Request.Context()),
		}
		switch {
		case status >= 500:
			s.logger.Error("request", attrs...)
		case status >= 400:
			s.logger.Warn("request", attrs...)
		default:
			s.logger.Info("request", attrs...)
		}
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	healthy, statuses := s.checks.CheckAll(c.Request.Context())
	code := http.StatusOK
	if !healthy || !s.healthy.Load() {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"healthy": healthy && s.healthy.Load(),
		"checks":  statuses,
	})
}

func (s *Server) handleLive(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) handleReady(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Run starts the server and blocks until the context is cancelled or a
// shutdown signal arrives.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRun = cancel

	go s.hub.Run(runCtx)
	go s.scheduler.Start(runCtx)
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "port", s.cfg.Port, "env", s.cfg.Env)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	// Mark ready once the listener has had a moment to bind.
	time.AfterFunc(100*time.Millisecond, func() {
		s.ready.Store(true)
	})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown stops accepting traffic, drains in-flight requests, and stops the
// background workers.
func (s *Server) Shutdown() error {
	s.ready.Store(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var firstErr error
	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(shutdownCtx); err != nil {
			firstErr = fmt.Errorf("http shutdown: %w", err)
		}
	}

	s.scheduler.Stop()
	s.limiter.Stop()
	if s.cancelRun != nil {
		s.cancelRun()
	}

	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(shutdownCtx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("tracer shutdown: %w", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("db close: %w", err)
		}
	}

	s.logger.Info("server stopped")
	return firstErr
}
