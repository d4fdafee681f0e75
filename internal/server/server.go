// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"

	"github.com/trustgrid/oracle/internal/attest"
	"github.com/trustgrid/oracle/internal/config"
	"github.com/trustgrid/oracle/internal/features"
	"github.com/trustgrid/oracle/internal/health"
	"github.com/trustgrid/oracle/internal/history"
	"github.com/trustgrid/oracle/internal/logging"
	"github.com/trustgrid/oracle/internal/metrics"
	"github.com/trustgrid/oracle/internal/oracle"
	"github.com/trustgrid/oracle/internal/ratelimit"
	"github.com/trustgrid/oracle/internal/realtime"
	"github.com/trustgrid/oracle/internal/scoring"
	"github.com/trustgrid/oracle/internal/security"
	"github.com/trustgrid/oracle/internal/traces"
	"github.com/trustgrid/oracle/internal/validation"
	"github.com/trustgrid/oracle/internal/webhooks"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg           *config.Config
	engine        *scoring.Engine
	signer        *attest.Signer
	oracleSvc     *oracle.Service
	snapshots     history.Store
	supplier      features.Supplier
	webhookStore  webhooks.Store
	webhookEmit   *webhooks.Emitter
	realtimeHub   *realtime.Hub
	rateLimiter   *ratelimit.Limiter
	healthReg     *health.Registry
	db            *sql.DB // nil if using in-memory
	router        *gin.Engine
	httpSrv       *http.Server
	logger        *slog.Logger
	tracesCleanup func(context.Context) error
	cancelRunCtx  context.CancelFunc // cancels background goroutines started in Run

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

// WithSupplier sets a feature supplier used when requests omit features
func WithSupplier(sup features.Supplier) Option {
	return func(s *Server) {
		s.supplier = sup
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		engine: scoring.NewEngine(),
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set supplier/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// The oracle address every verified update must be signed by. Derived
	// from the signing key when one is loaded; otherwise left zero and set
	// later via the admin API.
	oracleAddr := common.Address{}
	if cfg.OracleKey != "" {
		key, err := crypto.HexToECDSA(stripHexPrefix(cfg.OracleKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse oracle key: %w", err)
		}
		oracleAddr = crypto.PubkeyToAddress(key.PublicKey)
	}

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var store oracle.Store
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		pgStore := oracle.NewPostgresStore(db)
		if err := pgStore.Seed(ctx, oracleAddr, uint16(cfg.TrustThreshold)); err != nil {
			return nil, fmt.Errorf("failed to seed oracle state: %w", err)
		}
		store = pgStore
		s.snapshots = history.NewPostgresStore(db)
		s.webhookStore = webhooks.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		store = oracle.NewMemoryStore(oracleAddr, uint16(cfg.TrustThreshold))
		s.snapshots = history.NewMemoryStore()
		s.webhookStore = webhooks.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create realtime hub for WebSocket streaming
	s.realtimeHub = realtime.NewHub(s.logger)
	s.logger.Info("realtime streaming enabled")

	// Webhook delivery for external consumers
	s.webhookEmit = webhooks.NewEmitter(webhooks.NewDispatcher(s.webhookStore), s.logger)

	// Oracle service notifications: structured log, realtime hub, webhooks
	notifier := oracle.MultiNotifier{
		oracle.LogNotifier{Logger: s.logger},
		realtime.NewNotifier(s.realtimeHub),
		s.webhookEmit,
	}
	s.oracleSvc = oracle.NewService(
		store,
		common.HexToAddress(cfg.AdminAddress),
		time.Duration(cfg.FreshnessSeconds)*time.Second,
		notifier,
		s.logger,
	)
	metrics.TrustThreshold.Set(float64(cfg.TrustThreshold))

	// Attestation signer reads nonces from the same service the verifier
	// uses, so a signed payload always matches what the store will check.
	signer, err := attest.NewSigner(cfg.OracleKey, attest.TagFromString(cfg.SourceTag), s.oracleSvc)
	if err != nil {
		return nil, fmt.Errorf("failed to create signer: %w", err)
	}
	s.signer = signer
	if signer.Ready() {
		s.logger.Info("attestation signing enabled", "oracle", signer.Address().Hex())
	} else {
		s.logger.Warn("no oracle key loaded, running read-only")
	}

	// Health checks
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("signer", func(ctx context.Context) health.Status {
		if !s.signer.Ready() {
			return health.Status{Name: "signer", Healthy: true, Detail: "read-only (no key)"}
		}
		return health.Status{Name: "signer", Healthy: true}
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

	return s, nil
}

func stripHexPrefix(key string) string {
	if len(key) >= 2 && key[:2] == "0x" {
		return key[2:]
	}
	return key
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limitCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPS > 0 {
		limitCfg.RequestsPerMinute = s.cfg.RateLimitRPS * 60
	}
	s.rateLimiter = ratelimit.New(limitCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// adminAuthMiddleware guards administrative routes with a shared secret.
func (s *Server) adminAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminSecret == "" || c.GetHeader("X-Admin-Secret") != s.cfg.AdminSecret {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":   "unauthorized",
				"message": "Administrative operations are restricted",
			})
			return
		}
		c.Next()
	}
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

	// WebSocket for real-time streaming
	s.router.GET("/ws", func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	// Scoring and attestation issuance
	scoreHandler := attest.NewHandler(s.engine, s.signer, s.snapshots, s.supplier)
	scoreHandler.OnComputed = func(account common.Address, res *scoring.Result) {
		s.realtimeHub.Broadcast(&realtime.Event{
			Type:      realtime.EventScoreComputed,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"account":    account.Hex(),
				"score":      float64(res.Score),
				"tier":       string(scoring.TierFor(res.Score)),
				"confidence": res.Confidence,
			},
		})
		s.webhookEmit.EmitScoreComputed(account, res)
	}
	scoreHandler.RegisterRoutes(v1)

	// Oracle store: verified updates plus read queries
	oracleHandler := oracle.NewHandler(s.oracleSvc, common.HexToAddress(s.cfg.AdminAddress))
	oracleHandler.RegisterRoutes(v1)

	// Score history
	historyHandler := history.NewHandler(s.snapshots)
	historyHandler.RegisterRoutes(v1)

	// Webhook subscriptions
	webhookHandler := webhooks.NewHandler(s.webhookStore)
	webhookHandler.RegisterRoutes(v1)

	// Administrative routes (shared secret)
	admin := v1.Group("/admin")
	admin.Use(s.adminAuthMiddleware())
	oracleHandler.RegisterAdminRoutes(admin)
	admin.GET("/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp string            `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, statuses := s.healthReg.CheckAll(ctx)

	checks := make(map[string]string, len(statuses))
	for _, st := range statuses {
		if st.Healthy {
			checks[st.Name] = "healthy"
		} else {
			checks[st.Name] = "unhealthy"
		}
	}

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (s *Server) infoHandler(c *gin.Context) {
	signing := "read-only"
	if s.signer.Ready() {
		signing = "enabled"
	}
	c.JSON(http.StatusOK, gin.H{
		"name":        "TrustGrid Oracle",
		"description": "Trust-score oracle with signed attestations",
		"version":     "0.1.0",
		"signing":     signing,
		"sourceTag":   s.cfg.SourceTag,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Distributed tracing (no-op without an OTLP endpoint)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracesCleanup = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Periodic DB stats collection
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, collectors)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush traces
	if s.tracesCleanup != nil {
		if err := s.tracesCleanup(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
