package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/smartstay/booking-core/internal/config"
	"github.com/smartstay/booking-core/internal/database"
	"github.com/smartstay/booking-core/internal/handlers"
	"github.com/smartstay/booking-core/internal/middleware"
	"github.com/smartstay/booking-core/internal/models"
	"github.com/smartstay/booking-core/internal/services"
	"github.com/smartstay/booking-core/pkg/bookingapi"
	"github.com/smartstay/booking-core/pkg/jwt"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	logger.Info("Starting SmartStay booking core")
	logger.Infof("Version: %s, Build Time: %s", version, buildTime)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}

	// Set log level
	logLevel, err := logrus.ParseLevel(cfg.Server.LogLevel)
	if err != nil {
		logger.Warn("Invalid log level, using INFO")
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	// Set Gin mode
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// Payment audit database (optional: audits fall back to the log)
	var (
		db        *sqlx.DB
		auditRepo *database.PaymentAuditRepository
	)
	if cfg.Database.URL != "" {
		db, err = database.NewConnection(cfg.Database, logger)
		if err != nil {
			logger.Fatalf("Failed to connect to database: %v", err)
		}
		defer db.Close()
		auditRepo = database.NewPaymentAuditRepository(db, logger)
		logger.Info("Database connection established")
	} else {
		logger.Warn("DATABASE_URL not set - payment audits are written to the log only")
	}

	// Draft snapshot store (optional: drafts live in memory only)
	var (
		redisClient *redis.Client
		draftStore  services.DraftStore
	)
	if cfg.Redis.Enabled {
		redisClient, err = database.NewRedisClient(cfg.Redis)
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable - draft sessions will not survive a restart")
		} else {
			defer redisClient.Close()
			draftStore = database.NewDraftRepository(redisClient, cfg.Draft.TTL)
			logger.Info("Redis connection established")
		}
	}

	// Booking event broker (optional)
	var events services.EventPublisher = services.NopPublisher{}
	var rabbit *services.RabbitPublisher
	if cfg.Broker.Enabled {
		rabbit = services.NewRabbitPublisher(cfg.Broker.URL, cfg.Broker.Queue, logger)
		events = rabbit
		logger.WithField("queue", cfg.Broker.Queue).Info("Booking events will be published to RabbitMQ")
	}

	// Initialize services
	logger.Info("Initializing services...")
	jwtService := jwt.NewService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry)
	bookingAPI := bookingapi.NewClient(cfg.BookingAPI.BaseURL, cfg.BookingAPI.Timeout, logger)
	gateway := services.NewGatewayService(&cfg.Payment, logger)

	var audits services.PaymentAuditLogger = logAudits{logger: logger}
	if auditRepo != nil {
		audits = auditRepo
	}

	draftService := services.NewDraftSessionService(
		draftStore,
		bookingAPI,
		services.NewPricingCalculator(),
		services.DraftSessionConfig{
			Debounce:            cfg.Availability.Debounce,
			AvailabilityTimeout: cfg.BookingAPI.Timeout,
			TTL:                 cfg.Draft.TTL,
			SweepInterval:       cfg.Draft.SweepInterval,
		},
		logger,
	)
	draftService.Start()
	logger.Info("✓ Draft session sweeper started")

	orchestrator := services.NewPaymentOrchestrator(
		bookingAPI,
		gateway,
		audits,
		events,
		draftService,
		services.PaymentOrchestratorConfig{CallTimeout: cfg.BookingAPI.Timeout},
		logger,
	)
	draftService.SetHolder(orchestrator)
	lifecycle := services.NewBookingLifecycleManager(bookingAPI, audits, events, cfg.Lifecycle.CancellationWindow, logger)

	// Initialize handlers
	draftHandler := handlers.NewDraftHandler(draftService, orchestrator, logger)
	var auditReader handlers.PaymentAuditReader
	if auditRepo != nil {
		auditReader = auditRepo
	}
	paymentHandler := handlers.NewPaymentHandler(orchestrator, auditReader, logger)
	bookingHandler := handlers.NewBookingHandler(lifecycle, logger)

	// Setup Gin router
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(requestLogger(logger))

	// CORS middleware
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    []string{"Content-Length", middleware.CorrelationIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Health check endpoint
	pingers := map[string]database.Pinger{}
	if db != nil {
		pingers["database"] = db
	}
	if redisClient != nil {
		pingers["redis"] = database.RedisPinger{Client: redisClient}
	}
	router.GET("/health", healthCheckHandler(pingers, draftService))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Booking wizard (guests may book without an account)
		drafts := v1.Group("/drafts")
		drafts.Use(middleware.OptionalAuth(jwtService))
		{
			drafts.POST("", draftHandler.Create)
			drafts.GET("/:id", draftHandler.Get)
			drafts.DELETE("/:id", draftHandler.Discard)
			drafts.PUT("/:id/dates", draftHandler.SetDates)
			drafts.PUT("/:id/guests", draftHandler.SetGuests)
			drafts.PUT("/:id/guest-details", draftHandler.SetGuestDetails)
			drafts.POST("/:id/rooms/:room_id", draftHandler.SelectRoom)
			drafts.DELETE("/:id/rooms/:room_id", draftHandler.DeselectRoom)
			drafts.POST("/:id/addons/:addon_id", draftHandler.AddAddon)
			drafts.DELETE("/:id/addons/:addon_id", draftHandler.RemoveAddon)
			drafts.POST("/:id/advance", draftHandler.Advance)
			drafts.POST("/:id/back", draftHandler.Back)
			drafts.POST("/:id/submit", draftHandler.Submit)
		}

		// Gateway widget outcomes
		payments := v1.Group("/payments/sessions")
		payments.Use(middleware.OptionalAuth(jwtService))
		{
			payments.POST("/:session_id/callback", paymentHandler.Callback)
			payments.POST("/:session_id/dismiss", paymentHandler.Dismiss)
		}

		// Customer booking tracking and cancellation
		bookings := v1.Group("/bookings")
		bookings.Use(middleware.OptionalAuth(jwtService))
		{
			bookings.GET("/track", bookingHandler.Track)
			bookings.POST("/:id/cancel", bookingHandler.Cancel)
		}

		// Staff routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthMiddleware(jwtService))
		admin.Use(middleware.RequireRole(models.RoleStaff, models.RoleAdmin))
		{
			admin.GET("/bookings/:id", bookingHandler.Get)
			admin.POST("/bookings/:id/confirm", bookingHandler.Confirm)
			admin.POST("/bookings/:id/cancel", bookingHandler.ForceCancel)
			admin.POST("/bookings/:id/approve-cancellation", bookingHandler.ApproveCancellation)
			admin.POST("/bookings/:id/reject-cancellation", bookingHandler.RejectCancellation)
			admin.POST("/bookings/:id/payments", bookingHandler.RecordPayment)

			admin.GET("/payments/reconciliation-failures", paymentHandler.ReconciliationFailures)
			admin.GET("/payments/:payment_id/audits", paymentHandler.AuditTrail)
		}
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:           ":" + cfg.Server.Port,
		Handler:        router,
		ReadTimeout:    15 * time.Second,
		WriteTimeout:   45 * time.Second, // callbacks wait for booking creation
		IdleTimeout:    60 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	// Start server in a goroutine
	go func() {
		logger.Infof("Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// A guest may still pay in a closed checkout; that callback is recorded
	// as a reconciliation failure for staff
	if err := orchestrator.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Payment sessions did not settle before shutdown")
	}

	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	draftService.Stop()
	if rabbit != nil {
		if err := rabbit.Close(); err != nil {
			logger.WithError(err).Warn("Failed to close broker connection")
		}
	}

	logger.Info("Server exited")
}

// logAudits writes payment audits to the log when no database is configured
type logAudits struct {
	logger *logrus.Logger
}

func (l logAudits) Log(ctx context.Context, audit *models.PaymentAudit) error {
	l.logger.WithFields(logrus.Fields{
		"audit_event":  audit.EventType,
		"audit_source": audit.EventSource,
		"session_id":   audit.SessionID,
		"booking_id":   audit.BookingID,
		"payment_id":   audit.PaymentID,
		"order_id":     audit.OrderID,
		"error":        audit.ErrorMessage,
	}).Info("Payment audit")
	return nil
}

// requestLogger is a middleware that logs HTTP requests
func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		fields := logrus.Fields{
			"status":         c.Writer.Status(),
			"method":         c.Request.Method,
			"path":           path,
			"query":          query,
			"ip":             c.ClientIP(),
			"latency_ms":     latency.Milliseconds(),
			"user_agent":     c.Request.UserAgent(),
			"correlation_id": middleware.GetCorrelationID(c),
			"has_auth":       c.GetHeader("Authorization") != "",
		}

		// Add user context if available
		if userID, exists := c.Get("user_id"); exists {
			fields["user_id"] = userID
		}
		if roles, exists := c.Get("roles"); exists {
			fields["roles"] = roles
		}

		entry := logger.WithFields(fields)

		if len(c.Errors) > 0 {
			for i, err := range c.Errors {
				entry = entry.WithField(fmt.Sprintf("error_%d", i), err.Error())
			}
			entry.Error("Request failed with errors")
			return
		}

		// Log based on status code
		status := c.Writer.Status()
		if status >= 500 {
			entry.Error("Request completed with server error")
		} else if status >= 400 {
			entry.Warn("Request completed with client error")
		} else {
			entry.Info("Request completed successfully")
		}
	}
}

// healthCheckHandler reports the backing stores and the live draft count
func healthCheckHandler(pingers map[string]database.Pinger, drafts *services.DraftSessionService) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := gin.H{
			"status":        "healthy",
			"version":       version,
			"active_drafts": drafts.Count(),
			"timestamp":     time.Now().Unix(),
		}

		for name, p := range pingers {
			if err := p.PingContext(ctx); err != nil {
				body[name] = "unhealthy"
				body["status"] = "unhealthy"
				status = http.StatusServiceUnavailable
				continue
			}
			body[name] = "healthy"
		}

		c.JSON(status, body)
	}
}
